package shard

import "testing"

func TestOwns_ShardingDisabled(t *testing.T) {
	r := New(1, 0)
	for _, acct := range []int64{0, 1, 2, 77, -5} {
		if !r.Owns(acct) {
			t.Errorf("Owns(%d) = false, want true with total=1", acct)
		}
	}
}

func TestOwns_Modulo(t *testing.T) {
	r := New(4, 1)
	if r.Owns(2) {
		t.Errorf("account 2 mod 4 = 2, shard 1 should not own it")
	}
	if !r.Owns(5) {
		t.Errorf("account 5 mod 4 = 1, shard 1 should own it")
	}
}

func TestNew_ClampsInvalidIndex(t *testing.T) {
	r := New(4, 9)
	if r.Index() != 0 {
		t.Errorf("out-of-range index should clamp to 0, got %d", r.Index())
	}
}

func TestOwns_NegativeAccountID(t *testing.T) {
	r := New(4, 3)
	// -1 mod 4 in Go is -1; Owns must normalize to the positive residue (3).
	if !r.Owns(-1) {
		t.Errorf("Owns(-1) should be true for shard 3 of 4 (normalized residue)")
	}
}
