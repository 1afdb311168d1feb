package snapshot

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// LocalFileFetcher reads a msgpack-encoded snapshot from the local
// filesystem, used for single-node deployments and tests in place of
// the S3-backed fetcher.
type LocalFileFetcher struct {
	path string
	log  zerolog.Logger
}

// NewLocalFileFetcher builds a LocalFileFetcher reading from path.
func NewLocalFileFetcher(path string, log zerolog.Logger) *LocalFileFetcher {
	return &LocalFileFetcher{path: path, log: log.With().Str("component", "snapshot.localfile").Logger()}
}

// Fetch implements Fetcher.
func (f *LocalFileFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.log.Info().Str("path", f.path).Msg("no snapshot file present, starting from an empty cold load")
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("reading snapshot file %s: %w", f.path, err)
	}

	var wire wireSnapshot
	if err := msgpack.Unmarshal(raw, &wire); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot file %s: %w", f.path, err)
	}

	snap, err := wire.toSnapshot()
	if err != nil {
		return Snapshot{}, fmt.Errorf("converting snapshot file %s: %w", f.path, err)
	}

	f.log.Info().
		Int("ticks", len(snap.Ticks)).
		Int("rates", len(snap.Rates)).
		Int("accounts", len(snap.Accounts)).
		Msg("fetched warm-cache snapshot from local file")

	return snap, nil
}

// WriteLocalFile encodes snap to path, for tests and the optional
// fast-restart artifact a single-node deployment writes on shutdown.
func WriteLocalFile(path string, snap Snapshot) error {
	wire := wireSnapshot{
		TakenAt:           snap.TakenAt,
		ProductCurrencies: snap.ProductCurrencies,
	}
	for _, t := range snap.Ticks {
		wire.Ticks = append(wire.Ticks, wirePriceTick{
			ProductID:      t.ProductID,
			Price:          t.Price.String(),
			Currency:       t.Currency,
			AssetClass:     string(t.AssetClass),
			SourcePriority: t.SourcePriority,
			Timestamp:      t.Timestamp,
			Stale:          t.Stale,
		})
	}
	for _, r := range snap.Rates {
		wire.Rates = append(wire.Rates, wireFxRate{Pair: r.Pair, Rate: r.Rate.String(), Timestamp: r.Timestamp})
	}
	for _, a := range snap.Accounts {
		wa := wireAccountPositions{AccountID: a.AccountID}
		for _, p := range a.Positions {
			wa.Positions = append(wa.Positions, wirePositionDelta{AccountID: p.AccountID, ProductID: p.ProductID, Quantity: p.Quantity.String()})
		}
		wire.Accounts = append(wire.Accounts, wa)
	}

	encoded, err := msgpack.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return os.WriteFile(path, encoded, 0o644)
}
