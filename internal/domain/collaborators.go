package domain

import "context"

// DeadLetterSink is the external collaborator that owns DLQ storage and
// retry scheduling. The RTVE only offers records to it; it never inspects
// what happens downstream.
type DeadLetterSink interface {
	Offer(ctx context.Context, originalTopic, key string, payload []byte, cause error, kind ErrorKind) error
}

// ColdStore is the external cold price store. AppendBatch must be safe to
// call with a partially-overlapping batch (idempotent upsert-by-key on the
// caller's side is NOT assumed; the persistence flusher reinserts failed
// ids into the dirty set and replays the whole batch on the next cadence).
type ColdStore interface {
	AppendBatch(ctx context.Context, ticks []PriceTick) error
}

// SubscriberSink is the external per-account subscriber transport (REST
// query surface / WebSocket-STOMP in the real deployment). The RTVE emits
// one batch of latest valuations per account per flush window.
type SubscriberSink interface {
	Emit(ctx context.Context, accountID int64, valuations []Valuation) error
}

// WorkEnqueuer accepts a productId onto the valuation work queue. Price
// Cache and FX Cache both enqueue through this on every accepted change;
// a full queue drops the enqueue rather than blocking the caller (the
// next tick for that product will refresh state).
type WorkEnqueuer interface {
	Enqueue(productID int64)
}

// DirtyMarker records a productId as needing a persistence flush. Marking
// is idempotent: marking an already-dirty id is a no-op.
type DirtyMarker interface {
	Mark(productID int64)
}

// StaleGauge is the metrics collaborator the Price Cache's periodic
// scanner reports newly-stale counts to.
type StaleGauge interface {
	IncStale(n int)
}
