// Package coldstore persists price ticks to the durable cold store. It
// wraps a single sqlite connection profile tuned for the persistence
// flusher's append-mostly workload, with the batched append the flusher
// calls on each cadence.
package coldstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aristath/rtve/internal/domain"
)

// Store wraps a sqlite connection tuned for high-volume append workloads.
type Store struct {
	conn *sql.DB
	path string
}

// Config configures a Store.
type Config struct {
	Path string // file path, or "file::memory:?cache=shared" for tests
}

// New opens (and migrates) the cold price store.
func New(cfg Config) (*Store, error) {
	path := cfg.Path
	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("coldstore: resolve path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("coldstore: create directory: %w", err)
		}
		path = abs
	}

	connStr := buildConnectionString(path)
	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("coldstore: open: %w", err)
	}

	// This is an append-mostly workload from a single persistence flusher
	// goroutine; a small pool avoids sqlite lock contention.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("coldstore: ping: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("coldstore: migrate: %w", err)
	}
	return s, nil
}

func buildConnectionString(path string) string {
	connStr := path + "?_pragma=journal_mode(WAL)"
	connStr += "&_pragma=synchronous(NORMAL)"
	connStr += "&_pragma=temp_store(MEMORY)"
	connStr += "&_pragma=cache_size(-32000)"
	connStr += "&_pragma=wal_autocheckpoint(1000)"
	return connStr
}

const schema = `
CREATE TABLE IF NOT EXISTS price_history (
	product_id      INTEGER NOT NULL,
	price_date      TEXT    NOT NULL,
	price_value     TEXT    NOT NULL,
	currency        TEXT    NOT NULL,
	source          TEXT    NOT NULL,
	source_priority INTEGER NOT NULL,
	created_at      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_product_date
	ON price_history (product_id, price_date);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, schema)
	return err
}

// AppendBatch writes ticks to price_history in a single transaction.
// Satisfies domain.ColdStore. Not idempotent on retry: the persistence
// flusher re-offers a batch's productIds on failure rather than this store
// deduplicating, so a partially-committed batch fails closed (whole
// transaction rolls back).
func (s *Store) AppendBatch(ctx context.Context, ticks []domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("coldstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_history
			(product_id, price_date, price_value, currency, source, source_priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("coldstore: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, t := range ticks {
		priceDate := t.Timestamp.UTC().Format("2006-01-02")
		source := "live"
		if t.Stale {
			source = "stale-carry-forward"
		}
		if _, err := stmt.ExecContext(ctx,
			t.ProductID, priceDate, t.Price.String(), t.Currency, source, t.SourcePriority, now,
		); err != nil {
			return fmt.Errorf("coldstore: insert product %d: %w", t.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("coldstore: commit: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping reports whether the store is reachable, used by the health check.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}
