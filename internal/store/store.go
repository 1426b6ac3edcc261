package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/disclosure-cli/internal/model"
	"github.com/sells-group/disclosure-cli/internal/resilience"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the disclosure pipeline.
// Transactions are append-only: this subsystem never updates or deletes
// persisted rows.
type Store interface {
	// Transactions. InsertTransaction reports whether a row was actually
	// inserted; a duplicate dedup key is silently skipped (false, nil).
	InsertTransaction(ctx context.Context, tx model.Transaction, dedupKey string) (bool, error)
	ListTransactions(ctx context.Context, limit int) ([]model.StoredTransaction, error)
	CountTransactions(ctx context.Context) (int, error)

	// Dead letter queue for failed PDF jobs.
	AddDLQEntry(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, limit int) ([]resilience.DLQEntry, error)
	DeleteDLQEntry(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
