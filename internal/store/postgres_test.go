package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/disclosure-cli/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_InsertTransaction(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO house_rep_transactions`).
		WithArgs(pgxmock.AnyArg(), "Jane Doe", "Acme Corp - Common Stock", "P",
			"01/15/2025", "01/20/2025", "$1,001 - $15,000", false,
			"Purchased through brokerage.", "key-1", "completed",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := s.InsertTransaction(context.Background(), sampleTransaction(), "key-1")
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertTransaction_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO house_rep_transactions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.InsertTransaction(context.Background(), sampleTransaction(), "key-1")
	require.NoError(t, err)
	assert.False(t, inserted, "conflicting dedup key should report not-inserted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListTransactions(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"id", "owner", "asset", "transaction_type", "date", "notification_date",
		"amount", "has_large_capital_gains", "details", "dedup_key",
		"processing_status", "processed_at", "created_at",
	}).AddRow("id-1", "Jane Doe", "Acme", "P", "01/15/2025", "01/20/2025",
		"$1,001 - $15,000", true, "details", "key-1", "completed", now, now)

	mock.ExpectQuery(`SELECT id, owner, asset, transaction_type`).
		WillReturnRows(rows)

	out, err := s.ListTransactions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Jane Doe", out[0].Transaction.Owner)
	assert.True(t, out[0].Transaction.HasLargeCapitalGains)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountTransactions(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM house_rep_transactions`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO pdf_dlq`).
		WithArgs("job-1", "https://example.com/doc.pdf", "Doe, Jane", "2025", "PTR",
			"boom", "permanent", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.AddDLQEntry(context.Background(), resilience.DLQEntry{
		ID:          "job-1",
		DocumentURL: "https://example.com/doc.pdf",
		Name:        "Doe, Jane",
		FilingYear:  "2025",
		FilingType:  "PTR",
		Error:       "boom",
		ErrorType:   "permanent",
		FailedAt:    now,
	})
	require.NoError(t, err)

	mock.ExpectExec(`DELETE FROM pdf_dlq WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err = s.DeleteDLQEntry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS house_rep_transactions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
