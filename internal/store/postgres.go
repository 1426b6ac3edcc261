package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/disclosure-cli/internal/model"
	"github.com/sells-group/disclosure-cli/internal/resilience"
)

// Pool abstracts the pgx connection pool so tests can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a tuned connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS house_rep_transactions (
	id                      TEXT PRIMARY KEY,
	owner                   TEXT NOT NULL,
	asset                   TEXT NOT NULL,
	transaction_type        TEXT NOT NULL,
	date                    TEXT NOT NULL DEFAULT '',
	notification_date       TEXT NOT NULL DEFAULT '',
	amount                  TEXT NOT NULL DEFAULT '',
	has_large_capital_gains BOOLEAN NOT NULL DEFAULT FALSE,
	details                 TEXT NOT NULL DEFAULT '',
	dedup_key               TEXT NOT NULL,
	processing_status       TEXT NOT NULL DEFAULT 'completed',
	error                   TEXT,
	processed_at            TIMESTAMPTZ,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_dedup_key ON house_rep_transactions(dedup_key);
CREATE INDEX IF NOT EXISTS idx_transactions_owner ON house_rep_transactions(owner);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON house_rep_transactions(date);

CREATE TABLE IF NOT EXISTS pdf_dlq (
	id           TEXT PRIMARY KEY,
	document_url TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	filing_year  TEXT NOT NULL DEFAULT '',
	filing_type  TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	error_type   TEXT NOT NULL DEFAULT 'permanent',
	failed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pdf_dlq_failed_at ON pdf_dlq(failed_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// InsertTransaction appends a transaction row. ON CONFLICT DO NOTHING on the
// dedup_key index makes concurrent duplicate inserts race-safe.
func (s *PostgresStore) InsertTransaction(ctx context.Context, tx model.Transaction, dedupKey string) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO house_rep_transactions
			(id, owner, asset, transaction_type, date, notification_date, amount,
			 has_large_capital_gains, details, dedup_key, processing_status, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (dedup_key) DO NOTHING`,
		uuid.New().String(), tx.Owner, tx.Asset, tx.TransactionType, tx.Date,
		tx.NotificationDate, tx.Amount, tx.HasLargeCapitalGains,
		tx.Details, dedupKey, string(model.StatusCompleted), now, now,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert transaction")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, limit int) ([]model.StoredTransaction, error) {
	query := `
		SELECT id, owner, asset, transaction_type, date, notification_date, amount,
		       has_large_capital_gains, details, dedup_key, processing_status, processed_at, created_at
		FROM house_rep_transactions
		ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list transactions")
	}
	defer rows.Close()

	var out []model.StoredTransaction
	for rows.Next() {
		var st model.StoredTransaction
		var status string
		var processedAt sql.NullTime
		if err := rows.Scan(
			&st.ID, &st.Transaction.Owner, &st.Transaction.Asset, &st.Transaction.TransactionType,
			&st.Transaction.Date, &st.Transaction.NotificationDate, &st.Transaction.Amount,
			&st.Transaction.HasLargeCapitalGains, &st.Transaction.Details, &st.DedupKey,
			&status, &processedAt, &st.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transaction")
		}
		st.Status = model.ProcessingStatus(status)
		if processedAt.Valid {
			st.ProcessedAt = processedAt.Time
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate transactions")
}

func (s *PostgresStore) CountTransactions(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM house_rep_transactions`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count transactions")
}

func (s *PostgresStore) AddDLQEntry(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pdf_dlq (id, document_url, name, filing_year, filing_type, error, error_type, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			error = EXCLUDED.error,
			error_type = EXCLUDED.error_type,
			failed_at = EXCLUDED.failed_at`,
		entry.ID, entry.DocumentURL, entry.Name, entry.FilingYear, entry.FilingType,
		entry.Error, entry.ErrorType, entry.FailedAt,
	)
	return eris.Wrap(err, "postgres: add dlq entry")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, limit int) ([]resilience.DLQEntry, error) {
	query := `
		SELECT id, document_url, name, filing_year, filing_type, error, error_type, failed_at
		FROM pdf_dlq
		ORDER BY failed_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.DocumentURL, &e.Name, &e.FilingYear, &e.FilingType,
			&e.Error, &e.ErrorType, &e.FailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate dlq")
}

func (s *PostgresStore) DeleteDLQEntry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pdf_dlq WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete dlq entry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pdf_dlq`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count dlq")
}
