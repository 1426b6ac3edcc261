package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/disclosure-cli/internal/model"
	"github.com/sells-group/disclosure-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS house_rep_transactions (
	id                      TEXT PRIMARY KEY,
	owner                   TEXT NOT NULL,
	asset                   TEXT NOT NULL,
	transaction_type        TEXT NOT NULL,
	date                    TEXT NOT NULL DEFAULT '',
	notification_date       TEXT NOT NULL DEFAULT '',
	amount                  TEXT NOT NULL DEFAULT '',
	has_large_capital_gains INTEGER NOT NULL DEFAULT 0,
	details                 TEXT NOT NULL DEFAULT '',
	dedup_key               TEXT NOT NULL,
	processing_status       TEXT NOT NULL DEFAULT 'completed',
	error                   TEXT,
	processed_at            DATETIME,
	created_at              DATETIME NOT NULL DEFAULT (datetime('now'))
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
	failed_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pdf_dlq_failed_at ON pdf_dlq(failed_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertTransaction appends a transaction row. The unique dedup_key index
// makes concurrent duplicate inserts race-safe: the loser is ignored.
func (s *SQLiteStore) InsertTransaction(ctx context.Context, tx model.Transaction, dedupKey string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO house_rep_transactions
			(id, owner, asset, transaction_type, date, notification_date, amount,
			 has_large_capital_gains, details, dedup_key, processing_status, processed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), tx.Owner, tx.Asset, tx.TransactionType, tx.Date,
		tx.NotificationDate, tx.Amount, boolToInt(tx.HasLargeCapitalGains),
		tx.Details, dedupKey, string(model.StatusCompleted), now, now,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert transaction")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, limit int) ([]model.StoredTransaction, error) {
	query := `
		SELECT id, owner, asset, transaction_type, date, notification_date, amount,
		       has_large_capital_gains, details, dedup_key, processing_status, processed_at, created_at
		FROM house_rep_transactions
		ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list transactions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StoredTransaction
	for rows.Next() {
		var st model.StoredTransaction
		var gains int
		var status string
		var processedAt sql.NullTime
		if err := rows.Scan(
			&st.ID, &st.Transaction.Owner, &st.Transaction.Asset, &st.Transaction.TransactionType,
			&st.Transaction.Date, &st.Transaction.NotificationDate, &st.Transaction.Amount,
			&gains, &st.Transaction.Details, &st.DedupKey, &status, &processedAt, &st.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transaction")
		}
		st.Transaction.HasLargeCapitalGains = gains != 0
		st.Status = model.ProcessingStatus(status)
		if processedAt.Valid {
			st.ProcessedAt = processedAt.Time
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate transactions")
}

func (s *SQLiteStore) CountTransactions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM house_rep_transactions`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count transactions")
}

func (s *SQLiteStore) AddDLQEntry(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pdf_dlq (id, document_url, name, filing_year, filing_type, error, error_type, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DocumentURL, entry.Name, entry.FilingYear, entry.FilingType,
		entry.Error, entry.ErrorType, entry.FailedAt,
	)
	return eris.Wrap(err, "sqlite: add dlq entry")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, limit int) ([]resilience.DLQEntry, error) {
	query := `
		SELECT id, document_url, name, filing_year, filing_type, error, error_type, failed_at
		FROM pdf_dlq
		ORDER BY failed_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.DocumentURL, &e.Name, &e.FilingYear, &e.FilingType,
			&e.Error, &e.ErrorType, &e.FailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate dlq")
}

func (s *SQLiteStore) DeleteDLQEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pdf_dlq WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete dlq entry %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pdf_dlq`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count dlq")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
