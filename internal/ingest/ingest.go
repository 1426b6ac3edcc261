// Package ingest persists extracted transactions, filtering duplicates by
// normalized identity. Rows are append-only: nothing here updates or deletes.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/sells-group/disclosure-cli/internal/model"
	"github.com/sells-group/disclosure-cli/internal/store"
)

// insertConcurrency bounds the parallel insert fan-out per document.
const insertConcurrency = 8

// Result summarizes one persistence pass.
type Result struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Ingestor writes transactions to the store.
type Ingestor struct {
	store store.Store
}

// New creates an Ingestor backed by st.
func New(st store.Store) *Ingestor {
	return &Ingestor{store: st}
}

// NormalizeDate converts MM/DD/YYYY to YYYY-MM-DD. Unparseable values pass
// through verbatim so they still participate in dedup comparison.
func NormalizeDate(s string) string {
	t, err := time.Parse("01/02/2006", strings.TrimSpace(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return t.Format("2006-01-02")
}

// normalizeAmount strips whitespace and dollar signs so "$1,001 - $15,000"
// and "$1,001-$15,000" compare equal.
func normalizeAmount(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '$' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
}

// DedupKey derives the normalized seven-field identity of a transaction.
// Two rows with equal keys are the same disclosure event regardless of
// formatting differences between filings.
func DedupKey(tx model.Transaction) string {
	fold := cases.Fold()
	return strings.Join([]string{
		fold.String(strings.TrimSpace(tx.Owner)),
		fold.String(strings.TrimSpace(tx.Asset)),
		NormalizeDate(tx.Date),
		NormalizeDate(tx.NotificationDate),
		normalizeAmount(tx.Amount),
		fmt.Sprintf("%t", tx.HasLargeCapitalGains),
		fold.String(strings.TrimSpace(tx.Details)),
	}, "|")
}

// Persist writes the given transactions, skipping any whose dedup key
// already exists. Inserts run in parallel and are individually durable:
// a failure does not roll back sibling inserts. The returned error reports
// the failure count when any insert failed.
func (i *Ingestor) Persist(ctx context.Context, txs []model.Transaction) (Result, error) {
	if len(txs) == 0 {
		return Result{}, nil
	}

	existing, err := i.store.ListTransactions(ctx, 0)
	if err != nil {
		return Result{}, eris.Wrap(err, "ingest: list existing transactions")
	}
	seen := make(map[string]struct{}, len(existing))
	for _, st := range existing {
		seen[DedupKey(st.Transaction)] = struct{}{}
	}

	var fresh []model.Transaction
	duplicates := 0
	for _, tx := range txs {
		key := DedupKey(tx)
		if _, dup := seen[key]; dup {
			duplicates++
			continue
		}
		// Also dedup within this batch.
		seen[key] = struct{}{}
		fresh = append(fresh, tx)
	}

	var inserted, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(insertConcurrency)
	for _, tx := range fresh {
		g.Go(func() error {
			ok, err := i.store.InsertTransaction(gctx, tx, DedupKey(tx))
			if err != nil {
				failed.Add(1)
				zap.L().Error("transaction insert failed",
					zap.String("owner", tx.Owner),
					zap.String("asset", tx.Asset),
					zap.Error(err),
				)
				return nil
			}
			if ok {
				inserted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Inserted:   int(inserted.Load()),
		Duplicates: duplicates + (len(fresh) - int(inserted.Load()) - int(failed.Load())),
		Failed:     int(failed.Load()),
	}

	zap.L().Info("transactions persisted",
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", res.Failed),
	)

	if res.Failed > 0 {
		return res, eris.New(fmt.Sprintf("ingest: failed to insert %d transactions", res.Failed))
	}
	return res, nil
}
