package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/disclosure-cli/internal/cache"
	"github.com/sells-group/disclosure-cli/internal/config"
	"github.com/sells-group/disclosure-cli/internal/model"
	"github.com/sells-group/disclosure-cli/internal/resilience"
	"github.com/sells-group/disclosure-cli/internal/store"
)

type countStore struct {
	transactions int
	dlq          int
}

func (s *countStore) InsertTransaction(ctx context.Context, tx model.Transaction, dedupKey string) (bool, error) {
	return false, nil
}
func (s *countStore) ListTransactions(ctx context.Context, limit int) ([]model.StoredTransaction, error) {
	return nil, nil
}
func (s *countStore) CountTransactions(ctx context.Context) (int, error) { return s.transactions, nil }
func (s *countStore) AddDLQEntry(ctx context.Context, entry resilience.DLQEntry) error {
	return nil
}
func (s *countStore) ListDLQ(ctx context.Context, limit int) ([]resilience.DLQEntry, error) {
	return nil, nil
}
func (s *countStore) DeleteDLQEntry(ctx context.Context, id string) error { return nil }
func (s *countStore) CountDLQ(ctx context.Context) (int, error)           { return s.dlq, nil }
func (s *countStore) Migrate(ctx context.Context) error                   { return nil }
func (s *countStore) Close() error                                        { return nil }

var _ store.Store = (*countStore)(nil)

type fakeQueue struct {
	depth, inFlight   int
	processed, failed int64
}

func (q *fakeQueue) Depth() int       { return q.depth }
func (q *fakeQueue) InFlight() int    { return q.inFlight }
func (q *fakeQueue) Processed() int64 { return q.processed }
func (q *fakeQueue) Failed() int64    { return q.failed }

func TestCollector_Collect(t *testing.T) {
	results := cache.New[string]("search_results", 10, time.Minute)
	results.Set("k", "v")
	results.Get("k")
	results.Get("miss")

	c := NewCollector(
		&countStore{transactions: 42, dlq: 3},
		&fakeQueue{depth: 7, inFlight: 2, processed: 90, failed: 10},
		results,
	)

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, snap.QueueDepth)
	assert.Equal(t, 2, snap.JobsInFlight)
	assert.Equal(t, int64(90), snap.JobsProcessed)
	assert.Equal(t, int64(10), snap.JobsFailed)
	assert.InDelta(t, 0.1, snap.JobFailRate(), 1e-9)
	assert.Equal(t, 42, snap.StoredTransactions)
	assert.Equal(t, 3, snap.DLQDepth)

	require.Len(t, snap.Caches, 1)
	assert.Equal(t, "search_results", snap.Caches[0].Name)
	assert.Equal(t, int64(1), snap.Caches[0].Hits)
	assert.Equal(t, int64(1), snap.Caches[0].Misses)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestAlerter_Evaluate(t *testing.T) {
	cfg := config.MonitoringConfig{
		FailureRateThreshold: 0.5,
		DLQDepthThreshold:    50,
	}
	a := NewAlerter(cfg)

	t.Run("healthy snapshot", func(t *testing.T) {
		snap := &MetricsSnapshot{JobsProcessed: 100, JobsFailed: 1, DLQDepth: 1}
		assert.Empty(t, a.Evaluate(snap))
	})

	t.Run("failure rate breach", func(t *testing.T) {
		snap := &MetricsSnapshot{JobsProcessed: 2, JobsFailed: 8, DLQDepth: 0}
		alerts := a.Evaluate(snap)
		require.Len(t, alerts, 1)
		assert.Equal(t, AlertJobFailureRate, alerts[0].Type)
	})

	t.Run("small sample never alerts", func(t *testing.T) {
		snap := &MetricsSnapshot{JobsProcessed: 0, JobsFailed: 2}
		assert.Empty(t, a.Evaluate(snap))
	})

	t.Run("dlq depth breach", func(t *testing.T) {
		snap := &MetricsSnapshot{DLQDepth: 51}
		alerts := a.Evaluate(snap)
		require.Len(t, alerts, 1)
		assert.Equal(t, AlertDLQDepth, alerts[0].Type)
	})
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertDLQDepth, alert.Type)
		received.Add(1)
	}))
	t.Cleanup(srv.Close)

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertDLQDepth, Severity: "high", Message: "dlq too deep", Timestamp: time.Now()},
	})

	assert.Equal(t, 1, sent)
	assert.Equal(t, int64(1), received.Load())
}

func TestAlerter_SendAlertsNoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertDLQDepth}}))
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := NewCollector(&countStore{}, &fakeQueue{})
	alerter := NewAlerter(config.MonitoringConfig{})
	checker := NewChecker(collector, alerter, config.MonitoringConfig{CheckIntervalSecs: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop on context cancel")
	}
}
