// Package monitoring observes the ingestion pipeline: queue depth, cache
// effectiveness, stored-row counts, and dead-letter growth. A background
// checker evaluates snapshots against thresholds and posts webhook alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/disclosure-cli/internal/cache"
	"github.com/sells-group/disclosure-cli/internal/store"
)

// QueueStats abstracts the job queue counters the collector reads.
type QueueStats interface {
	Depth() int
	InFlight() int
	Processed() int64
	Failed() int64
}

// CacheStats exposes hit/miss accounting for one cache.
type CacheStats interface {
	Stats() cache.Stats
}

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Queue metrics since process start.
	QueueDepth    int   `json:"queue_depth"`
	JobsInFlight  int   `json:"jobs_in_flight"`
	JobsProcessed int64 `json:"jobs_processed"`
	JobsFailed    int64 `json:"jobs_failed"`

	// Persistence metrics.
	StoredTransactions int `json:"stored_transactions"`
	DLQDepth           int `json:"dlq_depth"`

	// Cache metrics.
	Caches []cache.Stats `json:"caches"`

	CollectedAt time.Time `json:"collected_at"`
}

// JobFailRate returns failed / finished, or 0 before any job finishes.
func (s *MetricsSnapshot) JobFailRate() float64 {
	finished := s.JobsProcessed + s.JobsFailed
	if finished == 0 {
		return 0
	}
	return float64(s.JobsFailed) / float64(finished)
}

// Collector gathers metrics from the queue, caches, and store.
type Collector struct {
	store  store.Store
	queue  QueueStats
	caches []CacheStats
}

// NewCollector creates a metrics collector. queue may be nil when no worker
// pool is running (one-shot commands).
func NewCollector(st store.Store, q QueueStats, caches ...CacheStats) *Collector {
	return &Collector{store: st, queue: q, caches: caches}
}

// Collect gathers a snapshot of pipeline metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		CollectedAt: time.Now().UTC(),
	}

	if c.queue != nil {
		snap.QueueDepth = c.queue.Depth()
		snap.JobsInFlight = c.queue.InFlight()
		snap.JobsProcessed = c.queue.Processed()
		snap.JobsFailed = c.queue.Failed()
	}

	for _, cs := range c.caches {
		snap.Caches = append(snap.Caches, cs.Stats())
	}

	if c.store != nil {
		txCount, err := c.store.CountTransactions(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: count transactions")
		}
		snap.StoredTransactions = txCount

		dlqCount, err := c.store.CountDLQ(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: count dlq")
		}
		snap.DLQDepth = dlqCount
	}

	return snap, nil
}
