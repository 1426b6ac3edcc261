package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/disclosure-cli/internal/model"
)

func fastOptions() Options {
	return Options{
		MaxConcurrent:   2,
		MinInterval:     time.Millisecond,
		ReservoirSize:   1000,
		ReservoirWindow: time.Second,
	}
}

func testJob(id string, priority int, enqueued time.Time) model.PdfJob {
	return model.PdfJob{
		ID:          id,
		DocumentURL: "https://disclosures-clerk.house.gov/public_disc/ptr-pdfs/2025/" + id + ".pdf",
		Priority:    priority,
		EnqueuedAt:  enqueued,
	}
}

func TestQueue_ProcessesJobs(t *testing.T) {
	var processed atomic.Int64
	q := New(fastOptions(), func(ctx context.Context, job model.PdfJob) error {
		processed.Add(1)
		return nil
	})
	q.Start(context.Background())

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(testJob(string(rune('a'+i)), model.PriorityCurrent, base)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	assert.Equal(t, int64(5), processed.Load())
	assert.Equal(t, int64(5), q.Processed())
	assert.Equal(t, 0, q.Depth())
}

func TestQueue_PriorityOrdering(t *testing.T) {
	opts := fastOptions()
	opts.MaxConcurrent = 1

	var mu sync.Mutex
	var order []string
	q := New(opts, func(ctx context.Context, job model.PdfJob) error {
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		return nil
	})

	// Enqueue before starting workers so admission order is decided purely
	// by the heap.
	base := time.Now()
	require.NoError(t, q.Enqueue(testJob("backlog-1", model.PriorityBacklog, base)))
	require.NoError(t, q.Enqueue(testJob("backlog-2", model.PriorityBacklog, base.Add(time.Millisecond))))
	require.NoError(t, q.Enqueue(testJob("current-1", model.PriorityCurrent, base.Add(2*time.Millisecond))))
	require.NoError(t, q.Enqueue(testJob("current-2", model.PriorityCurrent, base.Add(3*time.Millisecond))))

	q.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	assert.Equal(t, []string{"current-1", "current-2", "backlog-1", "backlog-2"}, order)
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	opts := fastOptions()
	opts.MaxConcurrent = 2

	var running, peak atomic.Int64
	q := New(opts, func(ctx context.Context, job model.PdfJob) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	})
	q.Start(context.Background())

	base := time.Now()
	for i := 0; i < 8; i++ {
		require.NoError(t, q.Enqueue(testJob(string(rune('a'+i)), model.PriorityCurrent, base)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	assert.LessOrEqual(t, peak.Load(), int64(2), "worker pool must bound concurrency")
}

func TestQueue_FailureDeadLetters(t *testing.T) {
	var mu sync.Mutex
	var deadLettered []string

	opts := fastOptions()
	opts.OnFailure = func(job model.PdfJob, err error) {
		mu.Lock()
		deadLettered = append(deadLettered, job.ID)
		mu.Unlock()
	}

	q := New(opts, func(ctx context.Context, job model.PdfJob) error {
		if job.ID == "bad" {
			return eris.New("header not found")
		}
		return nil
	})
	q.Start(context.Background())

	base := time.Now()
	require.NoError(t, q.Enqueue(testJob("good", model.PriorityCurrent, base)))
	require.NoError(t, q.Enqueue(testJob("bad", model.PriorityCurrent, base)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	assert.Equal(t, int64(1), q.Processed())
	assert.Equal(t, int64(1), q.Failed())
	assert.Equal(t, []string{"bad"}, deadLettered)
}

func TestQueue_ShutdownDrainsAfterContextCancel(t *testing.T) {
	var processed atomic.Int64
	q := New(fastOptions(), func(ctx context.Context, job model.PdfJob) error {
		processed.Add(1)
		return nil
	})

	startCtx, cancel := context.WithCancel(context.Background())
	q.Start(startCtx)

	base := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(testJob(string(rune('a'+i)), model.PriorityCurrent, base)))
	}

	// A signal arriving must not kill the workers; the grace period below
	// still lets every queued job finish.
	cancel()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	require.NoError(t, q.Shutdown(ctx))

	assert.Equal(t, int64(4), processed.Load())
	assert.Equal(t, int64(4), q.Processed())
	assert.Zero(t, q.Failed())
	assert.Equal(t, 0, q.Depth())
}

func TestQueue_HardStopDeadLettersPending(t *testing.T) {
	var mu sync.Mutex
	var deadLettered []string

	opts := fastOptions()
	opts.MaxConcurrent = 1
	opts.OnFailure = func(job model.PdfJob, err error) {
		mu.Lock()
		deadLettered = append(deadLettered, job.ID)
		mu.Unlock()
	}

	q := New(opts, func(ctx context.Context, job model.PdfJob) error {
		<-ctx.Done()
		return ctx.Err()
	})
	q.Start(context.Background())

	base := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(testJob(string(rune('a'+i)), model.PriorityCurrent, base)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, q.Shutdown(ctx), "grace period expires while the first job blocks")

	// Every job reaches a terminal state: the in-flight one fails with the
	// cancellation error, the pending ones are dead-lettered on admission.
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, deadLettered, 4)
	assert.Equal(t, int64(4), q.Failed())
	assert.Equal(t, 0, q.Depth())
}

func TestQueue_EnqueueRacesShutdown(t *testing.T) {
	q := New(fastOptions(), func(ctx context.Context, job model.PdfJob) error { return nil })
	q.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			base := time.Now()
			for j := 0; j < 50; j++ {
				if err := q.Enqueue(testJob("r", model.PriorityCurrent, base)); err != nil {
					assert.ErrorIs(t, err, ErrQueueClosed)
					return
				}
			}
		}(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
	wg.Wait()
}

func TestQueue_EnqueueAfterShutdown(t *testing.T) {
	q := New(fastOptions(), func(ctx context.Context, job model.PdfJob) error { return nil })
	q.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	err := q.Enqueue(testJob("late", model.PriorityCurrent, time.Now()))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_MinIntervalSpacing(t *testing.T) {
	opts := fastOptions()
	opts.MaxConcurrent = 4
	opts.MinInterval = 50 * time.Millisecond

	var mu sync.Mutex
	var starts []time.Time
	q := New(opts, func(ctx context.Context, job model.PdfJob) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return nil
	})
	q.Start(context.Background())

	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(testJob(string(rune('a'+i)), model.PriorityCurrent, base)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	require.Len(t, starts, 3)
	// First start consumes the initial token; subsequent starts are spaced.
	elapsed := starts[2].Sub(starts[0])
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond, "job starts must honor the spacing limiter")
}
