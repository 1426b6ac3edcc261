// Package queue schedules disclosure-PDF processing jobs with bounded
// concurrency and a global rate limit, decoupled from the search response
// path. Jobs are admitted by priority (current filing year first) but
// running jobs are never preempted.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/disclosure-cli/internal/model"
)

// ProcessFunc executes one PDF job end to end (download, extract, persist).
type ProcessFunc func(ctx context.Context, job model.PdfJob) error

// Options tunes the scheduler.
type Options struct {
	// MaxConcurrent is the number of worker goroutines. Default: 5.
	MaxConcurrent int

	// MinInterval is the minimum spacing between job starts. Default: 500ms.
	MinInterval time.Duration

	// ReservoirSize jobs may start per ReservoirWindow; jobs beyond the
	// reservoir wait for refill. Defaults: 200 per 60s.
	ReservoirSize   int
	ReservoirWindow time.Duration

	// OnFailure is invoked for jobs whose ProcessFunc returned an error,
	// after the failure is logged. Used to dead-letter the job.
	OnFailure func(job model.PdfJob, err error)
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.MinInterval <= 0 {
		o.MinInterval = 500 * time.Millisecond
	}
	if o.ReservoirSize <= 0 {
		o.ReservoirSize = 200
	}
	if o.ReservoirWindow <= 0 {
		o.ReservoirWindow = time.Minute
	}
	return o
}

// ErrQueueClosed is returned by Enqueue after Shutdown has begun.
var ErrQueueClosed = eris.New("queue: closed")

// Queue is a rate-limited, priority-admitting worker pool for PDF jobs.
type Queue struct {
	opts    Options
	process ProcessFunc

	spacing   *rate.Limiter
	reservoir *rate.Limiter

	mu     sync.Mutex
	jobs   jobHeap
	closed bool
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once

	wg     sync.WaitGroup
	cancel context.CancelFunc

	inFlight  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// New creates a Queue; call Start before enqueueing.
func New(opts Options, process ProcessFunc) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		opts:      opts,
		process:   process,
		spacing:   rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		reservoir: rate.NewLimiter(rate.Limit(float64(opts.ReservoirSize)/opts.ReservoirWindow.Seconds()), opts.ReservoirSize),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the worker pool. Cancelling ctx does not stop the workers:
// the pool outlives the caller's context so that Shutdown can still drain
// pending jobs after a signal. The only hard stop is Shutdown's grace-period
// cancel.
func (q *Queue) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel

	for i := 0; i < q.opts.MaxConcurrent; i++ {
		q.wg.Add(1)
		go q.worker(runCtx)
	}
}

// Enqueue adds a job; it never blocks the caller. Fire-and-forget: the
// search response does not wait on the job's outcome.
func (q *Queue) Enqueue(job model.PdfJob) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	heap.Push(&q.jobs, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	zap.L().Debug("pdf job enqueued",
		zap.String("url", job.DocumentURL),
		zap.Int("priority", job.Priority),
	)
	return nil
}

// Depth returns the number of jobs waiting for a worker.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}

// InFlight returns the number of jobs currently executing.
func (q *Queue) InFlight() int { return int(q.inFlight.Load()) }

// Processed returns the count of jobs completed successfully.
func (q *Queue) Processed() int64 { return q.processed.Load() }

// Failed returns the count of jobs that errored.
func (q *Queue) Failed() int64 { return q.failed.Load() }

// Shutdown stops admission and waits for the queue to drain. If ctx expires
// first, in-flight jobs are cancelled and remaining pending jobs are
// dead-lettered through OnFailure.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	// wake stays open so concurrent Enqueue calls can never send on a
	// closed channel; workers learn about shutdown through done.
	q.once.Do(func() { close(q.done) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if q.cancel != nil {
			q.cancel()
		}
		<-done
		dropped := q.Depth()
		if dropped > 0 {
			zap.L().Warn("queue shutdown dropped pending jobs", zap.Int("dropped", dropped))
		}
		return eris.Wrap(ctx.Err(), "queue: shutdown")
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		job, ok := q.next(ctx)
		if !ok {
			return
		}

		// Global admission: reservoir budget, then inter-start spacing.
		// A popped job is owned by this worker; if the hard stop arrives
		// while it waits for admission it is dead-lettered, not dropped.
		if err := q.admit(ctx); err != nil {
			q.fail(job, eris.Wrap(err, "queue: cancelled before start"))
			continue
		}

		q.run(ctx, job)
	}
}

func (q *Queue) admit(ctx context.Context) error {
	if err := q.reservoir.Wait(ctx); err != nil {
		return err
	}
	return q.spacing.Wait(ctx)
}

// next blocks until a job is available, the queue is drained and closed, or
// ctx is cancelled.
func (q *Queue) next(ctx context.Context) (model.PdfJob, bool) {
	for {
		q.mu.Lock()
		if q.jobs.Len() > 0 {
			job := heap.Pop(&q.jobs).(model.PdfJob)
			q.mu.Unlock()
			return job, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return model.PdfJob{}, false
		}

		select {
		case <-ctx.Done():
			return model.PdfJob{}, false
		case <-q.done:
		case <-q.wake:
		}
	}
}

func (q *Queue) run(ctx context.Context, job model.PdfJob) {
	q.inFlight.Add(1)
	defer q.inFlight.Add(-1)

	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("url", job.DocumentURL),
		zap.String("filing_year", job.Record.FilingYear),
	)
	log.Info("processing pdf job", zap.Duration("queued_for", time.Since(job.EnqueuedAt)))

	if err := q.process(ctx, job); err != nil {
		q.fail(job, err)
		return
	}

	q.processed.Add(1)
	log.Info("pdf job completed")
}

// fail records a terminal failure. The failure stays inside the pipeline:
// the search response has already been sent and there is no queue-level
// retry, so the job goes to the dead-letter hook.
func (q *Queue) fail(job model.PdfJob, err error) {
	q.failed.Add(1)
	zap.L().Error("pdf job failed",
		zap.String("job_id", job.ID),
		zap.String("url", job.DocumentURL),
		zap.Error(err),
	)
	if q.opts.OnFailure != nil {
		q.opts.OnFailure(job, err)
	}
}

// jobHeap orders jobs by priority, then FIFO within a priority class.
type jobHeap []model.PdfJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(model.PdfJob)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	*h = old[:n-1]
	return job
}
