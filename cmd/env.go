package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/disclosure-cli/internal/cache"
	"github.com/sells-group/disclosure-cli/internal/extract"
	"github.com/sells-group/disclosure-cli/internal/fetcher"
	"github.com/sells-group/disclosure-cli/internal/ingest"
	"github.com/sells-group/disclosure-cli/internal/model"
	"github.com/sells-group/disclosure-cli/internal/monitoring"
	"github.com/sells-group/disclosure-cli/internal/pdftext"
	"github.com/sells-group/disclosure-cli/internal/queue"
	"github.com/sells-group/disclosure-cli/internal/resilience"
	"github.com/sells-group/disclosure-cli/internal/search"
	"github.com/sells-group/disclosure-cli/internal/store"
)

// pipelineEnv wires the full ingestion pipeline: store, caches, PDF
// processor, job queue, and search client.
type pipelineEnv struct {
	store     store.Store
	results   *cache.Cache[[]model.DisclosureRecord]
	buffers   *cache.Cache[[]byte]
	processed *cache.Cache[model.ProcessedDocument]
	processor *extract.Processor
	ingestor  *ingest.Ingestor
	queue     *queue.Queue
	search    *search.Client
	collector *monitoring.Collector
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv builds the pipeline from config. The queue's workers are not
// started; callers that process jobs call env.queue.Start themselves.
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	env := &pipelineEnv{
		store:     st,
		results:   cache.New[[]model.DisclosureRecord]("search_results", cfg.Search.CacheCapacity, cfg.Search.CacheTTL()),
		buffers:   cache.New[[]byte]("pdf_buffers", cfg.PDF.BufferCacheCapacity, cfg.PDF.BufferCacheTTL()),
		processed: cache.New[model.ProcessedDocument]("processed_documents", cfg.PDF.ProcessedCacheCapacity, cfg.PDF.ProcessedCacheTTL()),
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.PDF.UserAgent,
		Timeout:      cfg.PDF.Timeout(),
		MaxRetries:   cfg.PDF.Retries,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})

	env.processor = extract.NewProcessor(f, pdftext.NewPdfToText(cfg.PDF.PdfToTextPath), env.buffers, env.processed)
	env.ingestor = ingest.New(st)

	env.queue = queue.New(queue.Options{
		MaxConcurrent:   cfg.Queue.MaxConcurrent,
		MinInterval:     cfg.Queue.MinInterval(),
		ReservoirSize:   cfg.Queue.ReservoirSize,
		ReservoirWindow: cfg.Queue.ReservoirWindow(),
		OnFailure: func(job model.PdfJob, err error) {
			entry := resilience.NewDLQEntry(job, err, time.Now())
			// The worker ctx may already be cancelled during shutdown; the
			// dead-letter write gets its own deadline.
			dlqCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if dlqErr := st.AddDLQEntry(dlqCtx, entry); dlqErr != nil {
				zap.L().Error("failed to dead-letter job",
					zap.String("url", job.DocumentURL),
					zap.Error(dlqErr),
				)
			}
		},
	}, func(ctx context.Context, job model.PdfJob) error {
		doc, err := env.processor.Process(ctx, job)
		if err != nil {
			return err
		}
		_, err = env.ingestor.Persist(ctx, doc.Transactions)
		return err
	})

	env.search = search.New(cfg.Search, env.results, env.queue)
	env.collector = monitoring.NewCollector(st, env.queue, env.results, env.buffers, env.processed)

	return env, nil
}

func (e *pipelineEnv) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}
