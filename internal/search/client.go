// Package search implements the clerk-site member search: anti-forgery token
// scraping, the form POST, results parsing, the 24h results cache, and
// enqueueing of PDF jobs for rows that link a document.
package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/disclosure-cli/internal/cache"
	"github.com/sells-group/disclosure-cli/internal/config"
	"github.com/sells-group/disclosure-cli/internal/model"
	"github.com/sells-group/disclosure-cli/internal/resilience"
)

// Enqueuer accepts PDF jobs for background processing. The search path never
// waits on a job's outcome.
type Enqueuer interface {
	Enqueue(job model.PdfJob) error
}

// Result is one page of search results.
type Result struct {
	Records      []model.DisclosureRecord `json:"data"`
	TotalResults int                      `json:"totalResults"`
	Cached       bool                     `json:"cached,omitempty"`
}

// Client talks to the House clerk financial-disclosure search.
type Client struct {
	cfg     config.SearchConfig
	http    *http.Client
	results *cache.Cache[[]model.DisclosureRecord]
	breaker *resilience.CircuitBreaker
	enq     Enqueuer
	now     func() time.Time
}

// New creates a search client. results may be nil to disable caching; enq may
// be nil to disable PDF job dispatch (the export command searches without
// processing).
func New(cfg config.SearchConfig, results *cache.Cache[[]model.DisclosureRecord], enq Enqueuer) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout()},
		results: results,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("clerk-site circuit state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		enq: enq,
		now: time.Now,
	}
}

// Search runs a member search and returns one page of records. On a cache
// miss the full result set is fetched, cached, and every record carrying a
// document link is handed to the queue. Cache hits enqueue nothing.
func (c *Client) Search(ctx context.Context, q model.SearchQuery, page, pageSize int) (Result, error) {
	q = q.Normalize(c.now())
	pageSize = c.clampPageSize(pageSize)
	if page < 1 {
		page = 1
	}

	if c.results != nil {
		if all, ok := c.results.Get(q.CacheKey()); ok {
			return Result{
				Records:      paginate(all, page, pageSize),
				TotalResults: len(all),
				Cached:       true,
			}, nil
		}
	}

	all, err := c.fetchAll(ctx, q)
	if err != nil {
		return Result{}, err
	}

	if c.results != nil {
		c.results.Set(q.CacheKey(), all)
	}
	c.dispatchJobs(all)

	return Result{
		Records:      paginate(all, page, pageSize),
		TotalResults: len(all),
	}, nil
}

func (c *Client) clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		pageSize = c.cfg.DefaultPageSize
	}
	if c.cfg.MaxPageSize > 0 && pageSize > c.cfg.MaxPageSize {
		pageSize = c.cfg.MaxPageSize
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return pageSize
}

// paginate slices one page out of the full record list. The returned page
// holds min(pageSize, max(0, total-(page-1)*pageSize)) records.
func paginate(all []model.DisclosureRecord, page, pageSize int) []model.DisclosureRecord {
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []model.DisclosureRecord{}
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

func (c *Client) fetchAll(ctx context.Context, q model.SearchQuery) ([]model.DisclosureRecord, error) {
	token := c.verificationToken(ctx)

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    c.cfg.Retries,
		InitialBackoff: time.Second,
		Strategy:       resilience.BackoffLinear,
		OnRetry:        resilience.RetryLogger("clerk-site", "member search"),
	}

	body, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]byte, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
			return c.postSearch(ctx, q, token)
		})
	})
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "search: parse base url")
	}

	records, err := parseResultsTable(strings.NewReader(string(body)), base)
	if err != nil {
		return nil, err
	}

	zap.L().Info("member search completed",
		zap.String("last_name", q.LastName),
		zap.String("filing_year", q.FilingYear),
		zap.Int("results", len(records)),
	)
	return records, nil
}

// verificationToken scrapes the anti-forgery token from the search page.
// Any failure degrades to the configured fallback token rather than failing
// the search.
func (c *Client) verificationToken(ctx context.Context) string {
	pageURL := c.cfg.BaseURL + c.cfg.SearchPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		zap.L().Warn("token page request build failed, using fallback token", zap.Error(err))
		return c.cfg.FallbackToken
	}

	resp, err := c.http.Do(req)
	if err != nil {
		zap.L().Warn("token page fetch failed, using fallback token", zap.Error(err))
		return c.cfg.FallbackToken
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("token page returned unexpected status, using fallback token",
			zap.Int("status", resp.StatusCode))
		return c.cfg.FallbackToken
	}

	token, err := parseVerificationToken(resp.Body)
	if err != nil {
		zap.L().Warn("token not found in search page, using fallback token", zap.Error(err))
		return c.cfg.FallbackToken
	}
	return token
}

func (c *Client) postSearch(ctx context.Context, q model.SearchQuery, token string) ([]byte, error) {
	form := url.Values{
		"LastName":                   {q.LastName},
		"FilingYear":                 {q.FilingYear},
		"State":                      {q.State},
		"District":                   {q.District},
		"__RequestVerificationToken": {token},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+c.cfg.ResultsPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "search: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "search: post"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.New(fmt.Sprintf("search: clerk site returned status %d", resp.StatusCode))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "search: read response"), 0)
	}
	return body, nil
}

// dispatchJobs enqueues one PDF job per record with a document link.
// Fire-and-forget: enqueue failures are logged, never surfaced to the caller.
func (c *Client) dispatchJobs(records []model.DisclosureRecord) {
	if c.enq == nil {
		return
	}
	now := c.now()
	for _, rec := range records {
		if rec.DocumentURL == "" {
			continue
		}
		job := model.PdfJob{
			ID:          uuid.New().String(),
			DocumentURL: rec.DocumentURL,
			Record:      rec,
			Priority:    model.JobPriority(rec.FilingYear, now),
			EnqueuedAt:  now,
		}
		if err := c.enq.Enqueue(job); err != nil {
			zap.L().Warn("failed to enqueue pdf job",
				zap.String("url", rec.DocumentURL),
				zap.Error(err),
			)
		}
	}
}
