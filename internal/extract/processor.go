package extract

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/disclosure-cli/internal/cache"
	"github.com/sells-group/disclosure-cli/internal/fetcher"
	"github.com/sells-group/disclosure-cli/internal/model"
	"github.com/sells-group/disclosure-cli/internal/pdftext"
)

// Processor downloads a disclosure PDF, extracts its text, and parses the
// transactions. Two caches short-circuit repeat work: processed documents
// (keyed by document identity) and raw PDF buffers (keyed by URL).
type Processor struct {
	fetcher   fetcher.Fetcher
	text      pdftext.Extractor
	buffers   *cache.Cache[[]byte]
	processed *cache.Cache[model.ProcessedDocument]
}

// NewProcessor creates a Processor. Either cache may be nil to disable that
// layer.
func NewProcessor(f fetcher.Fetcher, text pdftext.Extractor, buffers *cache.Cache[[]byte], processed *cache.Cache[model.ProcessedDocument]) *Processor {
	return &Processor{
		fetcher:   f,
		text:      text,
		buffers:   buffers,
		processed: processed,
	}
}

// documentKey identifies a processed document by URL plus the search-row
// fields, so re-filed documents at the same URL are not conflated.
func documentKey(job model.PdfJob) string {
	r := job.Record
	return strings.Join([]string{job.DocumentURL, r.Name, r.FilingYear, r.FilingType}, "|")
}

// Process runs the full extraction pipeline for one job.
func (p *Processor) Process(ctx context.Context, job model.PdfJob) (model.ProcessedDocument, error) {
	key := documentKey(job)
	if p.processed != nil {
		if doc, ok := p.processed.Get(key); ok {
			zap.L().Debug("processed document cache hit", zap.String("url", job.DocumentURL))
			return doc, nil
		}
	}

	buf, err := p.pdfBuffer(ctx, job.DocumentURL)
	if err != nil {
		return model.ProcessedDocument{}, err
	}

	raw, err := p.text.ExtractText(ctx, buf)
	if err != nil {
		return model.ProcessedDocument{}, eris.Wrap(err, "extract: pdf text")
	}

	clean := CleanText(raw)
	transactions, err := ExtractTransactions(clean)
	if err != nil {
		return model.ProcessedDocument{}, err
	}

	doc := model.ProcessedDocument{
		Transactions: transactions,
		Summary:      ExtractSummary(raw),
		RawText:      clean,
	}
	if p.processed != nil {
		p.processed.Set(key, doc)
	}

	zap.L().Info("document processed",
		zap.String("url", job.DocumentURL),
		zap.Int("transactions", len(transactions)),
	)
	return doc, nil
}

func (p *Processor) pdfBuffer(ctx context.Context, url string) ([]byte, error) {
	if p.buffers != nil {
		if buf, ok := p.buffers.Get(url); ok {
			return buf, nil
		}
	}

	buf, err := p.fetcher.DownloadBytes(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: download %s", url)
	}
	if p.buffers != nil {
		p.buffers.Set(url, buf)
	}
	return buf, nil
}
