package resilience

import (
	"time"

	"github.com/sells-group/disclosure-cli/internal/model"
)

// DLQEntry records a PDF job that failed extraction or persistence. Entries
// are written once at failure time; the dlq command can requeue or clear them.
type DLQEntry struct {
	ID          string    `json:"id"`
	DocumentURL string    `json:"document_url"`
	Name        string    `json:"name"`
	FilingYear  string    `json:"filing_year"`
	FilingType  string    `json:"filing_type"`
	Error       string    `json:"error"`
	ErrorType   string    `json:"error_type"` // "transient" or "permanent"
	FailedAt    time.Time `json:"failed_at"`
}

// NewDLQEntry builds a dead-letter entry from a failed job.
func NewDLQEntry(job model.PdfJob, err error, now time.Time) DLQEntry {
	return DLQEntry{
		ID:          job.ID,
		DocumentURL: job.DocumentURL,
		Name:        job.Record.Name,
		FilingYear:  job.Record.FilingYear,
		FilingType:  job.Record.FilingType,
		Error:       err.Error(),
		ErrorType:   ClassifyError(err),
		FailedAt:    now.UTC(),
	}
}

// Job reconstructs a PdfJob from a dead-letter entry for requeueing.
func (e DLQEntry) Job(now time.Time) model.PdfJob {
	return model.PdfJob{
		ID:          e.ID,
		DocumentURL: e.DocumentURL,
		Record: model.DisclosureRecord{
			Name:             e.Name,
			FilingYear:       e.FilingYear,
			FilingType:       e.FilingType,
			DocumentURL:      e.DocumentURL,
			ProcessingStatus: model.StatusPending,
		},
		Priority:   model.JobPriority(e.FilingYear, now),
		EnqueuedAt: now,
	}
}
