package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProcessingStatus tracks a disclosure document through the PDF pipeline.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// DisclosureRecord is one row of the clerk-site search results. It is a
// transient response entity: only its status changes as the associated PDF
// job progresses, and it is never persisted itself.
type DisclosureRecord struct {
	Name             string           `json:"name"`
	Office           string           `json:"office"`
	FilingYear       string           `json:"filingYear"`
	FilingType       string           `json:"filingType"`
	DocumentURL      string           `json:"documentUrl,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processingStatus,omitempty"`
}

// SearchQuery holds the four fields the clerk site's member search accepts.
type SearchQuery struct {
	LastName   string `json:"lastName,omitempty"`
	FilingYear string `json:"filingYear,omitempty"`
	State      string `json:"state,omitempty"`
	District   string `json:"district,omitempty"`
}

// Normalize fills the filing year default (current calendar year).
func (q SearchQuery) Normalize(now time.Time) SearchQuery {
	if strings.TrimSpace(q.FilingYear) == "" {
		q.FilingYear = strconv.Itoa(now.Year())
	}
	return q
}

// CacheKey derives the search-results cache key from the four query fields.
func (q SearchQuery) CacheKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", q.LastName, q.FilingYear, q.State, q.District)
}

// Transaction is one financial transaction extracted from a disclosure PDF.
// Rows are append-only; the seven-field tuple (owner, asset, date,
// notification date, amount, capital-gains flag, details), compared after
// normalization, is the dedup identity.
type Transaction struct {
	Owner                string `json:"owner"`
	Asset                string `json:"asset"`
	TransactionType      string `json:"transactionType"`
	Date                 string `json:"date"`
	NotificationDate     string `json:"notificationDate"`
	Amount               string `json:"amount"`
	HasLargeCapitalGains bool   `json:"hasLargeCapitalGains"`
	Details              string `json:"details"`
}

// StoredTransaction is a persisted transaction row.
type StoredTransaction struct {
	ID          string      `json:"id"`
	Transaction Transaction `json:"transaction"`
	DedupKey    string      `json:"-"`
	Status      ProcessingStatus
	ProcessedAt time.Time `json:"processedAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ProcessedDocument is the extractor's output for a single PDF.
type ProcessedDocument struct {
	Transactions []Transaction     `json:"transactions"`
	Summary      map[string]string `json:"summary"`
	RawText      string            `json:"rawText"`
}

// PdfJob asks the queue to download and process one disclosure PDF.
// A job is consumed exactly once; it either completes (transactions
// persisted) or fails (logged and dead-lettered, no queue-level retry).
type PdfJob struct {
	ID          string
	DocumentURL string
	Record      DisclosureRecord
	Priority    int
	EnqueuedAt  time.Time
}

const (
	// PriorityCurrent is assigned to filings for the current year.
	PriorityCurrent = 1
	// PriorityBacklog is assigned to older filing years.
	PriorityBacklog = 2
)

// JobPriority derives queue priority from the filing year: current-year
// filings run before backlog when both are waiting.
func JobPriority(filingYear string, now time.Time) int {
	if filingYear == strconv.Itoa(now.Year()) {
		return PriorityCurrent
	}
	return PriorityBacklog
}
