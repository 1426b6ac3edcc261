// Package extract turns disclosure-PDF text into structured transactions.
// Extraction is two-tier: a strict pattern over well-formed table rows, and
// a lenient field-by-field fallback when the strict pattern matches nothing.
package extract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/disclosure-cli/internal/model"
)

// ErrHeaderNotFound means the text has no transaction table and the document
// cannot be processed. This is a permanent failure.
var ErrHeaderNotFound = eris.New("extract: transaction table header not found")

var (
	nullBytes  = regexp.MustCompile(`\x00+`)
	whitespace = regexp.MustCompile(`\s+`)

	// headerPattern locates the transaction table. Layout-preserving text
	// extraction renders the column headers run together on one line.
	headerPattern = regexp.MustCompile(`(?i)ID\s+Owner\s+Asset\s+Transaction Type Date\s+Notification Date Amount\s+Cap\. Gains > \$200\?`)

	// ownerPatterns are tried in order against the filer block above the
	// table. The first is the signature line of typed filings, the last
	// covers digitally signed ones.
	ownerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Name:\s+([^S]+?)\s+Status`),
		regexp.MustCompile(`(?i)Name:\s+([^T]+)`),
		regexp.MustCompile(`(?i)Digitally Signed:\s+([^,]+)`),
	}
	trailingS = regexp.MustCompile(`\s+S$`)

	// summaryPattern pulls filer metadata from the raw (pre-collapse) text,
	// where each field sits on its own line.
	summaryPattern = regexp.MustCompile(`(?m)^(Name|Status|State/District):([^:\n]+)$`)

	// spBoundary splits the table body into per-transaction segments. Each
	// row starts with the "SP" owner code.
	spBoundary = regexp.MustCompile(`(?:^|\s)SP\s+`)

	// strictRow matches one well-formed segment end to end:
	// asset [ticker] P|S (partial)? date date $low - $high T|F S: New D: details
	strictRow = regexp.MustCompile(`^([^\[]+?)\s+\[([^\]]+)\]\s+([PS])(?:\s+\(partial\))?\s+(\d{2}/\d{2}/\d{4})\s+(\d{2}/\d{2}/\d{4})\s+(\$\d{1,3}(?:,\d{3})*(?:\s*-\s*\$\d{1,3}(?:,\d{3})*)?)\s+([TF])\s+S:\s+New\s+D:\s+(.+)$`)

	// Lenient per-field patterns for segments the strict row rejects.
	looseAsset   = regexp.MustCompile(`^([^\[]+?)(?:\s+\[|$)`)
	looseType    = regexp.MustCompile(`\[[^\]]+\]\s+([PS])(?:\s+\(partial\))?`)
	looseDate    = regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)
	looseAmount  = regexp.MustCompile(`\$\d{1,3}(?:,\d{3})*(?:\s*-\s*\$\d{1,3}(?:,\d{3})*)?`)
	looseGains   = regexp.MustCompile(`(?i)Cap\.\s+Gains\s*>\s*\$200\?\s*([TF])`)
	looseDetails = regexp.MustCompile(`(?i)S:\s*New\s+D:\s*(.+)$`)
)

// CleanText strips null bytes and collapses all whitespace runs so the table
// regexes see a single-line rendering of the document.
func CleanText(raw string) string {
	s := nullBytes.ReplaceAllString(raw, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ExtractSummary pulls the filer header fields (name, status,
// state/district) out of the raw text.
func ExtractSummary(raw string) map[string]string {
	out := map[string]string{}
	for _, m := range summaryPattern.FindAllStringSubmatch(raw, -1) {
		key := strings.ToLower(strings.NewReplacer("/", "_", " ", "_").Replace(m[1]))
		val := CleanText(m[2])
		if key == "state_district" {
			// Keep only the district code (e.g. CA11).
			if fields := strings.Fields(val); len(fields) > 0 {
				val = fields[0]
			}
		}
		out[key] = val
	}
	return out
}

// ExtractTransactions parses cleaned text into transactions. It fails with
// ErrHeaderNotFound when the table header is absent; a present header with
// zero parseable rows yields an empty slice, which is a valid result.
func ExtractTransactions(cleanText string) ([]model.Transaction, error) {
	loc := headerPattern.FindStringIndex(cleanText)
	if loc == nil {
		return nil, ErrHeaderNotFound
	}

	owner := extractOwner(cleanText)
	body := cleanText[loc[1]:]

	segments := splitSegments(body)

	transactions := strictPass(segments, owner)
	if len(transactions) == 0 {
		transactions = lenientPass(segments, owner)
	}
	return transactions, nil
}

func extractOwner(text string) string {
	for _, p := range ownerPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			owner := strings.TrimSpace(m[1])
			// The status column's leading "S" sometimes bleeds into the name.
			owner = trailingS.ReplaceAllString(owner, "")
			if owner != "" {
				return owner
			}
		}
	}
	return "Unknown"
}

func splitSegments(body string) []string {
	var out []string
	for _, seg := range spBoundary.Split(body, -1) {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func strictPass(segments []string, owner string) []model.Transaction {
	var out []model.Transaction
	for _, seg := range segments {
		m := strictRow.FindStringSubmatch(seg)
		if m == nil {
			continue
		}
		out = append(out, model.Transaction{
			Owner:                owner,
			Asset:                strings.TrimSpace(m[1]),
			TransactionType:      m[3],
			Date:                 m[4],
			NotificationDate:     m[5],
			Amount:               m[6],
			HasLargeCapitalGains: m[7] == "T",
			Details:              truncateAtPeriod(strings.TrimSpace(m[8])),
		})
	}
	return out
}

// lenientPass recovers what it can from segments the strict row rejected,
// typically documents where the text extractor scrambled column spacing.
func lenientPass(segments []string, owner string) []model.Transaction {
	var out []model.Transaction
	for _, seg := range segments {
		asset := "Unknown"
		if m := looseAsset.FindStringSubmatch(seg); m != nil {
			asset = strings.TrimSpace(m[1])
		}

		txType := "Unknown"
		if m := looseType.FindStringSubmatch(seg); m != nil {
			txType = m[1]
		}

		var date, notificationDate string
		dates := looseDate.FindAllString(seg, 2)
		if len(dates) > 0 {
			date = dates[0]
		}
		if len(dates) > 1 {
			notificationDate = dates[1]
		}

		amount := looseAmount.FindString(seg)

		hasGains := false
		if m := looseGains.FindStringSubmatch(seg); m != nil {
			hasGains = m[1] == "T"
		}

		var details string
		if m := looseDetails.FindStringSubmatch(seg); m != nil {
			details = truncateAtPeriod(strings.TrimSpace(m[1]))
		}

		out = append(out, model.Transaction{
			Owner:                owner,
			Asset:                asset,
			TransactionType:      txType,
			Date:                 date,
			NotificationDate:     notificationDate,
			Amount:               amount,
			HasLargeCapitalGains: hasGains,
			Details:              details,
		})
	}
	return out
}

// truncateAtPeriod cuts details at the first sentence boundary. Trailing
// boilerplate (certification text, page footers) follows the first period.
func truncateAtPeriod(details string) string {
	if i := strings.Index(details, "."); i != -1 {
		return details[:i+1]
	}
	return details
}
