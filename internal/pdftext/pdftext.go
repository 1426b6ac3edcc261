// Package pdftext renders disclosure PDFs to plain text.
package pdftext

import "context"

// Extractor renders every page of a PDF to text.
type Extractor interface {
	// ExtractText returns the concatenated text of all pages.
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}
