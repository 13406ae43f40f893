package core

import "context"

// TextExtractor pulls plain text out of a raw document.
// The mimeType hint selects the parsing strategy (PDF, DOCX, ...).
type TextExtractor interface {
	// Supports reports whether the extractor can handle the mime type.
	Supports(mimeType string) bool
	ExtractText(ctx context.Context, raw []byte, mimeType string) (string, error)
}
