package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/astra-intelligence/astra-ingest/internal/core"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeDOC  = "application/msword"
	mimeRTF  = "application/rtf"
	mimeText = "text/plain"
)

// DocExtractor extracts plain text from uploaded files. PDFs go through a
// pure-Go reader page by page; DOCX and friends go through docconv.
type DocExtractor struct {
	log *zap.Logger
}

var _ core.TextExtractor = (*DocExtractor)(nil)

func NewDocExtractor(log *zap.Logger) *DocExtractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocExtractor{log: log}
}

func (e *DocExtractor) Supports(mimeType string) bool {
	switch mimeType {
	case mimePDF, mimeDOCX, mimeDOC, mimeRTF, mimeText:
		return true
	}
	return false
}

func (e *DocExtractor) ExtractText(ctx context.Context, raw []byte, mimeType string) (string, error) {
	switch mimeType {
	case mimePDF:
		return e.extractPDF(ctx, raw)
	case mimeText:
		return string(raw), nil
	default:
		res, err := docconv.Convert(bytes.NewReader(raw), mimeType, false)
		if err != nil {
			return "", fmt.Errorf("docconv %s: %w", mimeType, err)
		}
		return res.Body, nil
	}
}

func (e *DocExtractor) extractPDF(ctx context.Context, raw []byte) (string, error) {
	reader := bytes.NewReader(raw)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()
	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single bad page shouldn't sink a multi-hundred page
			// document; skip it and keep going.
			e.log.Warn("skipping unreadable pdf page", zap.Int("page", i), zap.Error(err))
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
