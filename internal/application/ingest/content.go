package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// ErrUnsupportedContent is returned for binary content the ingestor cannot
// turn into text.
var ErrUnsupportedContent = errors.New("unsupported document content")

// pdfSniffLen is how far into the body the PDF header may appear. Some
// writers put junk before it and readers tolerate the first kilobyte.
const pdfSniffLen = 1024

// TextExtractor turns a binary transcript into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, content []byte) (string, error)
}

// IsPDF reports whether content carries a PDF header.
func IsPDF(content []byte) bool {
	head := content
	if len(head) > pdfSniffLen {
		head = head[:pdfSniffLen]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

// plainText returns content as text, extracting PDFs first.
func (i *Ingestor) plainText(ctx context.Context, content []byte) ([]byte, error) {
	if !IsPDF(content) {
		return content, nil
	}
	if i.extractor == nil {
		return nil, fmt.Errorf("%w: pdf extraction is not configured", ErrUnsupportedContent)
	}
	text, err := i.extractor.Extract(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("failed to extract pdf text: %w", err)
	}
	return []byte(text), nil
}
