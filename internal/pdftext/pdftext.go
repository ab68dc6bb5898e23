// Package pdftext extracts per-page plain text from a PDF. It tries the Go
// library first, then falls back to pdftotext -layout if available, which
// preserves the column spacing the downstream parsers rely on.
package pdftext

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// Page is the text of one PDF page.
type Page struct {
	Number int
	Text   string
}

// Extractor extracts page ranges from PDF bytes.
type Extractor struct {
	FallbackPdftotext bool
}

// ExtractRange returns the text of pages start..end (1-based, inclusive).
// Range errors are caller-contract violations and fail hard.
func (e *Extractor) ExtractRange(data []byte, start, end int) ([]Page, error) {
	if start < 1 || end < start {
		return nil, fmt.Errorf("invalid page range %d-%d: pages are 1-based and end must not precede start", start, end)
	}

	pages, err := e.extractAll(data)
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}
	if end > len(pages) {
		return nil, fmt.Errorf("page range %d-%d out of bounds: document has %d pages", start, end, len(pages))
	}

	out := make([]Page, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, Page{Number: i, Text: pages[i-1]})
	}
	return out, nil
}

func (e *Extractor) extractAll(data []byte) ([]string, error) {
	// ledongthuc/pdf requires a ReadSeeker+size, so we write to a temp file.
	tmp, err := os.CreateTemp("", "orcaparse-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	pages, err := extractPDFPages(tmpPath)
	if err != nil && e.FallbackPdftotext {
		var text string
		text, err = extractPdftotext(tmpPath)
		if err == nil {
			pages = strings.Split(text, "\f")
		}
	}
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// extractPDFPages returns one entry per page of the document. A page whose
// text cannot be decoded yields an empty entry rather than being dropped,
// so page numbers stay aligned with positions in the slice.
func extractPDFPages(path string) ([]string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pages := make([]string, reader.NumPage())
	for i := range pages {
		page := reader.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i] = text
	}
	return pages, nil
}

func extractPdftotext(path string) (string, error) {
	cmd := exec.Command("pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}
