// Package pdftext extracts plain text from the first pages of a PDF.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	defaultMaxPages = 5
	defaultMaxChars = 5000
)

// ErrNotPDF is returned for payloads without a PDF header.
var ErrNotPDF = errors.New("payload is not a PDF")

// Extractor reads at most MaxPages pages and keeps at most MaxChars runes.
type Extractor struct {
	MaxPages int
	MaxChars int
}

// New builds an Extractor; zero limits use 5 pages and 5000 characters.
func New(maxPages, maxChars int) *Extractor {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &Extractor{MaxPages: maxPages, MaxChars: maxChars}
}

// Text returns the truncated text of data. The pdf reader panics on some
// malformed inputs, which is reported as an error.
func (e *Extractor) Text(data []byte) (text string, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
		return "", ErrNotPDF
	}
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := min(reader.NumPage(), e.MaxPages)
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(content)
		if b.Len() >= e.MaxChars*4 {
			break
		}
	}
	return Truncate(strings.TrimSpace(b.String()), e.MaxChars), nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
