// Package textextract pulls plain text out of PDF documents, page by page.
// It never fails the caller: any parse error yields an empty result so the
// orchestrator can escalate to the next tier.
package textextract

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Result is the outcome of a local text extraction pass.
type Result struct {
	Text      string
	PageCount int
}

// Extractor extracts plain text from PDF bytes. AssetsDir points at the
// font resources directory; it is optional and only consulted for PDFs with
// non-embedded fonts.
type Extractor struct {
	AssetsDir string
	Logger    *slog.Logger
}

// New creates a text extractor.
func New(assetsDir string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{AssetsDir: assetsDir, Logger: logger}
}

// Extract returns per-page text joined by blank lines plus the page count.
// Non-PDF inputs and unreadable PDFs return an empty result.
func (e *Extractor) Extract(data []byte) Result {
	if !isPDF(data) {
		return Result{}
	}

	var out Result
	func() {
		// The pdf parser panics on some malformed documents.
		defer func() {
			if r := recover(); r != nil {
				e.Logger.Warn("pdf text extraction panicked", "reason", r)
				out = Result{}
			}
		}()

		reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			e.Logger.Warn("pdf open failed", "error", err)
			return
		}

		total := reader.NumPage()
		pages := make([]string, 0, total)
		for i := 1; i <= total; i++ {
			page := reader.Page(i)
			if page.V.IsNull() {
				continue
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				e.Logger.Warn("pdf page text failed", "page", i, "error", err)
				continue
			}
			text = strings.TrimSpace(text)
			if text != "" {
				pages = append(pages, text)
			}
		}

		out = Result{
			Text:      strings.Join(pages, "\n\n"),
			PageCount: total,
		}
	}()
	return out
}

func isPDF(data []byte) bool {
	return len(data) >= 5 && bytes.HasPrefix(data, []byte("%PDF-"))
}
