package billparser

import (
	"strings"

	"github.com/xammer/billops/internal/domain/usage"
)

// Layout extracts usage from the text of one family of bill documents.
type Layout interface {
	// Name identifies the layout in logs.
	Name() string
	// Matches reports whether the text carries the layout's signature.
	Matches(text string) bool
	// Extract returns every usage line found in the document lines.
	Extract(lines []string) []usage.Record
}

// DefaultLayouts returns the built-in layouts in classification order.
func DefaultLayouts() []Layout {
	return []Layout{NewLayoutA(), NewLayoutB()}
}

// splitLines breaks document text into lines, tolerating CRLF.
func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// extractDocument classifies text and runs the matching layout. When no
// layout signature is present every layout is tried in order and the first
// non-empty result wins.
func extractDocument(layouts []Layout, text string) ([]usage.Record, string) {
	lines := splitLines(text)
	for _, l := range layouts {
		if l.Matches(text) {
			return l.Extract(lines), l.Name()
		}
	}
	for _, l := range layouts {
		if recs := l.Extract(lines); len(recs) > 0 {
			return recs, l.Name()
		}
	}
	return nil, ""
}
