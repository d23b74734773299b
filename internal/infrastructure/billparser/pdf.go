package billparser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// TextExtractor turns document bytes into plain text, one text row per line.
type TextExtractor interface {
	ExtractText(ctx context.Context, content []byte) (string, error)
}

// PDFTextExtractor reads PDF text rows. The pdf reader works on files, so
// content is spooled to a temporary file that is always removed.
type PDFTextExtractor struct {
	tempDir string
	logger  *zap.Logger
}

// PDFOption configures a PDFTextExtractor
type PDFOption func(*PDFTextExtractor)

// WithTempDir sets the directory used for spooled PDFs (default os.TempDir)
func WithTempDir(dir string) PDFOption {
	return func(e *PDFTextExtractor) {
		e.tempDir = dir
	}
}

// WithPDFLogger sets the logger
func WithPDFLogger(logger *zap.Logger) PDFOption {
	return func(e *PDFTextExtractor) {
		e.logger = logger
	}
}

// NewPDFTextExtractor creates a PDF text extractor
func NewPDFTextExtractor(opts ...PDFOption) *PDFTextExtractor {
	e := &PDFTextExtractor{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractText implements TextExtractor.
func (e *PDFTextExtractor) ExtractText(ctx context.Context, content []byte) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(e.tempDir, "bill-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	path := tmp.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			e.logger.Warn("Failed to remove temporary PDF", zap.String("path", path), zap.Error(rmErr))
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to spool PDF: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to spool PDF: %w", err)
	}

	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to read PDF: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("failed to read PDF page %d: %w", i, err)
		}
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, w := range row.Content {
				words = append(words, w.S)
			}
			sb.WriteString(strings.Join(words, " "))
			sb.WriteByte('\n')
		}
	}

	e.logger.Debug("Extracted PDF text", zap.Int("pages", pages), zap.Int("chars", sb.Len()))
	return sb.String(), nil
}
