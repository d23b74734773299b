// Package billparser turns uploaded usage bills into usage records. Row
// exports (AWS cost and usage reports) are read column by column; PDF and
// text documents are classified into a known layout and scraped line by line.
package billparser

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xammer/billops/internal/domain/usage"
)

// Format is the detected kind of a bill artifact.
type Format string

const (
	FormatUnknown Format = ""
	FormatRows    Format = "rows"
	FormatPDF     Format = "pdf"
	FormatText    Format = "text"
)

// Artifact is an uploaded bill.
type Artifact struct {
	Name    string
	Content []byte
}

// Parser dispatches artifacts to the row or document path.
type Parser struct {
	extractor TextExtractor
	layouts   []Layout
	logger    *zap.Logger
}

// Option configures a Parser
type Option func(*Parser)

// WithLogger sets the logger for the parser
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) {
		p.logger = logger
	}
}

// WithTextExtractor replaces the PDF text extractor
func WithTextExtractor(e TextExtractor) Option {
	return func(p *Parser) {
		p.extractor = e
	}
}

// WithLayouts replaces the document layouts, in classification order
func WithLayouts(layouts ...Layout) Option {
	return func(p *Parser) {
		p.layouts = layouts
	}
}

// New creates a Parser with the built-in layouts.
func New(opts ...Option) *Parser {
	p := &Parser{
		layouts: DefaultLayouts(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.extractor == nil {
		p.extractor = NewPDFTextExtractor(WithPDFLogger(p.logger))
	}
	return p
}

// DetectFormat picks the parse path from the file extension, falling back
// to sniffing the content when the extension is missing or unknown.
func DetectFormat(a Artifact) Format {
	switch strings.ToLower(filepath.Ext(a.Name)) {
	case ".csv":
		return FormatRows
	case ".pdf":
		return FormatPDF
	case ".txt":
		return FormatText
	}

	if bytes.HasPrefix(a.Content, []byte("%PDF-")) {
		return FormatPDF
	}
	first := a.Content
	if i := bytes.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	if bytes.Contains(first, []byte(",")) && bytes.Contains(first, []byte("lineItem/")) {
		return FormatRows
	}
	return FormatUnknown
}

// Parse reads usage records out of an artifact. The order of the returned
// records is not significant.
func (p *Parser) Parse(ctx context.Context, a Artifact) ([]usage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(a.Content)) == 0 {
		return nil, ErrEmptyFile
	}

	format := DetectFormat(a)
	log := p.logger.With(zap.String("file", a.Name), zap.String("format", string(format)), zap.Int("bytes", len(a.Content)))

	switch format {
	case FormatRows:
		return p.parseRows(a.Content)
	case FormatPDF:
		text, err := p.extractor.ExtractText(ctx, a.Content)
		if err != nil {
			return nil, err
		}
		return p.parseDocument(log, text), nil
	case FormatText:
		return p.parseDocument(log, string(a.Content)), nil
	default:
		return nil, UnsupportedFormatError(a.Name)
	}
}

func (p *Parser) parseDocument(log *zap.Logger, text string) []usage.Record {
	records, layout := extractDocument(p.layouts, text)
	total := decimalSum(records)
	log.Info("Parsed bill document",
		zap.String("layout", layout),
		zap.Int("records", len(records)),
		zap.String("total_cost", total),
	)
	return records
}

func decimalSum(records []usage.Record) string {
	if len(records) == 0 {
		return "0.00"
	}
	sum := records[0].Cost
	for _, r := range records[1:] {
		sum = sum.Add(r.Cost)
	}
	return sum.StringFixed(2)
}
