package billparser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xammer/billops/internal/domain/usage"
)

// Cost and usage report columns
const (
	ColProductCode = "lineItem/ProductCode"
	ColUsageType   = "lineItem/UsageType"
	ColUsageAmount = "lineItem/UsageAmount"
	ColCost        = "lineItem/UnblendedCost"
	ColRegion      = "product/region"
	ColUnit        = "pricing/unit"
)

// RequiredColumns must all be present in a row export header. Blank
// cells are still allowed in the region and unit columns.
var RequiredColumns = []string{ColProductCode, ColUsageType, ColUsageAmount, ColCost, ColUnit, ColRegion}

var cloudFrontProductCodes = []string{"AmazonCloudFront", "Amazon CloudFront"}

// rowReader wraps encoding/csv with BOM stripping and a header index.
type rowReader struct {
	reader    *csv.Reader
	headerMap map[string]int
	line      int
}

func newRowReader(r io.Reader) (*rowReader, error) {
	br := bufio.NewReader(r)

	// UTF-8 BOM: 0xEF, 0xBB, 0xBF
	head, err := br.Peek(3)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read bill: %w", err)
	}
	if bytes.HasPrefix(head, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return &rowReader{reader: cr, headerMap: make(map[string]int)}, nil
}

func (rr *rowReader) readHeader() error {
	record, err := rr.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	rr.line = 1
	for i, h := range record {
		rr.headerMap[strings.TrimSpace(h)] = i
	}
	return nil
}

func (rr *rowReader) missing(required []string) []string {
	var out []string
	for _, col := range required {
		if _, ok := rr.headerMap[col]; !ok {
			out = append(out, col)
		}
	}
	return out
}

// next returns the next record, io.EOF at the end, or a *MalformedRowError
// for a line the csv reader rejected.
func (rr *rowReader) next() ([]string, error) {
	record, err := rr.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	rr.line++
	if err != nil {
		return nil, &MalformedRowError{Line: rr.line, Reason: "unreadable csv line", Err: err}
	}
	return record, nil
}

func (rr *rowReader) field(record []string, col string) (string, bool) {
	idx, ok := rr.headerMap[col]
	if !ok || idx >= len(record) {
		return "", false
	}
	return strings.TrimSpace(record[idx]), true
}

type rowStats struct {
	total      int
	cloudFront int
	kept       int
	skipped    int
}

// parseRows reads an AWS cost and usage report and returns its CloudFront
// usage. Header problems abort; bad rows are logged and skipped.
func (p *Parser) parseRows(content []byte) ([]usage.Record, error) {
	rr, err := newRowReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	if err := rr.readHeader(); err != nil {
		return nil, err
	}
	if missing := rr.missing(RequiredColumns); len(missing) > 0 {
		return nil, MissingColumnsError(missing)
	}

	var (
		records []usage.Record
		stats   rowStats
	)
	for {
		record, err := rr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.total++
		if err != nil {
			stats.skipped++
			p.logger.Warn("Skipping malformed bill row", zap.Error(err))
			continue
		}

		code, ok := rr.field(record, ColProductCode)
		if !ok {
			stats.skipped++
			p.logger.Warn("Skipping malformed bill row",
				zap.Error(&MalformedRowError{Line: rr.line, Reason: fmt.Sprintf("expected %d columns, got %d", len(rr.headerMap), len(record))}))
			continue
		}
		if !isCloudFrontProduct(code) {
			continue
		}
		stats.cloudFront++

		rec, err := rr.toRecord(record)
		if err != nil {
			stats.skipped++
			p.logger.Warn("Skipping malformed bill row", zap.Error(err))
			continue
		}
		if !rec.IsBillable() {
			stats.skipped++
			continue
		}
		records = append(records, rec)
		stats.kept++
	}

	p.logger.Info("Parsed cost and usage report",
		zap.Int("rows", stats.total),
		zap.Int("cloudfront_rows", stats.cloudFront),
		zap.Int("kept", stats.kept),
		zap.Int("skipped", stats.skipped),
	)
	return records, nil
}

func (rr *rowReader) toRecord(record []string) (usage.Record, error) {
	region, ok1 := rr.field(record, ColRegion)
	usageType, ok2 := rr.field(record, ColUsageType)
	rawQty, ok3 := rr.field(record, ColUsageAmount)
	rawCost, ok4 := rr.field(record, ColCost)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return usage.Record{}, &MalformedRowError{
			Line:   rr.line,
			Reason: fmt.Sprintf("expected %d columns, got %d", len(rr.headerMap), len(record)),
		}
	}

	qty, err := parseNumber(rawQty)
	if err != nil {
		return usage.Record{}, &MalformedRowError{Line: rr.line, Reason: "invalid usage amount", Err: err}
	}
	cost, err := parseNumber(rawCost)
	if err != nil {
		return usage.Record{}, &MalformedRowError{Line: rr.line, Reason: "invalid cost", Err: err}
	}
	unit, _ := rr.field(record, ColUnit)

	return usage.NewRecord(region, usageType, qty, unit, cost), nil
}

func isCloudFrontProduct(code string) bool {
	for _, c := range cloudFrontProductCodes {
		if strings.EqualFold(code, c) {
			return true
		}
	}
	return false
}

// parseNumber reads a decimal that may carry thousands separators.
func parseNumber(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
}
