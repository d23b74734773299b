package billparser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xammer/billops/internal/domain/usage"
)

// layoutBRules drive the distributor layout, where each charge ends in a
// dollar amount and its quantity sits on the same line or shortly above.
type layoutBRules struct {
	signature        string
	region           *regexp.Regexp
	trailingCost     *regexp.Regexp
	sameLineQuantity *regexp.Regexp
	quantityOnly     *regexp.Regexp
	priceTail        *regexp.Regexp
	quantityLookback int
	typeLookback     int
	minCost          decimal.Decimal
	defaultUsageType string
}

// LayoutB reads distributor bills issued by Amazon Internet Services.
type LayoutB struct {
	rules layoutBRules
}

// NewLayoutB creates the distributor layout.
func NewLayoutB() *LayoutB {
	return &LayoutB{rules: layoutBRules{
		signature:        "Amazon Internet Services",
		region:           regexp.MustCompile(`^(` + knownRegions + `|HTTP or HTTPS GET Request Additional Charges)`),
		trailingCost:     regexp.MustCompile(`\$([0-9,]+\.[0-9]{2})$`),
		sameLineQuantity: regexp.MustCompile(`([0-9,]+\.?[0-9]*)\s+(GB|Requests|URL|Bytes|-)\s+\$`),
		quantityOnly:     regexp.MustCompile(`([0-9,]+\.?[0-9]*)\s+(GB|Requests|URL|Bytes|-)$`),
		priceTail:        regexp.MustCompile(`\$\s*[0-9.]+.*`),
		quantityLookback: 3,
		typeLookback:     2,
		minCost:          decimal.RequireFromString("0.001"),
		defaultUsageType: usage.DefaultResource,
	}}
}

func (l *LayoutB) Name() string { return "distributor" }

func (l *LayoutB) Matches(text string) bool {
	return strings.Contains(text, l.rules.signature)
}

func (l *LayoutB) Extract(lines []string) []usage.Record {
	var out []usage.Record
	region := usage.RegionGlobal

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := l.rules.region.FindStringSubmatch(line); m != nil {
			region = m[1]
			continue
		}
		m := l.rules.trailingCost.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		cost, err := parseNumber(m[1])
		if err != nil || !cost.GreaterThan(l.rules.minCost) {
			continue
		}

		usageType, qty, unit := l.sameLine(line)
		if qty.IsZero() {
			usageType, qty, unit = l.lookBack(lines, i, usageType, unit)
		}
		if usageType == "" {
			usageType = l.rules.defaultUsageType
		}
		out = append(out, usage.NewRecord(region, usageType, qty, unit, cost))
	}
	return out
}

func (l *LayoutB) sameLine(line string) (string, decimal.Decimal, string) {
	loc := l.rules.sameLineQuantity.FindStringSubmatchIndex(line)
	if loc == nil {
		return "", decimal.Zero, usage.UnitGB
	}
	qty, err := parseNumber(line[loc[2]:loc[3]])
	if err != nil {
		return "", decimal.Zero, usage.UnitGB
	}
	usageType := strings.TrimSpace(line[:loc[0]])
	usageType = strings.TrimSpace(l.rules.priceTail.ReplaceAllString(usageType, ""))
	return usageType, qty, normalizeUnit(line[loc[4]:loc[5]])
}

// lookBack searches the preceding lines for a quantity-only line and takes
// the usage type from the text lines just above it.
func (l *LayoutB) lookBack(lines []string, i int, usageType, unit string) (string, decimal.Decimal, string) {
	for j := max(0, i-l.rules.quantityLookback); j < i; j++ {
		prev := strings.TrimSpace(lines[j])
		m := l.rules.quantityOnly.FindStringSubmatch(prev)
		if m == nil {
			continue
		}
		qty, err := parseNumber(m[1])
		if err != nil {
			continue
		}
		for k := max(0, j-l.rules.typeLookback); k < j; k++ {
			candidate := strings.TrimSpace(lines[k])
			if isUsageTypeLine(candidate) {
				usageType = candidate
				break
			}
		}
		return usageType, qty, normalizeUnit(m[2])
	}
	return usageType, decimal.Zero, unit
}

func isUsageTypeLine(s string) bool {
	return len(s) > 2 && !strings.ContainsAny(s, "$0123456789,")
}

func normalizeUnit(u string) string {
	if u == "-" {
		return usage.UnitRequests
	}
	return u
}
