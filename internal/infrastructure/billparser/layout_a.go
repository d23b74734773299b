package billparser

import (
	"regexp"
	"strings"

	"github.com/xammer/billops/internal/domain/usage"
)

const knownRegions = `Africa \(Cape Town\)|Asia Pacific \((?:Mumbai|Singapore|Sydney|Tokyo|Hong Kong|Seoul)\)|` +
	`Canada \(Central\)|EU \(Ireland\)|Middle East \(Bahrain\)|` +
	`South America \(Sao Paulo\)|US East \(N\. Virginia\)|US West \(Oregon\)|Global`

// layoutARules drive the AWS native invoice layout: a region header, then
// a service header, then one or more "<qty> <unit> USD <cost>" lines.
type layoutARules struct {
	signatures []string
	region     *regexp.Regexp
	service    *regexp.Regexp
	costLine   *regexp.Regexp
}

// LayoutA reads AWS native "Charges by service" bills.
type LayoutA struct {
	rules layoutARules
}

// NewLayoutA creates the AWS native layout.
func NewLayoutA() *LayoutA {
	return &LayoutA{rules: layoutARules{
		signatures: []string{"Charges by service", "Usage Quantity"},
		region:     regexp.MustCompile(`^(` + knownRegions + `)$`),
		service:    regexp.MustCompile(`^(?:Amazon CloudFront )?([A-Z0-9]{2,}(?:-[A-Za-z0-9]+)+|Bandwidth|Invalidations?)$`),
		costLine:   regexp.MustCompile(`([0-9,]+(?:\.[0-9]+)?)\s+(GB|Requests|URL)\s+USD\s+([0-9,]+\.[0-9]{2})`),
	}}
}

func (l *LayoutA) Name() string { return "aws-native" }

func (l *LayoutA) Matches(text string) bool {
	for _, sig := range l.rules.signatures {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}

func (l *LayoutA) Extract(lines []string) []usage.Record {
	var (
		out     []usage.Record
		region  = usage.RegionGlobal
		service string
	)
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := l.rules.region.FindStringSubmatch(line); m != nil {
			region = m[1]
			continue
		}
		priced := strings.Contains(line, "USD") || strings.Contains(line, "$")
		if m := l.rules.service.FindStringSubmatch(line); m != nil && !priced {
			service = m[1]
			continue
		}
		if service == "" || !priced {
			continue
		}
		m := l.rules.costLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		cost, err := parseNumber(m[3])
		if err != nil || !cost.IsPositive() {
			continue
		}
		qty, err := parseNumber(m[1])
		if err != nil {
			continue
		}
		out = append(out, usage.NewRecord(region, service, qty, m[2], cost))
	}
	return out
}
