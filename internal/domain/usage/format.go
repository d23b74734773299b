package usage

import (
	"regexp"
	"strings"
)

var (
	regionPrefix  = regexp.MustCompile(`^[A-Z]{2,4}\d-`)
	camelBoundary = regexp.MustCompile(`(\p{Ll})(\p{Lu})`)
)

var ebsVolumeNames = map[string]string{
	"volumeusage.gp3":  "EBS General Purpose SSD (gp3) Volume Storage",
	"volumeusage.gp2":  "EBS General Purpose SSD (gp2) Volume Storage",
	"volumeusage.io1":  "EBS Provisioned IOPS SSD (io1) Volume Storage",
	"volumeusage.io2":  "EBS Provisioned IOPS SSD (io2) Volume Storage",
	"volumeusage.st1":  "EBS Throughput Optimized HDD (st1) Volume Storage",
	"volumeusage.sc1":  "EBS Cold HDD (sc1) Volume Storage",
	"volumep-iops.io1": "EBS Provisioned IOPS SSD (io1) IOPS",
	"volumep-iops.io2": "EBS Provisioned IOPS SSD (io2) IOPS",
}

var exactNames = map[string]string{
	"loadbalancerusage":   "ELB Application Load Balancer Hours",
	"lcuusage":            "ELB Application Load Balancer Capacity Units (LCU Hours)",
	"apirequest":          "API Gateway Requests",
	"paidcompliancecheck": "Security Hub Compliance Check",
}

// FormatUsageType turns a raw AWS usage type such as "USE1-BoxUsage:t3.micro"
// into a readable resource name. Rules are checked in order; the fallback
// splits dashes and camel case.
func FormatUsageType(usageType string) string {
	if usageType == "" {
		return "Unknown Usage"
	}
	if loc := regionPrefix.FindStringIndex(usageType); loc != nil {
		usageType = usageType[loc[1]:]
	}

	if rest, ok := cutAnyPrefix(usageType, "BoxUsage:", "InstanceUsage:"); ok {
		return "EC2 On Demand Linux " + rest + " Instance Hour"
	}

	usageType = strings.TrimPrefix(usageType, "EBS:")
	if name, ok := ebsVolumeNames[strings.ToLower(usageType)]; ok {
		return name
	}

	if strings.Contains(usageType, "DataTransfer") {
		switch {
		case strings.Contains(usageType, "Regional-Bytes"):
			return "Data Transfer Regional"
		case strings.Contains(usageType, "Out-Bytes"):
			return "Data Transfer Out to Internet"
		case strings.Contains(usageType, "In-Bytes"):
			return "Data Transfer In from Internet"
		default:
			return "Data Transfer (Other)"
		}
	}

	if strings.HasPrefix(usageType, "NatGateway") {
		if strings.HasSuffix(usageType, "-Bytes") {
			return "NAT Gateway Data Processed"
		}
		if strings.HasSuffix(usageType, "-Hours") {
			return "NAT Gateway Hourly Charge"
		}
	}

	lower := strings.ToLower(usageType)
	if lower == "loadbalancerusage" || lower == "lcuusage" {
		return exactNames[lower]
	}
	if strings.Contains(usageType, "NetworkLoadBalancer") {
		return "ELB Network Load Balancer"
	}

	if strings.HasPrefix(usageType, "TimedStorage-") {
		switch {
		case strings.Contains(usageType, "StandardIA"):
			return "S3 Storage Standard - Infrequent Access"
		case strings.Contains(usageType, "OneZoneIA"):
			return "S3 Storage One Zone - Infrequent Access"
		case strings.Contains(usageType, "Glacier"):
			return "S3 Storage Glacier"
		case strings.Contains(usageType, "Intelligent"):
			return "S3 Storage Intelligent Tiering"
		default:
			return "S3 Storage Standard"
		}
	}
	if rest, ok := strings.CutPrefix(usageType, "Requests-"); ok {
		return "S3 API Requests (" + rest + ")"
	}

	switch {
	case strings.Contains(usageType, "InstanceUsage"):
		return "RDS Instance Usage"
	case strings.Contains(usageType, "StorageUsage"):
		return "RDS Storage Usage"
	case strings.Contains(usageType, "PIOPS"):
		return "RDS Provisioned IOPS"
	}

	if name, ok := exactNames[lower]; ok {
		return name
	}
	if strings.Contains(usageType, "Config") {
		return "AWS Config Item Recorded"
	}

	return camelBoundary.ReplaceAllString(strings.ReplaceAll(usageType, "-", " "), "$1 $2")
}

func cutAnyPrefix(s string, prefixes ...string) (string, bool) {
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(s, p); ok {
			return rest, true
		}
	}
	return s, false
}
