package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatUsageType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "Unknown Usage"},
		{"USE1-BoxUsage:t3.micro", "EC2 On Demand Linux t3.micro Instance Hour"},
		{"InstanceUsage:db.t3.small", "EC2 On Demand Linux db.t3.small Instance Hour"},
		{"EUW2-EBS:VolumeUsage.gp3", "EBS General Purpose SSD (gp3) Volume Storage"},
		{"EBS:VolumeP-IOPS.io2", "EBS Provisioned IOPS SSD (io2) IOPS"},
		{"USE1-DataTransfer-Regional-Bytes", "Data Transfer Regional"},
		{"DataTransfer-Out-Bytes", "Data Transfer Out to Internet"},
		{"APS1-DataTransfer-In-Bytes", "Data Transfer In from Internet"},
		{"USE2-USE1-AWS-Out-Bytes-DataTransfer", "Data Transfer Out to Internet"},
		{"DataTransfer-xAZ", "Data Transfer (Other)"},
		{"USE1-NatGateway-Bytes", "NAT Gateway Data Processed"},
		{"NatGateway-Hours", "NAT Gateway Hourly Charge"},
		{"USE1-LoadBalancerUsage", "ELB Application Load Balancer Hours"},
		{"LCUUsage", "ELB Application Load Balancer Capacity Units (LCU Hours)"},
		{"USE1-NetworkLoadBalancer-Hours", "ELB Network Load Balancer"},
		{"TimedStorage-ByteHrs", "S3 Storage Standard"},
		{"TimedStorage-SIA-ByteHrs-StandardIA", "S3 Storage Standard - Infrequent Access"},
		{"TimedStorage-GlacierByteHrs", "S3 Storage Glacier"},
		{"Requests-Tier1", "S3 API Requests (Tier1)"},
		{"RDS:GP2-StorageUsage", "RDS Storage Usage"},
		{"RDS:PIOPS", "RDS Provisioned IOPS"},
		{"APIRequest", "API Gateway Requests"},
		{"PaidComplianceCheck", "Security Hub Compliance Check"},
		{"ConfigurationItemRecorded", "AWS Config Item Recorded"},
		{"CloudFront-Invalidations", "Cloud Front Invalidations"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUsageType(tt.in))
		})
	}
}
