package processor

import (
	"time"

	"github.com/smartdevs17/contract-risk-watcher/internal/models"
)

// TimestampLayout is the fixed-width UTC layout of OutputRecord.Timestamp
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Format builds the downstream record for one assessed candidate. The
// interface definition is passed through as an opaque string and copied so
// the record never aliases metadata.
func Format(candidate models.ContractCandidate, metadata models.ContractMetadata, verdict models.RiskVerdict, now time.Time) models.OutputRecord {
	var abi *string
	if metadata.InterfaceDefinition != nil {
		v := *metadata.InterfaceDefinition
		abi = &v
	}

	return models.OutputRecord{
		Timestamp:       now.UTC().Format(TimestampLayout),
		ContractAddress: candidate.ContractAddress,
		CreatorAddress:  candidate.CreatorAddress,
		ABI:             abi,
		RiskScore:       verdict.Level,
		RiskReason:      verdict.Reason,
	}
}
