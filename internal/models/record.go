package models

// OutputRecord is the unit handed to a sink. Field names are fixed for
// compatibility with the downstream index.
type OutputRecord struct {
	Timestamp       string    `json:"timestamp" db:"timestamp"`
	ContractAddress string    `json:"contract_address" db:"contract_address"`
	CreatorAddress  string    `json:"creator_address" db:"creator_address"`
	ABI             *string   `json:"abi" db:"abi"`
	RiskScore       RiskLevel `json:"risk_score" db:"risk_score"`
	RiskReason      string    `json:"risk_reason" db:"risk_reason"`
}

// RecordFilter for querying archived records
type RecordFilter struct {
	ContractAddress *string    `json:"contract_address,omitempty"`
	CreatorAddress  *string    `json:"creator_address,omitempty"`
	RiskScore       *RiskLevel `json:"risk_score,omitempty"`
	Limit           int        `json:"limit,omitempty"`
	Offset          int        `json:"offset,omitempty"`
}
