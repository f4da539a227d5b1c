package models

import "time"

// ContractCandidate is a freshly observed contract deployment
type ContractCandidate struct {
	ContractAddress string `json:"contract_address"`
	CreatorAddress  string `json:"creator_address"`
	BlockNumber     uint64 `json:"block_number,omitempty"`
	TxHash          string `json:"tx_hash,omitempty"`
}

// ContractMetadata holds enrichment data fetched for a single candidate.
// Nil fields mean the provider could not resolve the value.
type ContractMetadata struct {
	InterfaceDefinition *string    `json:"interface_definition,omitempty"`
	SourceVerified      bool       `json:"source_verified"`
	CreationTimestamp   *time.Time `json:"creation_timestamp,omitempty"`
	TransactionCount    *uint64    `json:"transaction_count,omitempty"`
}

// HasInterface reports whether a non-empty interface definition is present
func (m *ContractMetadata) HasInterface() bool {
	return m != nil && m.InterfaceDefinition != nil && *m.InterfaceDefinition != ""
}

// ContractSource is the result of the source/interface lookup
type ContractSource struct {
	InterfaceDefinition *string
	SourceVerified      bool
	ContractName        string
}
