package processor

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// Rejection explains why a candidate was dropped before enrichment
type Rejection struct {
	Candidate models.ContractCandidate `json:"candidate"`
	Reason    string                   `json:"reason"`
}

// Rejection reasons
const (
	RejectMissingAddress = "missing contract address"
	RejectDuplicate      = "duplicate candidate"
)

// CandidateValidator screens discovered candidates
type CandidateValidator struct {
	logger *logrus.Entry
}

// NewCandidateValidator creates a new candidate validator
func NewCandidateValidator() *CandidateValidator {
	return &CandidateValidator{logger: utils.ComponentLogger("validator")}
}

// Validate checks a single candidate and returns the rejection reason, if any.
// Only a missing contract address is fatal. Addresses that do not look like
// EVM addresses are passed through untouched since blacklist matching works
// on the raw string.
func (v *CandidateValidator) Validate(c models.ContractCandidate) string {
	if c.ContractAddress == "" {
		return RejectMissingAddress
	}
	if !utils.IsValidAddress(c.ContractAddress) || (c.CreatorAddress != "" && !utils.IsValidAddress(c.CreatorAddress)) {
		v.logger.WithFields(logrus.Fields{
			"contract": c.ContractAddress,
			"creator":  c.CreatorAddress,
		}).Warn("Candidate address is not a hex address")
	}
	return ""
}

// Filter returns the valid candidates in their original order. A contract
// seen twice in one batch keeps its first occurrence. Addresses are
// compared case-insensitively here but passed through unchanged.
func (v *CandidateValidator) Filter(candidates []models.ContractCandidate) ([]models.ContractCandidate, []Rejection) {
	valid := make([]models.ContractCandidate, 0, len(candidates))
	var rejected []Rejection
	seen := make(map[string]struct{}, len(candidates))

	for _, c := range candidates {
		if reason := v.Validate(c); reason != "" {
			rejected = append(rejected, Rejection{Candidate: c, Reason: reason})
			continue
		}
		key := strings.ToLower(c.ContractAddress)
		if _, dup := seen[key]; dup {
			rejected = append(rejected, Rejection{Candidate: c, Reason: RejectDuplicate})
			continue
		}
		seen[key] = struct{}{}
		valid = append(valid, c)
	}
	return valid, rejected
}
