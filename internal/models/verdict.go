package models

import (
	"fmt"
	"strings"
)

// RiskLevel is the qualitative risk classification of a contract
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank orders levels so that High > Medium > Low
func (l RiskLevel) Rank() int {
	switch l {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is the same as or more severe than other
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

func (l RiskLevel) String() string {
	return string(l)
}

// ParseRiskLevel parses a level name case-insensitively
func ParseRiskLevel(s string) (RiskLevel, error) {
	level := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if level.Rank() == 0 {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return level, nil
}

// RiskVerdict is the engine's final output for one candidate
type RiskVerdict struct {
	Level  RiskLevel `json:"level"`
	Reason string    `json:"reason"`
}
