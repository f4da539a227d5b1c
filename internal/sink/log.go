package sink

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// LogSink writes each record as a structured log line
type LogSink struct {
	logger *logrus.Entry
}

// NewLogSink creates a log sink on the global logger
func NewLogSink() *LogSink {
	return &LogSink{logger: utils.ComponentLogger("record")}
}

// Name implements Sink
func (l *LogSink) Name() string { return "log" }

// Send implements Sink
func (l *LogSink) Send(_ context.Context, record *models.OutputRecord) error {
	entry := l.logger.WithFields(logrus.Fields{
		"timestamp":        record.Timestamp,
		"contract_address": record.ContractAddress,
		"creator_address":  record.CreatorAddress,
		"has_abi":          record.ABI != nil,
		"risk_score":       record.RiskScore,
		"risk_reason":      record.RiskReason,
	})

	switch record.RiskScore {
	case models.RiskHigh:
		entry.Warn("High risk contract")
	case models.RiskMedium:
		entry.Info("Medium risk contract")
	default:
		entry.Info("Contract assessed")
	}
	return nil
}

// Close implements Sink
func (l *LogSink) Close() error { return nil }
