package sink

import (
	"context"

	"github.com/smartdevs17/contract-risk-watcher/internal/models"
)

// AlertSink forwards only records at or above a risk level
type AlertSink struct {
	next     Sink
	minLevel models.RiskLevel
}

// NewAlertSink wraps next with a level threshold
func NewAlertSink(next Sink, minLevel models.RiskLevel) *AlertSink {
	return &AlertSink{next: next, minLevel: minLevel}
}

// Name implements Sink
func (a *AlertSink) Name() string { return "alert" }

// Send implements Sink. Records below the threshold are accepted and dropped.
func (a *AlertSink) Send(ctx context.Context, record *models.OutputRecord) error {
	if !record.RiskScore.AtLeast(a.minLevel) {
		return nil
	}
	return a.next.Send(ctx, record)
}

// Close implements Sink
func (a *AlertSink) Close() error { return a.next.Close() }
