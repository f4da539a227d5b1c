// Package sink delivers assessed records to downstream systems.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/metrics"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// ErrDelivery marks a record that a sink did not accept
var ErrDelivery = errors.New("delivery failed")

// Sink accepts one record per call
type Sink interface {
	Name() string
	Send(ctx context.Context, record *models.OutputRecord) error
	Close() error
}

// deliveryError wraps err so that errors.Is(err, ErrDelivery) holds
func deliveryError(sink string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDelivery, sink, err)
}

// SinkStats counts outcomes for one sink
type SinkStats struct {
	Delivered    int64     `json:"delivered"`
	Failed       int64     `json:"failed"`
	LastError    string    `json:"last_error,omitempty"`
	LastDelivery time.Time `json:"last_delivery,omitempty"`
}

// Multi fans a record out to every configured sink
type Multi struct {
	sinks          []Sink
	metricsManager *metrics.Manager
	logger         *logrus.Entry

	mu    sync.Mutex
	stats map[string]*SinkStats
}

// NewMulti creates a fan-out sink. metricsManager may be nil.
func NewMulti(metricsManager *metrics.Manager, sinks ...Sink) *Multi {
	stats := make(map[string]*SinkStats, len(sinks))
	for _, s := range sinks {
		stats[s.Name()] = &SinkStats{}
	}
	return &Multi{
		sinks:          sinks,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("sink"),
		stats:          stats,
	}
}

// Name implements Sink
func (m *Multi) Name() string { return "multi" }

// Send delivers to every sink concurrently. All sinks are attempted; the
// failures are joined into one error.
func (m *Multi) Send(ctx context.Context, record *models.OutputRecord) error {
	if len(m.sinks) == 1 {
		return m.sendOne(ctx, m.sinks[0], record)
	}

	errs := make([]error, len(m.sinks))
	var wg sync.WaitGroup
	for i, s := range m.sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			errs[i] = m.sendOne(ctx, s, record)
		}(i, s)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (m *Multi) sendOne(ctx context.Context, s Sink, record *models.OutputRecord) error {
	start := time.Now()
	err := s.Send(ctx, record)
	if err != nil && !errors.Is(err, ErrDelivery) {
		err = deliveryError(s.Name(), err)
	}

	if m.metricsManager != nil {
		m.metricsManager.GetPrometheusMetrics().RecordDelivery(s.Name(), time.Since(start), err)
	}

	m.mu.Lock()
	st := m.stats[s.Name()]
	if st == nil {
		st = &SinkStats{}
		m.stats[s.Name()] = st
	}
	if err != nil {
		st.Failed++
		st.LastError = err.Error()
	} else {
		st.Delivered++
		st.LastDelivery = time.Now()
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"sink":     s.Name(),
			"contract": record.ContractAddress,
			"error":    err,
		}).Warn("Record delivery failed")
	}
	return err
}

// Close closes every sink
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Sinks returns the names of the wrapped sinks
func (m *Multi) Sinks() []string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	return names
}

// GetStats returns a copy of per-sink statistics
func (m *Multi) GetStats() map[string]SinkStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]SinkStats, len(m.stats))
	for name, st := range m.stats {
		out[name] = *st
	}
	return out
}
