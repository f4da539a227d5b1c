// Package monitor discovers newly deployed contracts and feeds them to
// the assessment pipeline.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/metrics"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/internal/processor"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// Source reports new deployments in a block range
type Source interface {
	Name() string
	LatestBlock(ctx context.Context) (uint64, error)
	Deployments(ctx context.Context, fromBlock, toBlock uint64) ([]models.ContractCandidate, error)
}

// Cursor persists the last block whose deployments were processed
type Cursor interface {
	GetLatestProcessedBlock() (uint64, error)
	SetLatestProcessedBlock(blockNumber uint64) error
}

// BatchRunner processes one discovery batch
type BatchRunner interface {
	Run(ctx context.Context, candidates []models.ContractCandidate) (*processor.BatchResult, error)
}

// MonitorConfig holds monitor configuration
type MonitorConfig struct {
	PollInterval  time.Duration `json:"poll_interval"`
	StartBlock    uint64        `json:"start_block"`
	Confirmations uint64        `json:"confirmations"`
	MaxBlockRange uint64        `json:"max_block_range"`
}

// PollResult describes one discovery iteration
type PollResult struct {
	LatestBlock uint64                 `json:"latest_block"`
	FromBlock   uint64                 `json:"from_block"`
	ToBlock     uint64                 `json:"to_block"`
	Candidates  int                    `json:"candidates"`
	Batch       *processor.BatchResult `json:"batch,omitempty"`
}

// MonitorStats provides monitoring statistics
type MonitorStats struct {
	StartTime            time.Time     `json:"start_time"`
	Uptime               time.Duration `json:"uptime"`
	IsRunning            bool          `json:"is_running"`
	Source               string        `json:"source"`
	LatestProcessedBlock uint64        `json:"latest_processed_block"`
	LatestChainBlock     uint64        `json:"latest_chain_block"`
	TotalPolls           uint64        `json:"total_polls"`
	TotalCandidates      uint64        `json:"total_candidates"`
	ErrorCount           uint64        `json:"error_count"`
	LastPoll             *time.Time    `json:"last_poll,omitempty"`
	LastError            *string       `json:"last_error,omitempty"`
	LastErrorTime        *time.Time    `json:"last_error_time,omitempty"`
}

// HealthStatus provides health information
type HealthStatus struct {
	Healthy      bool     `json:"healthy"`
	BlocksBehind uint64   `json:"blocks_behind"`
	Issues       []string `json:"issues,omitempty"`
}

// Monitor polls a Source and runs each new block range through the pipeline
type Monitor struct {
	source         Source
	cursor         Cursor
	runner         BatchRunner
	config         *MonitorConfig
	metricsManager *metrics.Manager
	logger         *logrus.Entry

	mu         sync.RWMutex
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	stats      MonitorStats
	pollFailed bool
}

// NewMonitor creates a new discovery monitor. metricsManager may be nil.
func NewMonitor(source Source, cursor Cursor, runner BatchRunner, config *MonitorConfig, metricsManager *metrics.Manager) *Monitor {
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.MaxBlockRange == 0 {
		config.MaxBlockRange = 100
	}
	return &Monitor{
		source:         source,
		cursor:         cursor,
		runner:         runner,
		config:         config,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("monitor").WithField("source", source.Name()),
		stats: MonitorStats{
			StartTime: time.Now(),
			Source:    source.Name(),
		},
	}
}

// Start runs the polling loop until Stop is called or ctx is done
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Monitor already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.stats.StartTime = time.Now()

	m.wg.Add(1)
	go m.monitoringLoop(loopCtx)

	m.logger.WithField("poll_interval", m.config.PollInterval).Info("Discovery monitor started")
	return nil
}

// Stop stops the loop and waits for the in-flight batch to finish
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.logger.Info("Discovery monitor stopped")
	return nil
}

// IsRunning returns whether the monitor is running
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Monitor) monitoringLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := m.Poll(ctx); err != nil && ctx.Err() == nil {
			m.logger.WithError(err).Error("Discovery poll failed")
		}

		select {
		case <-ctx.Done():
			m.logger.Debug("Monitoring loop stopped by context")
			return
		case <-ticker.C:
		}
	}
}

// Poll runs one discovery iteration: it finds the next confirmed block
// range after the cursor, processes its deployments and advances the
// cursor. The cursor is left alone when the batch is cancelled.
func (m *Monitor) Poll(ctx context.Context) (*PollResult, error) {
	latest, err := m.source.LatestBlock(ctx)
	if err != nil {
		return nil, m.recordError(utils.WrapAppError(utils.ErrCodeConnection, "Failed to get latest block number", err))
	}

	processed, err := m.cursor.GetLatestProcessedBlock()
	if err != nil {
		return nil, m.recordError(utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get latest processed block", err))
	}

	result := &PollResult{LatestBlock: latest}
	m.updateChainStats(latest, processed)

	if latest < m.config.Confirmations {
		return result, nil
	}
	confirmed := latest - m.config.Confirmations

	if processed == 0 {
		switch {
		case m.config.StartBlock > 0:
			processed = m.config.StartBlock - 1
		case confirmed > 0:
			// No history requested: begin at the confirmed head.
			processed = confirmed - 1
		}
	}
	if confirmed <= processed {
		return result, nil
	}

	from := processed + 1
	to := confirmed
	if to-from+1 > m.config.MaxBlockRange {
		to = from + m.config.MaxBlockRange - 1
	}
	result.FromBlock, result.ToBlock = from, to

	batch, err := m.ScanRange(ctx, from, to)
	if batch != nil {
		result.Batch = batch
		result.Candidates = batch.Total
	}
	if err != nil {
		return result, m.recordError(err)
	}

	if err := m.cursor.SetLatestProcessedBlock(to); err != nil {
		return result, m.recordError(utils.WrapAppError(utils.ErrCodeDatabase, "Failed to update latest processed block", err))
	}
	m.updateChainStats(latest, to)

	return result, nil
}

// ScanRange discovers and processes deployments in [from, to] without
// touching the cursor
func (m *Monitor) ScanRange(ctx context.Context, from, to uint64) (*processor.BatchResult, error) {
	log := m.logger.WithFields(logrus.Fields{"from": from, "to": to})
	log.Debug("Scanning block range")

	candidates, err := m.source.Deployments(ctx, from, to)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeBlockchain, "Failed to discover deployments", err)
	}

	m.mu.Lock()
	m.stats.TotalPolls++
	m.stats.TotalCandidates += uint64(len(candidates))
	now := time.Now()
	m.stats.LastPoll = &now
	m.mu.Unlock()

	if m.metricsManager != nil {
		m.metricsManager.GetPrometheusMetrics().RecordCandidatesDiscovered(m.source.Name(), len(candidates))
	}

	if len(candidates) == 0 {
		return &processor.BatchResult{Records: []*models.OutputRecord{}, StartedAt: now}, nil
	}

	log.WithField("candidates", len(candidates)).Info("Deployments discovered")
	return m.runner.Run(ctx, candidates)
}

// GetStats returns monitor statistics
func (m *Monitor) GetStats() *MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.IsRunning = m.running
	stats.Uptime = time.Since(m.stats.StartTime)
	return &stats
}

// GetHealth reports whether discovery is keeping up
func (m *Monitor) GetHealth() *HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := &HealthStatus{Healthy: true}
	if m.stats.LatestChainBlock > m.stats.LatestProcessedBlock+m.config.Confirmations {
		h.BlocksBehind = m.stats.LatestChainBlock - m.stats.LatestProcessedBlock - m.config.Confirmations
	}
	if h.BlocksBehind > 10*m.config.MaxBlockRange {
		h.Healthy = false
		h.Issues = append(h.Issues, "discovery is falling behind the chain head")
	}
	if m.pollFailed && m.stats.LastError != nil {
		h.Healthy = false
		h.Issues = append(h.Issues, "last poll failed: "+*m.stats.LastError)
	}
	return h
}

func (m *Monitor) updateChainStats(latest, processed uint64) {
	m.mu.Lock()
	m.stats.LatestChainBlock = latest
	m.stats.LatestProcessedBlock = processed
	m.pollFailed = false
	m.mu.Unlock()

	if m.metricsManager != nil {
		pm := m.metricsManager.GetPrometheusMetrics()
		pm.UpdateLatestScannedBlock(processed)
		if latest > processed {
			pm.UpdateBlocksBehind(latest - processed)
		} else {
			pm.UpdateBlocksBehind(0)
		}
	}
}

func (m *Monitor) recordError(err error) error {
	m.mu.Lock()
	m.stats.ErrorCount++
	msg := err.Error()
	now := time.Now()
	m.stats.LastError = &msg
	m.stats.LastErrorTime = &now
	m.pollFailed = true
	m.mu.Unlock()
	return err
}
