package processor

import (
	"sync"
	"time"

	"github.com/smartdevs17/contract-risk-watcher/internal/models"
)

// BatchSummary counts the outcomes of one batch
type BatchSummary struct {
	Candidates       int                      `json:"candidates"`
	Assessed         int                      `json:"assessed"`
	ByLevel          map[models.RiskLevel]int `json:"by_level"`
	FetchFailures    int                      `json:"fetch_failures"`
	FetchFailsByStep map[string]int           `json:"fetch_failures_by_step,omitempty"`
	DeliveryFailures int                      `json:"delivery_failures"`
	Rejected         int                      `json:"rejected"`
	Cancelled        int                      `json:"cancelled"`
	Duration         time.Duration            `json:"duration"`
}

// Stats are cumulative across batches
type Stats struct {
	Batches              uint64                      `json:"batches"`
	Candidates           uint64                      `json:"candidates"`
	Assessed             uint64                      `json:"assessed"`
	ByLevel              map[models.RiskLevel]uint64 `json:"by_level"`
	FetchFailures        uint64                      `json:"fetch_failures"`
	DeliveryFailures     uint64                      `json:"delivery_failures"`
	Rejected             uint64                      `json:"rejected"`
	Cancelled            uint64                      `json:"cancelled"`
	LastBatchAt          *time.Time                  `json:"last_batch_at,omitempty"`
	LastBatchDuration    time.Duration               `json:"last_batch_duration"`
	AverageBatchDuration time.Duration               `json:"average_batch_duration"`
}

// Summarize counts the outcomes in result
func Summarize(result *BatchResult) *BatchSummary {
	s := &BatchSummary{
		Candidates:       result.Total,
		Assessed:         len(result.Records),
		ByLevel:          map[models.RiskLevel]int{models.RiskLow: 0, models.RiskMedium: 0, models.RiskHigh: 0},
		FetchFailures:    len(result.FetchFailures),
		DeliveryFailures: len(result.DeliveryFailures),
		Rejected:         len(result.Rejected),
		Cancelled:        result.Cancelled,
		Duration:         result.Duration,
	}
	for _, r := range result.Records {
		s.ByLevel[r.RiskScore]++
	}
	if len(result.FetchFailures) > 0 {
		s.FetchFailsByStep = make(map[string]int)
		for _, f := range result.FetchFailures {
			s.FetchFailsByStep[f.Step]++
		}
	}
	return s
}

// Aggregator accumulates batch summaries
type Aggregator struct {
	mu            sync.RWMutex
	stats         Stats
	totalDuration time.Duration
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		stats: Stats{ByLevel: make(map[models.RiskLevel]uint64)},
	}
}

// Add folds result into the cumulative stats and returns its summary
func (a *Aggregator) Add(result *BatchResult) *BatchSummary {
	summary := Summarize(result)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Batches++
	a.stats.Candidates += uint64(summary.Candidates)
	a.stats.Assessed += uint64(summary.Assessed)
	for level, n := range summary.ByLevel {
		a.stats.ByLevel[level] += uint64(n)
	}
	a.stats.FetchFailures += uint64(summary.FetchFailures)
	a.stats.DeliveryFailures += uint64(summary.DeliveryFailures)
	a.stats.Rejected += uint64(summary.Rejected)
	a.stats.Cancelled += uint64(summary.Cancelled)

	at := result.StartedAt.Add(result.Duration)
	a.stats.LastBatchAt = &at
	a.stats.LastBatchDuration = result.Duration
	a.totalDuration += result.Duration
	a.stats.AverageBatchDuration = a.totalDuration / time.Duration(a.stats.Batches)

	return summary
}

// GetStats returns a copy of the cumulative stats
func (a *Aggregator) GetStats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := a.stats
	out.ByLevel = make(map[models.RiskLevel]uint64, len(a.stats.ByLevel))
	for k, v := range a.stats.ByLevel {
		out.ByLevel[k] = v
	}
	if a.stats.LastBatchAt != nil {
		t := *a.stats.LastBatchAt
		out.LastBatchAt = &t
	}
	return out
}
