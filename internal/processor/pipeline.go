// Package processor runs discovered contracts through enrichment,
// assessment and delivery.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/blacklist"
	"github.com/smartdevs17/contract-risk-watcher/internal/metrics"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/internal/provider"
	"github.com/smartdevs17/contract-risk-watcher/internal/risk"
	"github.com/smartdevs17/contract-risk-watcher/internal/sink"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
	"golang.org/x/sync/errgroup"
)

// Fetch steps, used in failures and metrics
const (
	StepSource       = "source"
	StepCreationTime = "creation_time"
	StepTxCount      = "tx_count"
)

// Candidate outcome labels
const (
	StatusAssessed       = "assessed"
	StatusFetchFailed    = "fetch_failed"
	StatusDeliveryFailed = "delivery_failed"
	StatusRejected       = "rejected"
	StatusCancelled      = "cancelled"
)

// Fetcher retrieves the enrichment data for one contract
type Fetcher interface {
	GetSource(ctx context.Context, address string) (*models.ContractSource, error)
	GetCreationTime(ctx context.Context, address string) (*time.Time, error)
	GetTransactionCount(ctx context.Context, address string) (*uint64, error)
}

// BlacklistSource is refreshed once per batch and read through a snapshot
type BlacklistSource interface {
	Refresh(ctx context.Context) ([]models.BlacklistEntry, error)
	Snapshot() *blacklist.Snapshot
}

// feedChecker is implemented by sources that may have nothing to refresh from
type feedChecker interface {
	HasFeed() bool
}

// Config holds pipeline configuration
type Config struct {
	Workers      int           `json:"workers"`
	FetchTimeout time.Duration `json:"fetch_timeout"`
	SinkTimeout  time.Duration `json:"sink_timeout"`
}

// FetchError identifies the enrichment step that failed
type FetchError struct {
	Step string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Step, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchFailure records a candidate skipped because enrichment failed
type FetchFailure struct {
	Candidate models.ContractCandidate `json:"candidate"`
	Step      string                   `json:"step"`
	Error     string                   `json:"error"`
}

// DeliveryFailure records a record the sink did not accept
type DeliveryFailure struct {
	Record *models.OutputRecord `json:"record"`
	Error  string               `json:"error"`
}

// BatchResult is the outcome of one Run
type BatchResult struct {
	Total            int                    `json:"total"`
	Records          []*models.OutputRecord `json:"records"`
	FetchFailures    []FetchFailure         `json:"fetch_failures,omitempty"`
	DeliveryFailures []DeliveryFailure      `json:"delivery_failures,omitempty"`
	Rejected         []Rejection            `json:"rejected,omitempty"`
	Cancelled        int                    `json:"cancelled"`
	BlacklistError   string                 `json:"blacklist_error,omitempty"`
	StartedAt        time.Time              `json:"started_at"`
	Duration         time.Duration          `json:"duration"`
	Summary          *BatchSummary          `json:"summary"`
}

// outcome is the per-candidate result slot; slots are collected in discovery order
type outcome struct {
	record       *models.OutputRecord
	fetchFailure *FetchFailure
	deliveryErr  error
	cancelled    bool
}

// Pipeline is the orchestrator: enrich, assess, format, emit
type Pipeline struct {
	fetcher        Fetcher
	blacklist      BlacklistSource
	engine         *risk.Engine
	sink           sink.Sink
	validator      *CandidateValidator
	aggregator     *Aggregator
	metricsManager *metrics.Manager
	config         Config
	now            func() time.Time
	logger         *logrus.Entry

	runMu sync.Mutex
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithMetrics records pipeline metrics on m
func WithMetrics(m *metrics.Manager) Option {
	return func(p *Pipeline) { p.metricsManager = m }
}

// WithClock overrides the record timestamp source
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline
func NewPipeline(fetcher Fetcher, bl BlacklistSource, engine *risk.Engine, out sink.Sink, cfg Config, opts ...Option) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 20 * time.Second
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 10 * time.Second
	}

	p := &Pipeline{
		fetcher:    fetcher,
		blacklist:  bl,
		engine:     engine,
		sink:       out,
		validator:  NewCandidateValidator(),
		aggregator: NewAggregator(),
		config:     cfg,
		now:        time.Now,
		logger:     utils.ComponentLogger("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes one discovery batch. Records come back in discovery order.
// Fetch and delivery failures are reported in the result, not as an error;
// the error is non-nil only when ctx was cancelled before all candidates
// started.
func (p *Pipeline) Run(ctx context.Context, candidates []models.ContractCandidate) (*BatchResult, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	start := time.Now()
	result := &BatchResult{
		Total:     len(candidates),
		Records:   []*models.OutputRecord{},
		StartedAt: start,
	}

	valid, rejected := p.validator.Filter(candidates)
	result.Rejected = rejected
	for _, r := range rejected {
		p.logger.WithFields(logrus.Fields{
			"contract": r.Candidate.ContractAddress,
			"reason":   r.Reason,
		}).Debug("Candidate rejected")
		p.recordStatus(StatusRejected)
	}

	// The blacklist is refreshed before the first assessment and then only
	// read through this snapshot for the rest of the batch.
	var snapshot *blacklist.Snapshot
	if p.blacklist != nil {
		if fc, ok := p.blacklist.(feedChecker); !ok || fc.HasFeed() {
			if _, err := p.blacklist.Refresh(ctx); err != nil {
				result.BlacklistError = err.Error()
				p.logger.WithError(err).Warn("Blacklist refresh failed, assessing with previous contents")
			}
		}
		snapshot = p.blacklist.Snapshot()
		if p.metricsManager != nil {
			var refreshErr error
			if result.BlacklistError != "" {
				refreshErr = errors.New(result.BlacklistError)
			}
			p.metricsManager.GetPrometheusMetrics().UpdateBlacklist(snapshot.Len(), refreshErr)
		}
	}

	outcomes := make([]outcome, len(valid))
	var g errgroup.Group
	g.SetLimit(p.config.Workers)

	started := 0
	for i := range valid {
		if ctx.Err() != nil {
			break
		}
		i := i
		started++
		g.Go(func() error {
			outcomes[i] = p.processCandidate(ctx, valid[i], snapshot)
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		switch {
		case i >= started || o.cancelled:
			result.Cancelled++
			p.recordStatus(StatusCancelled)
		case o.fetchFailure != nil:
			result.FetchFailures = append(result.FetchFailures, *o.fetchFailure)
			p.recordStatus(StatusFetchFailed)
		default:
			result.Records = append(result.Records, o.record)
			if o.deliveryErr != nil {
				result.DeliveryFailures = append(result.DeliveryFailures, DeliveryFailure{
					Record: o.record,
					Error:  o.deliveryErr.Error(),
				})
				p.recordStatus(StatusDeliveryFailed)
			} else {
				p.recordStatus(StatusAssessed)
			}
		}
	}

	result.Duration = time.Since(start)
	result.Summary = p.aggregator.Add(result)
	if p.metricsManager != nil {
		p.metricsManager.GetPrometheusMetrics().RecordBatchDuration(result.Duration)
	}

	p.logger.WithFields(logrus.Fields{
		"candidates":        result.Total,
		"records":           len(result.Records),
		"fetch_failures":    len(result.FetchFailures),
		"delivery_failures": len(result.DeliveryFailures),
		"rejected":          len(result.Rejected),
		"cancelled":         result.Cancelled,
		"duration":          result.Duration,
	}).Info("Batch processed")

	if result.Cancelled > 0 {
		return result, ctx.Err()
	}
	return result, nil
}

// processCandidate enriches, assesses, formats and emits one candidate
func (p *Pipeline) processCandidate(ctx context.Context, c models.ContractCandidate, snapshot *blacklist.Snapshot) outcome {
	if ctx.Err() != nil {
		return outcome{cancelled: true}
	}

	metadata, err := p.Enrich(ctx, c.ContractAddress)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{cancelled: true}
		}
		step := ""
		var fe *FetchError
		if errors.As(err, &fe) {
			step = fe.Step
		}
		p.logger.WithFields(logrus.Fields{
			"contract": c.ContractAddress,
			"step":     step,
			"error":    err,
		}).Warn("Metadata fetch failed, skipping candidate")
		return outcome{fetchFailure: &FetchFailure{Candidate: c, Step: step, Error: err.Error()}}
	}

	record := p.assess(c, metadata, snapshot)

	// Once assessed, the record is delivered even if the batch is being
	// cancelled, bounded by the sink timeout.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.SinkTimeout)
	defer cancel()

	o := outcome{record: record}
	if p.sink != nil {
		o.deliveryErr = p.sink.Send(dctx, record)
	}
	return o
}

func (p *Pipeline) assess(c models.ContractCandidate, metadata *models.ContractMetadata, snapshot *blacklist.Snapshot) *models.OutputRecord {
	var bl risk.Blacklist
	if snapshot != nil {
		bl = snapshot
	}
	verdict := p.engine.Assess(c, *metadata, bl)
	if p.metricsManager != nil {
		p.metricsManager.GetPrometheusMetrics().RecordVerdict(verdict.Level.String())
	}

	record := Format(c, *metadata, verdict, p.now())
	return &record
}

// Enrich runs the three metadata fetches concurrently and joins them.
// Absent data is not an error; any failed fetch fails the whole candidate.
func (p *Pipeline) Enrich(ctx context.Context, address string) (*models.ContractMetadata, error) {
	var (
		source  *models.ContractSource
		created *time.Time
		txCount *uint64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.fetch(gctx, StepSource, func(fctx context.Context) (err error) {
			source, err = p.fetcher.GetSource(fctx, address)
			return err
		})
	})
	g.Go(func() error {
		return p.fetch(gctx, StepCreationTime, func(fctx context.Context) (err error) {
			created, err = p.fetcher.GetCreationTime(fctx, address)
			return err
		})
	})
	g.Go(func() error {
		return p.fetch(gctx, StepTxCount, func(fctx context.Context) (err error) {
			txCount, err = p.fetcher.GetTransactionCount(fctx, address)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metadata := &models.ContractMetadata{
		CreationTimestamp: created,
		TransactionCount:  txCount,
	}
	if source != nil {
		metadata.InterfaceDefinition = source.InterfaceDefinition
		metadata.SourceVerified = source.SourceVerified
	}
	return metadata, nil
}

// fetch runs one enrichment step under the fetch timeout
func (p *Pipeline) fetch(ctx context.Context, step string, fn func(context.Context) error) error {
	fctx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()

	start := time.Now()
	err := fn(fctx)
	if errors.Is(err, provider.ErrNotFound) {
		err = nil
	}
	if p.metricsManager != nil {
		p.metricsManager.GetPrometheusMetrics().RecordFetch(step, time.Since(start), err)
	}
	if err != nil {
		return &FetchError{Step: step, Err: err}
	}
	return nil
}

// AssessOne enriches and assesses a single contract against the current
// blacklist without delivering the record anywhere
func (p *Pipeline) AssessOne(ctx context.Context, c models.ContractCandidate) (*models.OutputRecord, error) {
	if reason := p.validator.Validate(c); reason != "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid candidate", reason)
	}

	metadata, err := p.Enrich(ctx, c.ContractAddress)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeExternal, "Failed to fetch contract metadata", err)
	}

	var snapshot *blacklist.Snapshot
	if p.blacklist != nil {
		snapshot = p.blacklist.Snapshot()
	}
	return p.assess(c, metadata, snapshot), nil
}

// GetStats returns cumulative pipeline statistics
func (p *Pipeline) GetStats() Stats {
	return p.aggregator.GetStats()
}

func (p *Pipeline) recordStatus(status string) {
	if p.metricsManager != nil {
		p.metricsManager.GetPrometheusMetrics().RecordCandidateProcessed(status)
	}
}
