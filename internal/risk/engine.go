// Package risk classifies freshly deployed contracts with an ordered set of
// heuristics. Rules are evaluated in order; each rule may escalate the running
// verdict, override it, or stop evaluation.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

const (
	ReasonDangerousCapability = "dangerous capability present in interface"
	ReasonExternalCall        = "generic external call present in interface"
	ReasonUnlimitedAllowance  = "unlimited allowance approval present in interface"
	ReasonDelegatedTransfer   = "delegated token transfer present in interface"
	ReasonBlacklistedCreator  = "creator address is blacklisted"
	ReasonInsufficientData    = "insufficient data to assess age/activity"
	ReasonYoungContract       = "contract less than 30 days old"
	ReasonLowInteraction      = "low contract interaction"
	ReasonEstablished         = "contract older than 30 days with established usage"

	DefaultMinAge     = 30 * 24 * time.Hour
	DefaultMinTxCount = uint64(10)
)

// Blacklist is the read-only view of the blacklist the engine consults
type Blacklist interface {
	Contains(address string) (comment string, ok bool)
}

// Mode controls how a rule's finding combines with the running verdict
type Mode int

const (
	// Escalate only raises the level. A finding at the current level replaces the reason.
	Escalate Mode = iota
	// Override replaces the running verdict unconditionally.
	Override
)

// Input bundles everything a rule may look at
type Input struct {
	Candidate models.ContractCandidate
	Metadata  models.ContractMetadata
	Blacklist Blacklist
	Now       time.Time

	lowerInterface string
}

// Finding is a rule outcome. Stop ends evaluation after it is applied.
type Finding struct {
	Level  models.RiskLevel
	Reason string
	Stop   bool
}

// Rule is one heuristic in the cascade
type Rule struct {
	Name  string
	Mode  Mode
	Check func(in *Input) *Finding
}

// Config holds engine thresholds
type Config struct {
	MinContractAge time.Duration
	MinTxCount     uint64
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		MinContractAge: DefaultMinAge,
		MinTxCount:     DefaultMinTxCount,
	}
}

// Engine evaluates the rule cascade
type Engine struct {
	config Config
	rules  []Rule
	now    func() time.Time
	logger *logrus.Entry
}

// Option customises an Engine
type Option func(*Engine)

// WithClock replaces the wall clock used for age checks
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRules appends extra rules after the built-in set
func WithRules(rules ...Rule) Option {
	return func(e *Engine) { e.rules = append(e.rules, rules...) }
}

// NewEngine creates an engine with the built-in rule set
func NewEngine(cfg Config, opts ...Option) *Engine {
	if cfg.MinContractAge <= 0 {
		cfg.MinContractAge = DefaultMinAge
	}
	if cfg.MinTxCount == 0 {
		cfg.MinTxCount = DefaultMinTxCount
	}

	e := &Engine{
		config: cfg,
		now:    time.Now,
		logger: utils.ComponentLogger("risk_engine"),
	}
	e.rules = e.defaultRules()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the rule names in evaluation order
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name)
	}
	return names
}

// Assess classifies one candidate. It never fails: missing data maps to a verdict.
func (e *Engine) Assess(candidate models.ContractCandidate, metadata models.ContractMetadata, blacklist Blacklist) models.RiskVerdict {
	in := &Input{
		Candidate: candidate,
		Metadata:  metadata,
		Blacklist: blacklist,
		Now:       e.now(),
	}
	if metadata.HasInterface() {
		in.lowerInterface = strings.ToLower(*metadata.InterfaceDefinition)
	}

	verdict := models.RiskVerdict{Level: models.RiskLow}
	for _, rule := range e.rules {
		f := rule.Check(in)
		if f == nil {
			continue
		}

		switch rule.Mode {
		case Override:
			verdict = models.RiskVerdict{Level: f.Level, Reason: f.Reason}
		default:
			if f.Level.AtLeast(verdict.Level) {
				verdict = models.RiskVerdict{Level: f.Level, Reason: f.Reason}
			}
		}

		if f.Stop {
			break
		}
	}

	e.logger.WithFields(logrus.Fields{
		"contract": candidate.ContractAddress,
		"level":    verdict.Level,
		"reason":   verdict.Reason,
	}).Debug("Contract assessed")

	return verdict
}

func (e *Engine) defaultRules() []Rule {
	return []Rule{
		{Name: "danger_markers", Mode: Escalate, Check: checkDangerMarkers},
		{Name: "caution_markers", Mode: Escalate, Check: checkCautionMarkers},
		{Name: "blacklisted_creator", Mode: Escalate, Check: checkBlacklist},
		{Name: "unverified_source", Mode: Override, Check: e.checkUnverifiedSource},
		{Name: "transaction_graph", Mode: Escalate, Check: checkTransactionGraph},
	}
}

func checkDangerMarkers(in *Input) *Finding {
	if in.lowerInterface == "" || !dangerMarkers.match(in.lowerInterface) {
		return nil
	}
	return &Finding{Level: models.RiskHigh, Reason: dangerMarkers.Reason, Stop: true}
}

func checkCautionMarkers(in *Input) *Finding {
	if in.lowerInterface == "" {
		return nil
	}
	for _, g := range cautionMarkers {
		if g.match(in.lowerInterface) {
			return &Finding{Level: models.RiskMedium, Reason: g.Reason}
		}
	}
	return nil
}

func checkBlacklist(in *Input) *Finding {
	creator := in.Candidate.CreatorAddress
	if creator == "" || in.Blacklist == nil {
		return nil
	}
	comment, ok := in.Blacklist.Contains(creator)
	if !ok {
		return nil
	}
	return &Finding{
		Level:  models.RiskHigh,
		Reason: fmt.Sprintf("%s: %s - %s", ReasonBlacklistedCreator, creator, comment),
		Stop:   true,
	}
}

func (e *Engine) checkUnverifiedSource(in *Input) *Finding {
	md := in.Metadata
	if md.SourceVerified {
		return nil
	}
	if md.CreationTimestamp == nil || md.TransactionCount == nil {
		return &Finding{Level: models.RiskMedium, Reason: ReasonInsufficientData}
	}
	if in.Now.Sub(*md.CreationTimestamp) < e.config.MinContractAge {
		return &Finding{Level: models.RiskHigh, Reason: ReasonYoungContract}
	}
	if *md.TransactionCount < e.config.MinTxCount {
		return &Finding{Level: models.RiskMedium, Reason: ReasonLowInteraction}
	}
	return &Finding{Level: models.RiskLow, Reason: ReasonEstablished}
}

// checkTransactionGraph is the hook for funding-source analysis (mixers,
// liquidity origin). No signal is computed yet.
func checkTransactionGraph(*Input) *Finding {
	return nil
}
