package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartdevs17/contract-risk-watcher/internal/blacklist"
	"github.com/smartdevs17/contract-risk-watcher/internal/metrics"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/internal/provider"
	"github.com/smartdevs17/contract-risk-watcher/internal/risk"
	"github.com/smartdevs17/contract-risk-watcher/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrA   = "0x00000000000000000000000000000000000000a1"
	addrB   = "0x00000000000000000000000000000000000000b2"
	addrC   = "0x00000000000000000000000000000000000000c3"
	creator = "0x00000000000000000000000000000000000000d4"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string        { return &s }
func u64Ptr(n uint64) *uint64        { return &n }
func timePtr(t time.Time) *time.Time { return &t }

// contractData is what the fake fetcher returns for one address
type contractData struct {
	source    *models.ContractSource
	created   *time.Time
	txCount   *uint64
	sourceErr error
	timeErr   error
	countErr  error
	delay     time.Duration
	block     bool
	onCount   func()
}

type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string]contractData
	calls map[string]int
}

func newFakeFetcher(data map[string]contractData) *fakeFetcher {
	return &fakeFetcher{data: data, calls: make(map[string]int)}
}

func (f *fakeFetcher) lookup(ctx context.Context, addr, step string) (contractData, error) {
	f.mu.Lock()
	f.calls[step]++
	d := f.data[addr]
	f.mu.Unlock()

	if d.block {
		<-ctx.Done()
		return d, ctx.Err()
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	return d, nil
}

func (f *fakeFetcher) GetSource(ctx context.Context, addr string) (*models.ContractSource, error) {
	d, err := f.lookup(ctx, addr, StepSource)
	if err != nil {
		return nil, err
	}
	return d.source, d.sourceErr
}

func (f *fakeFetcher) GetCreationTime(ctx context.Context, addr string) (*time.Time, error) {
	d, err := f.lookup(ctx, addr, StepCreationTime)
	if err != nil {
		return nil, err
	}
	return d.created, d.timeErr
}

func (f *fakeFetcher) GetTransactionCount(ctx context.Context, addr string) (*uint64, error) {
	d, err := f.lookup(ctx, addr, StepTxCount)
	if err != nil {
		return nil, err
	}
	if d.onCount != nil {
		d.onCount()
	}
	return d.txCount, d.countErr
}

type recordingSink struct {
	mu      sync.Mutex
	records []*models.OutputRecord
	fail    map[string]bool
	ctxErrs []error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(ctx context.Context, r *models.OutputRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.fail[r.ContractAddress] {
		return errors.New("endpoint returned 503")
	}
	s.records = append(s.records, r)
	return nil
}

func (s *recordingSink) Close() error { return nil }

type flakyFeed struct {
	entries []models.BlacklistEntry
	err     error
}

func (f *flakyFeed) Fetch(context.Context) ([]models.BlacklistEntry, error) {
	return f.entries, f.err
}

func established() contractData {
	return contractData{
		source:  &models.ContractSource{},
		created: timePtr(fixedNow.Add(-90 * 24 * time.Hour)),
		txCount: u64Ptr(50),
	}
}

func newTestPipeline(f Fetcher, bl BlacklistSource, out sink.Sink, cfg Config, opts ...Option) *Pipeline {
	engine := risk.NewEngine(risk.DefaultConfig(), risk.WithClock(func() time.Time { return fixedNow }))
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewPipeline(f, bl, engine, out, cfg, opts...)
}

func TestFormat(t *testing.T) {
	abi := `[{"name":"approve"}]`
	meta := models.ContractMetadata{InterfaceDefinition: &abi, SourceVerified: true}
	cand := models.ContractCandidate{ContractAddress: addrA, CreatorAddress: creator, BlockNumber: 7}
	verdict := models.RiskVerdict{Level: models.RiskMedium, Reason: risk.ReasonLowInteraction}

	loc := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2024, 6, 1, 14, 0, 0, 1500, loc)

	rec := Format(cand, meta, verdict, now)
	assert.Equal(t, "2024-06-01T12:00:00.000001Z", rec.Timestamp)
	assert.Equal(t, addrA, rec.ContractAddress)
	assert.Equal(t, creator, rec.CreatorAddress)
	assert.Equal(t, models.RiskMedium, rec.RiskScore)
	assert.Equal(t, risk.ReasonLowInteraction, rec.RiskReason)
	require.NotNil(t, rec.ABI)
	assert.Equal(t, abi, *rec.ABI)
	assert.NotSame(t, meta.InterfaceDefinition, rec.ABI)

	rec = Format(cand, models.ContractMetadata{}, models.RiskVerdict{Level: models.RiskLow}, fixedNow)
	assert.Nil(t, rec.ABI)
	assert.Equal(t, "", rec.RiskReason)
	assert.Equal(t, "2024-06-01T12:00:00.000000Z", rec.Timestamp)

	first, err := json.Marshal(Format(cand, meta, verdict, now))
	require.NoError(t, err)
	second, err := json.Marshal(Format(cand, meta, verdict, now))
	require.NoError(t, err)
	assert.Equal(t, first, second, "same inputs give byte-identical records")
}

func TestCandidateValidatorFilter(t *testing.T) {
	v := NewCandidateValidator()
	in := []models.ContractCandidate{
		{ContractAddress: addrB},
		{ContractAddress: ""},
		{ContractAddress: "0x1234"},
		{ContractAddress: addrA, CreatorAddress: "nobody"},
		{ContractAddress: addrA, CreatorAddress: creator},
		{ContractAddress: "0x00000000000000000000000000000000000000B2"},
	}

	valid, rejected := v.Filter(in)
	require.Len(t, valid, 3)
	assert.Equal(t, addrB, valid[0].ContractAddress)
	assert.Equal(t, "0x1234", valid[1].ContractAddress)
	assert.Equal(t, addrA, valid[2].ContractAddress)
	assert.Equal(t, "nobody", valid[2].CreatorAddress, "non-hex creators pass through unchanged")

	reasons := make([]string, 0, len(rejected))
	for _, r := range rejected {
		reasons = append(reasons, r.Reason)
	}
	assert.Equal(t, []string{RejectMissingAddress, RejectDuplicate, RejectDuplicate}, reasons)
}

func TestRunPreservesDiscoveryOrder(t *testing.T) {
	slow := established()
	slow.delay = 30 * time.Millisecond
	fast := established()
	f := newFakeFetcher(map[string]contractData{addrA: slow, addrB: fast, addrC: fast})
	out := &recordingSink{}

	p := newTestPipeline(f, nil, out, Config{Workers: 3, FetchTimeout: time.Second})
	result, err := p.Run(context.Background(), []models.ContractCandidate{
		{ContractAddress: addrA}, {ContractAddress: addrB}, {ContractAddress: addrC},
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
	assert.Equal(t, addrA, result.Records[0].ContractAddress)
	assert.Equal(t, addrB, result.Records[1].ContractAddress)
	assert.Equal(t, addrC, result.Records[2].ContractAddress)
	for _, r := range result.Records {
		assert.Equal(t, models.RiskLow, r.RiskScore)
		assert.Equal(t, risk.ReasonEstablished, r.RiskReason)
		assert.Equal(t, "2024-06-01T12:00:00.000000Z", r.Timestamp)
	}
	assert.Len(t, out.records, 3)
	assert.Equal(t, 3, f.calls[StepSource])
	assert.Equal(t, 3, f.calls[StepCreationTime])
	assert.Equal(t, 3, f.calls[StepTxCount])
}

func TestRunSkipsCandidateOnFetchFailure(t *testing.T) {
	broken := established()
	broken.countErr = errors.New("connection reset")
	f := newFakeFetcher(map[string]contractData{addrA: established(), addrB: broken})
	out := &recordingSink{}

	p := newTestPipeline(f, nil, out, Config{Workers: 2, FetchTimeout: time.Second})
	result, err := p.Run(context.Background(), []models.ContractCandidate{
		{ContractAddress: addrA}, {ContractAddress: addrB},
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, addrA, result.Records[0].ContractAddress)

	require.Len(t, result.FetchFailures, 1)
	assert.Equal(t, addrB, result.FetchFailures[0].Candidate.ContractAddress)
	assert.Equal(t, StepTxCount, result.FetchFailures[0].Step)
	assert.Contains(t, result.FetchFailures[0].Error, "connection reset")
	assert.Len(t, out.records, 1, "no partial record is emitted")
}

func TestRunFetchTimeoutIsFetchFailure(t *testing.T) {
	stuck := established()
	stuck.block = true
	f := newFakeFetcher(map[string]contractData{addrA: stuck})

	p := newTestPipeline(f, nil, &recordingSink{}, Config{Workers: 1, FetchTimeout: 20 * time.Millisecond})
	result, err := p.Run(context.Background(), []models.ContractCandidate{{ContractAddress: addrA}})
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	require.Len(t, result.FetchFailures, 1)
	assert.Contains(t, result.FetchFailures[0].Error, context.DeadlineExceeded.Error())
}

func TestRunMissingDataIsNotAFailure(t *testing.T) {
	d := established()
	d.created = nil
	d.timeErr = provider.ErrNotFound
	f := newFakeFetcher(map[string]contractData{addrA: d})

	p := newTestPipeline(f, nil, &recordingSink{}, Config{Workers: 1, FetchTimeout: time.Second})
	result, err := p.Run(context.Background(), []models.ContractCandidate{{ContractAddress: addrA}})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, models.RiskMedium, result.Records[0].RiskScore)
	assert.Equal(t, risk.ReasonInsufficientData, result.Records[0].RiskReason)
	assert.Empty(t, result.FetchFailures)
}

func TestRunDeliveryFailureDoesNotStopBatch(t *testing.T) {
	f := newFakeFetcher(map[string]contractData{addrA: established(), addrB: established()})
	out := &recordingSink{fail: map[string]bool{addrA: true}}
	m := metrics.NewManager()

	p := newTestPipeline(f, nil, out, Config{Workers: 1, FetchTimeout: time.Second}, WithMetrics(m))
	result, err := p.Run(context.Background(), []models.ContractCandidate{
		{ContractAddress: addrA}, {ContractAddress: addrB},
	})
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
	require.Len(t, result.DeliveryFailures, 1)
	assert.Equal(t, addrA, result.DeliveryFailures[0].Record.ContractAddress)
	assert.Len(t, out.records, 1)

	pm := m.GetPrometheusMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.CandidatesProcessedTotal.WithLabelValues(StatusAssessed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.CandidatesProcessedTotal.WithLabelValues(StatusDeliveryFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.VerdictsTotal.WithLabelValues("low")))
}

func TestRunRefreshesBlacklistBeforeAssessment(t *testing.T) {
	feed := &flakyFeed{entries: []models.BlacklistEntry{{Address: creator, Comment: "drainer"}}}
	store := blacklist.NewStore(feed, nil)
	f := newFakeFetcher(map[string]contractData{addrA: established()})

	p := newTestPipeline(f, store, &recordingSink{}, Config{Workers: 1, FetchTimeout: time.Second})
	result, err := p.Run(context.Background(), []models.ContractCandidate{{ContractAddress: addrA, CreatorAddress: creator}})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, models.RiskHigh, result.Records[0].RiskScore)
	assert.Equal(t, "creator address is blacklisted: "+creator+" - drainer", result.Records[0].RiskReason)

	// The feed going down keeps the previous contents in force.
	feed.entries = nil
	feed.err = errors.New("feed unavailable")
	result, err = p.Run(context.Background(), []models.ContractCandidate{{ContractAddress: addrA, CreatorAddress: creator}})
	require.NoError(t, err)
	assert.Equal(t, "feed unavailable", result.BlacklistError)
	require.Len(t, result.Records, 1)
	assert.Equal(t, models.RiskHigh, result.Records[0].RiskScore)
}

type seededPersister struct {
	entries []models.BlacklistEntry
	saves   int
}

func (s *seededPersister) GetBlacklist(context.Context) ([]models.BlacklistEntry, error) {
	return s.entries, nil
}

func (s *seededPersister) SaveBlacklist(context.Context, []models.BlacklistEntry) error {
	s.saves++
	return nil
}

func TestRunUsesSeededBlacklistWithoutFeed(t *testing.T) {
	persisted := &seededPersister{entries: []models.BlacklistEntry{{Address: creator, Comment: "drainer"}}}
	store := blacklist.NewStore(nil, persisted)
	require.NoError(t, store.Seed(context.Background()))
	f := newFakeFetcher(map[string]contractData{addrA: established()})

	p := newTestPipeline(f, store, &recordingSink{}, Config{Workers: 1, FetchTimeout: time.Second})
	for i := 0; i < 2; i++ {
		result, err := p.Run(context.Background(), []models.ContractCandidate{{ContractAddress: addrA, CreatorAddress: creator}})
		require.NoError(t, err)
		assert.Empty(t, result.BlacklistError)
		require.Len(t, result.Records, 1)
		assert.Equal(t, models.RiskHigh, result.Records[0].RiskScore)
	}
	assert.Zero(t, persisted.saves)
}

func TestRunFlagsBlacklistedCreatorWithRawAddress(t *testing.T) {
	feed := &flakyFeed{entries: []models.BlacklistEntry{{Address: "0xBAD", Comment: "known scammer"}}}
	store := blacklist.NewStore(feed, nil)
	f := newFakeFetcher(map[string]contractData{"0xAAA": established(), addrA: established()})
	out := &recordingSink{}

	p := newTestPipeline(f, store, out, Config{Workers: 2, FetchTimeout: time.Second})
	result, err := p.Run(context.Background(), []models.ContractCandidate{
		{ContractAddress: "0xAAA", CreatorAddress: "0xBAD"},
		{ContractAddress: addrA, CreatorAddress: "0xBAD"},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Rejected)
	require.Len(t, result.Records, 2)
	for i, want := range []string{"0xAAA", addrA} {
		rec := result.Records[i]
		assert.Equal(t, want, rec.ContractAddress)
		assert.Equal(t, "0xBAD", rec.CreatorAddress)
		assert.Equal(t, models.RiskHigh, rec.RiskScore)
		assert.Equal(t, "creator address is blacklisted: 0xBAD - known scammer", rec.RiskReason)
	}
	assert.Len(t, out.records, 2)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	f := newFakeFetcher(map[string]contractData{addrA: established(), addrB: established()})
	out := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(f, nil, out, Config{Workers: 1, FetchTimeout: time.Second})
	result, err := p.Run(ctx, []models.ContractCandidate{{ContractAddress: addrA}, {ContractAddress: addrB}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, result.Cancelled)
	assert.Empty(t, result.Records)
	assert.Empty(t, out.records)
	assert.Zero(t, f.calls[StepSource])
}

func TestRunDeliversAssessedRecordAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := established()
	d.onCount = cancel
	f := newFakeFetcher(map[string]contractData{addrA: d})
	out := &recordingSink{}

	p := newTestPipeline(f, nil, out, Config{Workers: 1, FetchTimeout: time.Second, SinkTimeout: time.Second})
	result, err := p.Run(ctx, []models.ContractCandidate{{ContractAddress: addrA}})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	require.Len(t, out.ctxErrs, 1)
	assert.NoError(t, out.ctxErrs[0], "delivery context is detached from cancellation")
}

func TestAssessOne(t *testing.T) {
	d := established()
	d.source = &models.ContractSource{InterfaceDefinition: strPtr(`function kill() { selfdestruct(owner); }`), SourceVerified: true}
	f := newFakeFetcher(map[string]contractData{addrA: d})
	out := &recordingSink{}

	p := newTestPipeline(f, nil, out, Config{})
	rec, err := p.AssessOne(context.Background(), models.ContractCandidate{ContractAddress: addrA})
	require.NoError(t, err)
	assert.Equal(t, models.RiskHigh, rec.RiskScore)
	assert.Equal(t, risk.ReasonDangerousCapability, rec.RiskReason)
	assert.Empty(t, out.records, "single assessments are not delivered")

	_, err = p.AssessOne(context.Background(), models.ContractCandidate{})
	assert.Error(t, err)
}

func TestAggregatorAccumulates(t *testing.T) {
	a := NewAggregator()
	started := fixedNow

	s := a.Add(&BatchResult{
		Total:     3,
		StartedAt: started,
		Duration:  2 * time.Second,
		Records: []*models.OutputRecord{
			{RiskScore: models.RiskHigh}, {RiskScore: models.RiskLow},
		},
		FetchFailures: []FetchFailure{{Step: StepSource}},
	})
	assert.Equal(t, 2, s.Assessed)
	assert.Equal(t, 1, s.ByLevel[models.RiskHigh])
	assert.Equal(t, 0, s.ByLevel[models.RiskMedium])
	assert.Equal(t, 1, s.FetchFailsByStep[StepSource])

	a.Add(&BatchResult{
		Total:     1,
		StartedAt: started.Add(time.Minute),
		Duration:  4 * time.Second,
		Records:   []*models.OutputRecord{{RiskScore: models.RiskHigh}},
		Cancelled: 0,
	})

	stats := a.GetStats()
	assert.Equal(t, uint64(2), stats.Batches)
	assert.Equal(t, uint64(4), stats.Candidates)
	assert.Equal(t, uint64(3), stats.Assessed)
	assert.Equal(t, uint64(2), stats.ByLevel[models.RiskHigh])
	assert.Equal(t, uint64(1), stats.FetchFailures)
	assert.Equal(t, 3*time.Second, stats.AverageBatchDuration)
	require.NotNil(t, stats.LastBatchAt)
	assert.Equal(t, started.Add(time.Minute+4*time.Second), *stats.LastBatchAt)
}
