package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leoyang128/mirrorbot/internal/domain"
	"github.com/leoyang128/mirrorbot/internal/scanner"
)

type fakeMarketSource struct {
	markets map[string]domain.Market
}

func (f *fakeMarketSource) ListMarkets(_ context.Context, _ domain.MarketFilter) ([]domain.Market, error) {
	out := make([]domain.Market, 0, len(f.markets))
	for _, m := range f.markets {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMarketSource) GetMarket(_ context.Context, id string) (domain.Market, error) {
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

type fakeScanner struct {
	results []scanner.Result
	err     error
}

func (f *fakeScanner) Scan(_ context.Context) ([]scanner.Result, error) {
	return f.results, f.err
}

type fakeMonitor struct {
	mu      sync.Mutex
	started bool
	stopped bool
	market  domain.Market
	onOpp   func(domain.Opportunity)
	onExec  func(domain.ExecutionResult)
}

func (f *fakeMonitor) OnOpportunity(fn func(domain.Opportunity)) { f.onOpp = fn }
func (f *fakeMonitor) OnExecution(fn func(domain.ExecutionResult)) {
	f.onExec = fn
}

func (f *fakeMonitor) Start(_ context.Context, mkt domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.market = mkt
	return nil
}

func (f *fakeMonitor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

type fakeRebalancer struct {
	mu      sync.Mutex
	ranFor  []string
	onEvent func(domain.RebalanceEvent)
}

func (f *fakeRebalancer) OnEvent(fn func(domain.RebalanceEvent)) { f.onEvent = fn }

func (f *fakeRebalancer) Run(ctx context.Context, mkt domain.Market) error {
	f.mu.Lock()
	f.ranFor = append(f.ranFor, mkt.ID)
	f.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

type fakeClearer struct {
	mu        sync.Mutex
	recovered map[string]float64
	fail      map[string]error
	cleared   []string
}

func (f *fakeClearer) Clear(_ context.Context, mkt domain.Market) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, mkt.ID)
	if err := f.fail[mkt.ID]; err != nil {
		return 0, err
	}
	v := f.recovered[mkt.ID]
	delete(f.recovered, mkt.ID) // subsequent clears find nothing
	return v, nil
}

type recordingListener struct {
	mu         sync.Mutex
	opps       []domain.Opportunity
	execs      []domain.ExecutionResult
	rebalances []domain.RebalanceEvent
}

func (l *recordingListener) OnOpportunity(opp domain.Opportunity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opps = append(l.opps, opp)
}

func (l *recordingListener) OnExecution(res domain.ExecutionResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.execs = append(l.execs, res)
}

func (l *recordingListener) OnRebalance(ev domain.RebalanceEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rebalances = append(l.rebalances, ev)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mkt(id string) domain.Market {
	return domain.Market{ID: id, YesTokenID: id + "-y", NoTokenID: id + "-n"}
}

type harness struct {
	orch       *Orchestrator
	monitors   []*fakeMonitor
	rebalancer *fakeRebalancer
	clearer    *fakeClearer
	listener   *recordingListener
}

func newHarness(t *testing.T, cfg Config, sc Scanner) *harness {
	t.Helper()
	h := &harness{
		rebalancer: &fakeRebalancer{},
		clearer:    &fakeClearer{recovered: map[string]float64{}},
		listener:   &recordingListener{},
	}
	source := &fakeMarketSource{markets: map[string]domain.Market{
		"m1": mkt("m1"),
		"m2": mkt("m2"),
	}}
	factory := func() Monitor {
		m := &fakeMonitor{}
		h.monitors = append(h.monitors, m)
		return m
	}
	h.orch = New(cfg, source, sc, factory, h.rebalancer, h.clearer, testLogger()).
		WithListener(h.listener)
	return h
}

func TestOrchestrator_StartStopLifecycle(t *testing.T) {
	h := newHarness(t, Config{}, &fakeScanner{})
	ctx := context.Background()

	require.NoError(t, h.orch.Start(ctx, mkt("m1")))
	active, ok := h.orch.ActiveMarket()
	require.True(t, ok)
	assert.Equal(t, "m1", active.ID)
	require.Len(t, h.monitors, 1)
	assert.True(t, h.monitors[0].started)

	// Second start while active is rejected.
	err := h.orch.Start(ctx, mkt("m2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	h.orch.Stop()
	assert.True(t, h.monitors[0].stopped)
	_, ok = h.orch.ActiveMarket()
	assert.False(t, ok)

	// Restart after stop builds a fresh session.
	require.NoError(t, h.orch.Start(ctx, mkt("m2")))
	require.Len(t, h.monitors, 2)
	h.orch.Stop()
}

func TestOrchestrator_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{}, &fakeScanner{})
	require.NoError(t, h.orch.Start(context.Background(), mkt("m1")))
	h.orch.Stop()
	h.orch.Stop()
}

func TestOrchestrator_FindAndStartPicksTopActionable(t *testing.T) {
	sc := &fakeScanner{results: []scanner.Result{
		{Market: mkt("m1"), Opportunity: domain.Opportunity{Kind: domain.OpportunityLong, Profit: 0.08, Size: 50}},
		{Market: mkt("m2"), Opportunity: domain.Opportunity{Kind: domain.OpportunityNone}},
	}}
	h := newHarness(t, Config{}, sc)

	started, err := h.orch.FindAndStart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m1", started.ID)
	require.Len(t, h.monitors, 1)
	assert.Equal(t, "m1", h.monitors[0].market.ID)
	h.orch.Stop()
}

func TestOrchestrator_FindAndStartNothingActionable(t *testing.T) {
	sc := &fakeScanner{results: []scanner.Result{
		{Market: mkt("m1"), Opportunity: domain.Opportunity{Kind: domain.OpportunityNone}},
	}}
	h := newHarness(t, Config{}, sc)

	_, err := h.orch.FindAndStart(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrchestrator_FindAndStartScanFailure(t *testing.T) {
	h := newHarness(t, Config{}, &fakeScanner{err: errors.New("gamma down")})
	_, err := h.orch.FindAndStart(context.Background())
	require.Error(t, err)
}

func TestOrchestrator_EventsUpdateStatsAndListener(t *testing.T) {
	h := newHarness(t, Config{}, &fakeScanner{})
	require.NoError(t, h.orch.Start(context.Background(), mkt("m1")))
	mon := h.monitors[0]

	now := time.Now().UTC()
	mon.onOpp(domain.Opportunity{ID: "o1", MarketID: "m1", Kind: domain.OpportunityLong, Profit: 0.05, DetectedAt: now})
	mon.onExec(domain.ExecutionResult{ID: "e1", MarketID: "m1", Success: true, Profit: 4.0, ExecutedAt: now})
	mon.onExec(domain.ExecutionResult{ID: "e2", MarketID: "m1", Success: false, ExecutedAt: now})

	stats := h.orch.Stats()
	assert.EqualValues(t, 1, stats.OpportunitiesSeen)
	assert.EqualValues(t, 2, stats.ExecutionsAttempted)
	assert.EqualValues(t, 1, stats.ExecutionsSucceeded)
	assert.InDelta(t, 4.0, stats.CumulativeProfit, 1e-9)

	h.listener.mu.Lock()
	defer h.listener.mu.Unlock()
	assert.Len(t, h.listener.opps, 1)
	assert.Len(t, h.listener.execs, 2)

	h.orch.Stop()
}

func TestOrchestrator_RebalancerRunsWhenEnabled(t *testing.T) {
	h := newHarness(t, Config{RebalanceEnabled: true}, &fakeScanner{})
	require.NoError(t, h.orch.Start(context.Background(), mkt("m1")))

	require.Eventually(t, func() bool {
		h.rebalancer.mu.Lock()
		defer h.rebalancer.mu.Unlock()
		return len(h.rebalancer.ranFor) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.rebalancer.onEvent(domain.RebalanceEvent{Action: domain.RebalanceMerge, Amount: 10})
	h.listener.mu.Lock()
	assert.Len(t, h.listener.rebalances, 1)
	h.listener.mu.Unlock()

	h.orch.Stop()
}

func TestOrchestrator_RebalancerDisabledByDefault(t *testing.T) {
	h := newHarness(t, Config{}, &fakeScanner{})
	require.NoError(t, h.orch.Start(context.Background(), mkt("m1")))
	h.orch.Stop()
	assert.Empty(t, h.rebalancer.ranFor)
}

func TestOrchestrator_ClearPositionsStopsAndSettlesAllTraded(t *testing.T) {
	h := newHarness(t, Config{}, &fakeScanner{})
	h.clearer.recovered["m1"] = 30
	h.clearer.recovered["m2"] = 12.5

	ctx := context.Background()
	require.NoError(t, h.orch.Start(ctx, mkt("m1")))
	h.orch.Stop()
	require.NoError(t, h.orch.Start(ctx, mkt("m2")))

	total, err := h.orch.ClearPositions(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 42.5, total, 1e-9)
	assert.ElementsMatch(t, []string{"m1", "m2"}, h.clearer.cleared)

	// Monitoring was shut down before settling.
	assert.True(t, h.monitors[1].stopped)
	_, ok := h.orch.ActiveMarket()
	assert.False(t, ok)

	// A second clear finds nothing left.
	total, err = h.orch.ClearPositions(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestOrchestrator_ClearPositionsContinuesPastFailures(t *testing.T) {
	h := newHarness(t, Config{}, &fakeScanner{})
	h.clearer.recovered["m2"] = 8
	h.clearer.recovered["m3"] = 12
	h.clearer.fail = map[string]error{"m1": domain.ErrOnChainReverted}

	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, h.orch.Start(ctx, mkt(id)))
		h.orch.Stop()
	}

	total, err := h.orch.ClearPositions(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOnChainReverted)
	assert.Contains(t, err.Error(), "m1")

	// The failing market never blocks the others; their recovery still counts.
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, h.clearer.cleared)
	assert.InDelta(t, 20, total, 1e-9)
}

func TestOrchestrator_StartByIDResolvesMetadata(t *testing.T) {
	h := newHarness(t, Config{}, &fakeScanner{})
	require.NoError(t, h.orch.StartByID(context.Background(), "m2"))
	assert.Equal(t, "m2", h.monitors[0].market.ID)
	h.orch.Stop()

	err := h.orch.StartByID(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
