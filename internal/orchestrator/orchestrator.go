// Package orchestrator composes scanning, live monitoring, rebalancing, and
// clearing into the public bot lifecycle. It is the single serialization point
// for run-state and statistics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leoyang128/mirrorbot/internal/domain"
	"github.com/leoyang128/mirrorbot/internal/scanner"
)

// Scanner runs one ranked pass over the market universe.
type Scanner interface {
	Scan(ctx context.Context) ([]scanner.Result, error)
}

// Monitor is one live-monitoring session. Sessions are single-use; the
// orchestrator builds a fresh one per Start.
type Monitor interface {
	OnOpportunity(fn func(domain.Opportunity))
	OnExecution(fn func(domain.ExecutionResult))
	Start(ctx context.Context, mkt domain.Market) error
	Stop()
}

// MonitorFactory builds a fresh monitoring session.
type MonitorFactory func() Monitor

// Rebalancer is the background capital loop.
type Rebalancer interface {
	OnEvent(fn func(domain.RebalanceEvent))
	Run(ctx context.Context, mkt domain.Market) error
}

// Clearer settles a market's remaining inventory.
type Clearer interface {
	Clear(ctx context.Context, mkt domain.Market) (float64, error)
}

// Config configures the orchestrator.
type Config struct {
	RebalanceEnabled bool
	// StoreTimeout bounds best-effort persistence writes.
	StoreTimeout time.Duration
}

// Orchestrator owns the bot lifecycle. At most one market is actively
// monitored at a time; scans are read-only and may run alongside monitoring.
type Orchestrator struct {
	cfg        Config
	markets    domain.MarketSource
	scanner    Scanner
	newMonitor MonitorFactory
	rebalancer Rebalancer
	clearer    Clearer
	oppStore   domain.OpportunityStore // optional
	execStore  domain.ExecutionStore   // optional
	listener   domain.EventListener    // optional
	logger     *slog.Logger

	stats domain.RunStats

	mu     sync.Mutex
	active *session
	// traded remembers every market this instance monitored, so
	// ClearPositions can settle all of them.
	traded map[string]domain.Market
}

// session is one active monitoring run.
type session struct {
	mkt    domain.Market
	mon    Monitor
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Orchestrator. Stores and listener may be nil.
func New(cfg Config, markets domain.MarketSource, sc Scanner, mf MonitorFactory, rb Rebalancer, cl Clearer, logger *slog.Logger) *Orchestrator {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	o := &Orchestrator{
		cfg:        cfg,
		markets:    markets,
		scanner:    sc,
		newMonitor: mf,
		rebalancer: rb,
		clearer:    cl,
		logger:     logger.With(slog.String("component", "orchestrator")),
		traded:     make(map[string]domain.Market),
	}
	o.stats.Reset(time.Now().UTC())
	return o
}

// WithStores attaches best-effort persistence for opportunities and executions.
func (o *Orchestrator) WithStores(opps domain.OpportunityStore, execs domain.ExecutionStore) *Orchestrator {
	o.oppStore = opps
	o.execStore = execs
	return o
}

// WithListener attaches the event listener.
func (o *Orchestrator) WithListener(l domain.EventListener) *Orchestrator {
	o.listener = l
	return o
}

// Stats returns a copy of the run statistics.
func (o *Orchestrator) Stats() domain.RunStatsSnapshot { return o.stats.Snapshot() }

// ActiveMarket returns the currently monitored market, if any.
func (o *Orchestrator) ActiveMarket() (domain.Market, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return domain.Market{}, false
	}
	return o.active.mkt, true
}

// ScanMarkets runs one ranked scan. Safe to call while monitoring.
func (o *Orchestrator) ScanMarkets(ctx context.Context) ([]scanner.Result, error) {
	return o.scanner.Scan(ctx)
}

// Start begins live monitoring of one market. Fails if a session is already
// active; Stop it first to switch markets.
func (o *Orchestrator) Start(ctx context.Context, mkt domain.Market) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return fmt.Errorf("orchestrator: already monitoring %s: %w", o.active.mkt.ID, domain.ErrInvalidInput)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	mon := o.newMonitor()
	mon.OnOpportunity(func(opp domain.Opportunity) { o.handleOpportunity(runCtx, opp) })
	mon.OnExecution(func(res domain.ExecutionResult) { o.handleExecution(runCtx, res) })

	if err := mon.Start(runCtx, mkt); err != nil {
		cancel()
		return err
	}

	s := &session{mkt: mkt, mon: mon, cancel: cancel}
	if o.cfg.RebalanceEnabled && o.rebalancer != nil {
		o.rebalancer.OnEvent(func(ev domain.RebalanceEvent) { o.handleRebalance(ev) })
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := o.rebalancer.Run(runCtx, mkt); err != nil && runCtx.Err() == nil {
				o.logger.Error("rebalancer exited", slog.String("error", err.Error()))
			}
		}()
	}

	o.active = s
	o.traded[mkt.ID] = mkt
	o.logger.InfoContext(ctx, "session started", slog.String("market_id", mkt.ID))
	return nil
}

// StartByID resolves the market from the metadata source, then Starts it.
func (o *Orchestrator) StartByID(ctx context.Context, marketID string) error {
	mkt, err := o.markets.GetMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("orchestrator: resolve market %s: %w", marketID, err)
	}
	return o.Start(ctx, mkt)
}

// FindAndStart scans the universe and starts monitoring the top-ranked
// actionable market. Returns ErrNotFound when nothing qualifies.
func (o *Orchestrator) FindAndStart(ctx context.Context) (domain.Market, error) {
	results, err := o.scanner.Scan(ctx)
	if err != nil {
		return domain.Market{}, err
	}
	top, ok := scanner.TopActionable(results)
	if !ok {
		return domain.Market{}, fmt.Errorf("orchestrator: no actionable market: %w", domain.ErrNotFound)
	}
	if err := o.Start(ctx, top.Market); err != nil {
		return domain.Market{}, err
	}
	return top.Market, nil
}

// Stop ends the active session. Once it returns, no further execution can be
// triggered. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	s := o.active
	o.active = nil
	o.mu.Unlock()
	if s == nil {
		return
	}

	s.mon.Stop()
	s.cancel()
	s.wg.Wait()
	o.logger.Info("session stopped", slog.String("market_id", s.mkt.ID))
}

// ClearPositions stops any active session and settles inventory for every
// market this instance traded. A failed market never blocks the rest: each
// one is attempted, recovered amounts accumulate, and per-market errors come
// back joined alongside the partial total. Already-cleared markets contribute
// zero, so repeated calls are safe.
func (o *Orchestrator) ClearPositions(ctx context.Context) (float64, error) {
	o.Stop()

	o.mu.Lock()
	markets := make([]domain.Market, 0, len(o.traded))
	for _, m := range o.traded {
		markets = append(markets, m)
	}
	o.mu.Unlock()

	var total float64
	var errs []error
	for _, mkt := range markets {
		recovered, err := o.clearer.Clear(ctx, mkt)
		total += recovered
		if err != nil {
			o.logger.Error("clear failed",
				slog.String("market_id", mkt.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("orchestrator: clear %s: %w", mkt.ID, err))
		}
	}
	o.logger.InfoContext(ctx, "positions cleared",
		slog.Int("markets", len(markets)),
		slog.Int("failed", len(errs)),
		slog.Float64("recovered", total),
	)
	return total, errors.Join(errs...)
}

func (o *Orchestrator) handleOpportunity(ctx context.Context, opp domain.Opportunity) {
	o.stats.RecordOpportunity(opp.DetectedAt)
	o.persist(ctx, func(c context.Context) error { return o.oppStore.Create(c, opp) }, o.oppStore != nil)
	if o.listener != nil {
		o.listener.OnOpportunity(opp)
	}
}

func (o *Orchestrator) handleExecution(ctx context.Context, res domain.ExecutionResult) {
	o.stats.RecordExecution(res)
	o.persist(ctx, func(c context.Context) error { return o.execStore.Create(c, res) }, o.execStore != nil)
	if o.listener != nil {
		o.listener.OnExecution(res)
	}
}

func (o *Orchestrator) handleRebalance(ev domain.RebalanceEvent) {
	if o.listener != nil {
		o.listener.OnRebalance(ev)
	}
}

// persist runs a store write off the hot path. Failures are logged, never
// propagated into the trading flow.
func (o *Orchestrator) persist(ctx context.Context, write func(context.Context) error, enabled bool) {
	if !enabled {
		return
	}
	go func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StoreTimeout)
		defer cancel()
		if err := write(wctx); err != nil {
			o.logger.Warn("store write failed", slog.String("error", err.Error()))
		}
	}()
}
