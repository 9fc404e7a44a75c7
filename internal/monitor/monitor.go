// Package monitor runs live detection for a single market. It consumes the
// normalized book-delta stream, re-runs the detector on every update, and
// serializes execution so at most one trade per market is ever in flight.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leoyang128/mirrorbot/internal/arbitrage"
	"github.com/leoyang128/mirrorbot/internal/domain"
)

// State is the monitor lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateMonitoring
	StateExecuting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMonitoring:
		return "monitoring"
	case StateExecuting:
		return "executing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Executor is the execution path the monitor triggers. Implemented by the
// executor package; faked in tests.
type Executor interface {
	Execute(ctx context.Context, mkt domain.Market, opp domain.Opportunity) domain.ExecutionResult
}

// Config configures the monitor.
type Config struct {
	AutoExecute bool
	// RetryBackoff paces resubscription after a stream failure.
	RetryBackoff time.Duration
}

// Monitor owns live detection for one market. Opportunities and execution
// results are delivered through the callbacks, which are invoked from the
// monitor's own goroutines.
type Monitor struct {
	cfg      Config
	stream   domain.BookStream
	detector *arbitrage.Detector
	executor Executor
	logger   *slog.Logger

	onOpportunity func(domain.Opportunity)
	onExecution   func(domain.ExecutionResult)

	mu     sync.Mutex
	state  State
	market domain.Market
	cancel context.CancelFunc
	// books holds the latest snapshot per token for the active market.
	yesBook domain.OrderBook
	noBook  domain.OrderBook
	wg      sync.WaitGroup
}

// New creates a Monitor.
func New(cfg Config, stream domain.BookStream, detector *arbitrage.Detector, executor Executor, logger *slog.Logger) *Monitor {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Monitor{
		cfg:      cfg,
		stream:   stream,
		detector: detector,
		executor: executor,
		logger:   logger.With(slog.String("component", "monitor")),
		state:    StateIdle,
	}
}

// OnOpportunity registers the opportunity callback. Must be called before Start.
func (m *Monitor) OnOpportunity(fn func(domain.Opportunity)) { m.onOpportunity = fn }

// OnExecution registers the execution callback. Must be called before Start.
func (m *Monitor) OnExecution(fn func(domain.ExecutionResult)) { m.onExecution = fn }

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Market returns the actively monitored market.
func (m *Monitor) Market() domain.Market {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.market
}

// Start subscribes to book updates for the market and transitions to
// monitoring. It returns once the subscription is established; detection runs
// in a background consumer goroutine until Stop.
func (m *Monitor) Start(ctx context.Context, mkt domain.Market) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("monitor: start from state %s: %w", m.state, domain.ErrInvalidInput)
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch, err := m.stream.Subscribe(subCtx, []string{mkt.YesTokenID, mkt.NoTokenID})
	if err != nil {
		cancel()
		m.mu.Unlock()
		return fmt.Errorf("monitor: subscribe %s: %w", mkt.ID, err)
	}

	m.market = mkt
	m.cancel = cancel
	m.state = StateMonitoring
	m.yesBook = domain.OrderBook{}
	m.noBook = domain.OrderBook{}
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "monitoring started", slog.String("market_id", mkt.ID))
	m.wg.Add(1)
	go m.consume(subCtx, ch)
	return nil
}

// Stop tears down the subscription and transitions to stopped. After Stop
// returns, no further execution is triggered: the state flip and the
// subscription cancel happen under the same lock the trigger path takes.
// Stopped is terminal.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state == StateStopped || m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.state = StateStopped
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("monitoring stopped", slog.String("market_id", m.market.ID))
}

// consume is the single consumer loop: it applies each delta, re-runs the
// detector, and hands qualifying opportunities to the trigger path.
func (m *Monitor) consume(ctx context.Context, ch <-chan domain.BookUpdate) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-ch:
			if !ok {
				m.logger.Warn("book stream closed")
				return
			}
			m.handleUpdate(ctx, upd)
		}
	}
}

func (m *Monitor) handleUpdate(ctx context.Context, upd domain.BookUpdate) {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	switch upd.TokenID {
	case m.market.YesTokenID:
		m.yesBook = upd.Book
	case m.market.NoTokenID:
		m.noBook = upd.Book
	default:
		m.mu.Unlock()
		return
	}
	if len(m.yesBook.Bids)+len(m.yesBook.Asks) == 0 || len(m.noBook.Bids)+len(m.noBook.Asks) == 0 {
		// Need at least one snapshot per side before detecting.
		m.mu.Unlock()
		return
	}
	top := domain.TopOf(m.yesBook, m.noBook)
	mkt := m.market
	m.mu.Unlock()

	opp, err := m.detector.Detect(mkt.ID, top)
	if err != nil {
		m.logger.WarnContext(ctx, "detection failed", slog.String("error", err.Error()))
		return
	}
	if !opp.IsActionable() {
		return
	}
	if m.onOpportunity != nil {
		m.onOpportunity(opp)
	}
	if !m.cfg.AutoExecute || opp.Size <= 0 {
		return
	}
	m.tryExecute(ctx, mkt, opp)
}

// tryExecute transitions monitoring -> executing under the lock. A qualifying
// delta arriving while an execution is in flight finds the state already
// executing and is dropped, not queued.
func (m *Monitor) tryExecute(ctx context.Context, mkt domain.Market, opp domain.Opportunity) {
	m.mu.Lock()
	if m.state != StateMonitoring {
		m.mu.Unlock()
		m.logger.Debug("opportunity dropped",
			slog.String("state", m.state.String()),
			slog.String("opp_id", opp.ID),
		)
		return
	}
	m.state = StateExecuting
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		res := m.executor.Execute(ctx, mkt, opp)

		m.mu.Lock()
		if m.state == StateExecuting {
			m.state = StateMonitoring
		}
		m.mu.Unlock()

		if m.onExecution != nil {
			m.onExecution(res)
		}
	}()
}
