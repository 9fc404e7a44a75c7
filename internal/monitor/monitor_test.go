package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leoyang128/mirrorbot/internal/arbitrage"
	"github.com/leoyang128/mirrorbot/internal/domain"
)

type fakeStream struct {
	ch chan domain.BookUpdate
}

func (f *fakeStream) Subscribe(_ context.Context, _ []string) (<-chan domain.BookUpdate, error) {
	return f.ch, nil
}

// blockingExecutor records calls and blocks each Execute until released.
type blockingExecutor struct {
	mu       sync.Mutex
	calls    []domain.Opportunity
	started  chan struct{}
	release  chan struct{}
	blocking bool
}

func newBlockingExecutor(blocking bool) *blockingExecutor {
	return &blockingExecutor{
		started:  make(chan struct{}, 8),
		release:  make(chan struct{}),
		blocking: blocking,
	}
}

func (b *blockingExecutor) Execute(_ context.Context, mkt domain.Market, opp domain.Opportunity) domain.ExecutionResult {
	b.mu.Lock()
	b.calls = append(b.calls, opp)
	b.mu.Unlock()
	b.started <- struct{}{}
	if b.blocking {
		<-b.release
	}
	return domain.ExecutionResult{
		MarketID:      mkt.ID,
		OpportunityID: opp.ID,
		Success:       true,
		Profit:        opp.Profit * opp.Size,
	}
}

func (b *blockingExecutor) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMarket() domain.Market {
	return domain.Market{ID: "mkt", YesTokenID: "yes", NoTokenID: "no"}
}

func update(tokenID string, bid, ask, size float64) domain.BookUpdate {
	return domain.BookUpdate{
		TokenID: tokenID,
		Book: domain.OrderBook{
			TokenID: tokenID,
			Bids:    []domain.PriceLevel{{Price: bid, Size: size}},
			Asks:    []domain.PriceLevel{{Price: ask, Size: size}},
		},
	}
}

func newMonitor(t *testing.T, cfg Config, stream domain.BookStream, exec Executor) *Monitor {
	t.Helper()
	det, err := arbitrage.NewDetector(arbitrage.DetectorConfig{ProfitThreshold: 0.005})
	require.NoError(t, err)
	return New(cfg, stream, det, exec, testLogger())
}

func waitFor(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal(msg)
	}
}

func TestMonitor_DetectsAndExecutesOnQualifyingDelta(t *testing.T) {
	stream := &fakeStream{ch: make(chan domain.BookUpdate, 8)}
	exec := newBlockingExecutor(false)
	m := newMonitor(t, Config{AutoExecute: true}, stream, exec)

	oppSeen := make(chan struct{}, 8)
	execDone := make(chan struct{}, 8)
	var gotResult domain.ExecutionResult
	m.OnOpportunity(func(domain.Opportunity) { oppSeen <- struct{}{} })
	m.OnExecution(func(res domain.ExecutionResult) {
		gotResult = res
		execDone <- struct{}{}
	})

	require.NoError(t, m.Start(context.Background(), testMarket()))
	assert.Equal(t, StateMonitoring, m.State())

	// Asks sum to 0.90: long edge of 0.10.
	stream.ch <- update("yes", 0.43, 0.45, 100)
	stream.ch <- update("no", 0.43, 0.45, 100)

	waitFor(t, oppSeen, "opportunity callback never fired")
	waitFor(t, execDone, "execution callback never fired")

	assert.True(t, gotResult.Success)
	assert.Equal(t, "mkt", gotResult.MarketID)
	assert.Equal(t, 1, exec.callCount())

	m.Stop()
	assert.Equal(t, StateStopped, m.State())
}

func TestMonitor_DropsQualifyingDeltaWhileExecuting(t *testing.T) {
	stream := &fakeStream{ch: make(chan domain.BookUpdate, 8)}
	exec := newBlockingExecutor(true)
	m := newMonitor(t, Config{AutoExecute: true}, stream, exec)

	oppSeen := make(chan struct{}, 8)
	execDone := make(chan struct{}, 8)
	m.OnOpportunity(func(domain.Opportunity) { oppSeen <- struct{}{} })
	m.OnExecution(func(domain.ExecutionResult) { execDone <- struct{}{} })

	require.NoError(t, m.Start(context.Background(), testMarket()))

	stream.ch <- update("yes", 0.43, 0.45, 100)
	stream.ch <- update("no", 0.43, 0.45, 100)
	waitFor(t, oppSeen, "first opportunity never detected")
	waitFor(t, exec.started, "execution never started")

	// A second qualifying delta arrives mid-execution: detected, but dropped
	// rather than queued behind the in-flight trade.
	stream.ch <- update("yes", 0.42, 0.44, 100)
	waitFor(t, oppSeen, "second opportunity never detected")

	close(exec.release)
	waitFor(t, execDone, "execution never finished")

	assert.Equal(t, 1, exec.callCount(), "mid-execution delta must not trigger a second execution")
	assert.Equal(t, StateMonitoring, m.State(), "monitor resumes after execution")

	m.Stop()
}

func TestMonitor_NoDetectionUntilBothBooksSeen(t *testing.T) {
	stream := &fakeStream{ch: make(chan domain.BookUpdate, 8)}
	exec := newBlockingExecutor(false)
	m := newMonitor(t, Config{AutoExecute: true}, stream, exec)

	oppSeen := make(chan struct{}, 8)
	m.OnOpportunity(func(domain.Opportunity) { oppSeen <- struct{}{} })

	require.NoError(t, m.Start(context.Background(), testMarket()))
	stream.ch <- update("yes", 0.10, 0.20, 100)

	select {
	case <-oppSeen:
		t.Fatal("detected with only one side's book")
	case <-time.After(100 * time.Millisecond):
	}

	m.Stop()
	assert.Zero(t, exec.callCount())
}

func TestMonitor_AutoExecuteDisabledOnlySignals(t *testing.T) {
	stream := &fakeStream{ch: make(chan domain.BookUpdate, 8)}
	exec := newBlockingExecutor(false)
	m := newMonitor(t, Config{AutoExecute: false}, stream, exec)

	oppSeen := make(chan struct{}, 8)
	m.OnOpportunity(func(domain.Opportunity) { oppSeen <- struct{}{} })

	require.NoError(t, m.Start(context.Background(), testMarket()))
	stream.ch <- update("yes", 0.43, 0.45, 100)
	stream.ch <- update("no", 0.43, 0.45, 100)

	waitFor(t, oppSeen, "opportunity callback never fired")
	m.Stop()
	assert.Zero(t, exec.callCount(), "auto-execute off must not trade")
}

func TestMonitor_StopIsTerminal(t *testing.T) {
	stream := &fakeStream{ch: make(chan domain.BookUpdate, 8)}
	m := newMonitor(t, Config{}, stream, newBlockingExecutor(false))

	require.NoError(t, m.Start(context.Background(), testMarket()))
	m.Stop()
	m.Stop() // idempotent

	err := m.Start(context.Background(), testMarket())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, StateStopped, m.State())
}

func TestMonitor_StartTwiceRejected(t *testing.T) {
	stream := &fakeStream{ch: make(chan domain.BookUpdate, 8)}
	m := newMonitor(t, Config{}, stream, newBlockingExecutor(false))

	require.NoError(t, m.Start(context.Background(), testMarket()))
	err := m.Start(context.Background(), testMarket())
	require.Error(t, err)
	m.Stop()
}
