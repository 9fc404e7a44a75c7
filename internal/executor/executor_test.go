package executor

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
)

type placedOrder struct {
	req domain.OrderRequest
}

type fakeOrderClient struct {
	mu     sync.Mutex
	placed []placedOrder
	// fill maps tokenID -> fraction of requested size that fills.
	fill map[string]float64
	// fail maps tokenID -> error to return.
	fail map[string]error
}

func (f *fakeOrderClient) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, placedOrder{req: req})
	if err := f.fail[req.TokenID]; err != nil {
		return domain.OrderResult{}, err
	}
	frac, ok := f.fill[req.TokenID]
	if !ok {
		frac = 1.0
	}
	return domain.OrderResult{
		Success:     true,
		OrderID:     "ord-" + req.TokenID,
		Status:      domain.OrderStatusMatched,
		FilledSize:  req.Size * frac,
		FilledPrice: req.Price,
	}, nil
}

type fakeBookSource struct {
	mu      sync.Mutex
	books   map[string]domain.OrderBook
	err     error
	fetches int
}

func (f *fakeBookSource) GetBook(_ context.Context, tokenID string) (domain.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return domain.OrderBook{}, f.err
	}
	return f.books[tokenID], nil
}

// testBooks returns uncrossed books for both tokens so correction tests can
// assert the order price came from the book, not the executed opportunity.
func testBooks() *fakeBookSource {
	return &fakeBookSource{books: map[string]domain.OrderBook{
		"yes": {
			TokenID: "yes",
			Bids:    []domain.PriceLevel{{Price: 0.38, Size: 500}},
			Asks:    []domain.PriceLevel{{Price: 0.41, Size: 500}},
		},
		"no": {
			TokenID: "no",
			Bids:    []domain.PriceLevel{{Price: 0.54, Size: 500}},
			Asks:    []domain.PriceLevel{{Price: 0.56, Size: 500}},
		},
	}}
}

type fakeLockManager struct {
	mu   sync.Mutex
	held bool
}

func (f *fakeLockManager) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.held = true
	return func() {
		f.mu.Lock()
		f.held = false
		f.mu.Unlock()
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMarket() domain.Market {
	return domain.Market{ID: "mkt", YesTokenID: "yes", NoTokenID: "no"}
}

func longOpp(size float64) domain.Opportunity {
	return domain.Opportunity{
		ID:       "opp-1",
		MarketID: "mkt",
		Kind:     domain.OpportunityLong,
		Profit:   0.05,
		Size:     size,
		YesPrice: 0.40,
		NoPrice:  0.55,
	}
}

func newEngine(orders domain.OrderClient, books domain.BookSource, locks domain.LockManager, cfg Config) *Engine {
	if cfg.Wallet == "" {
		cfg.Wallet = "0xabc"
	}
	return New(cfg, orders, books, locks, testLogger())
}

func TestEngine_ExecuteLongBothLegsFill(t *testing.T) {
	orders := &fakeOrderClient{}
	e := newEngine(orders, testBooks(), &fakeLockManager{}, Config{ImbalanceThreshold: 1, AutoFixImbalance: true})

	res := e.Execute(context.Background(), testMarket(), longOpp(100))

	require.True(t, res.Success)
	assert.InDelta(t, 5.0, res.Profit, 1e-9) // 0.05 * 100 matched
	assert.Equal(t, 100.0, res.FilledYesSize)
	assert.Equal(t, 100.0, res.FilledNoSize)
	assert.False(t, res.CorrectionApplied)

	require.Len(t, orders.placed, 2)
	assert.Equal(t, domain.OrderSideBuy, orders.placed[0].req.Side)
	assert.Equal(t, domain.OrderTypeFAK, orders.placed[0].req.Type)
	assert.Equal(t, "yes", orders.placed[0].req.TokenID)
	assert.Equal(t, "no", orders.placed[1].req.TokenID)
}

func TestEngine_ExecuteShortSellsBothLegs(t *testing.T) {
	orders := &fakeOrderClient{}
	e := newEngine(orders, testBooks(), &fakeLockManager{}, Config{})

	opp := longOpp(50)
	opp.Kind = domain.OpportunityShort
	opp.YesPrice, opp.NoPrice = 0.52, 0.51

	res := e.Execute(context.Background(), testMarket(), opp)
	require.True(t, res.Success)
	require.Len(t, orders.placed, 2)
	assert.Equal(t, domain.OrderSideSell, orders.placed[0].req.Side)
	assert.Equal(t, domain.OrderSideSell, orders.placed[1].req.Side)
}

func TestEngine_PartialFillTriggersCorrection(t *testing.T) {
	orders := &fakeOrderClient{fill: map[string]float64{"no": 0.4}}
	books := testBooks()
	e := newEngine(orders, books, &fakeLockManager{}, Config{ImbalanceThreshold: 10, AutoFixImbalance: true})

	res := e.Execute(context.Background(), testMarket(), longOpp(100))

	require.True(t, res.Success, "matched portion still realizes profit")
	assert.Equal(t, 100.0, res.FilledYesSize)
	assert.Equal(t, 40.0, res.FilledNoSize)
	assert.InDelta(t, 2.0, res.Profit, 1e-9) // 0.05 * 40 matched
	assert.True(t, res.CorrectionApplied)

	// Third order sells the 60 excess YES tokens into the current best bid,
	// not at the 0.40 ask the opportunity was bought at.
	require.Len(t, orders.placed, 3)
	corr := orders.placed[2].req
	assert.Equal(t, "yes", corr.TokenID)
	assert.Equal(t, domain.OrderSideSell, corr.Side)
	assert.InDelta(t, 60.0, corr.Size, 1e-9)
	assert.InDelta(t, 0.38, corr.Price, 1e-9)
	assert.Equal(t, 1, books.fetches)
}

func TestEngine_ShortCorrectionBuysBackAtBestAsk(t *testing.T) {
	orders := &fakeOrderClient{fill: map[string]float64{"no": 0.4}}
	books := testBooks()
	e := newEngine(orders, books, &fakeLockManager{}, Config{ImbalanceThreshold: 10, AutoFixImbalance: true})

	opp := longOpp(100)
	opp.Kind = domain.OpportunityShort
	opp.YesPrice, opp.NoPrice = 0.52, 0.51

	res := e.Execute(context.Background(), testMarket(), opp)
	require.True(t, res.Success)
	assert.True(t, res.CorrectionApplied)

	// 60 excess YES sold short is bought back at the YES best ask.
	require.Len(t, orders.placed, 3)
	corr := orders.placed[2].req
	assert.Equal(t, "yes", corr.TokenID)
	assert.Equal(t, domain.OrderSideBuy, corr.Side)
	assert.InDelta(t, 0.41, corr.Price, 1e-9)
	assert.Equal(t, 1, books.fetches)
}

func TestEngine_CorrectionBookFetchFailure(t *testing.T) {
	orders := &fakeOrderClient{fill: map[string]float64{"no": 0.4}}
	books := testBooks()
	books.err = errors.New("clob down")
	e := newEngine(orders, books, &fakeLockManager{}, Config{ImbalanceThreshold: 10, AutoFixImbalance: true})

	res := e.Execute(context.Background(), testMarket(), longOpp(100))

	assert.False(t, res.CorrectionApplied)
	assert.Contains(t, res.Error, "correction")
	// No corrective order goes out on a stale or missing book.
	assert.Len(t, orders.placed, 2)
}

func TestEngine_ImbalanceWithinThresholdNotCorrected(t *testing.T) {
	orders := &fakeOrderClient{fill: map[string]float64{"no": 0.95}}
	e := newEngine(orders, testBooks(), &fakeLockManager{}, Config{ImbalanceThreshold: 10, AutoFixImbalance: true})

	res := e.Execute(context.Background(), testMarket(), longOpp(100))
	require.True(t, res.Success)
	assert.False(t, res.CorrectionApplied)
	assert.Len(t, orders.placed, 2)
}

func TestEngine_LegFailureReportsAndCorrects(t *testing.T) {
	orders := &fakeOrderClient{fail: map[string]error{"no": errors.New("rejected")}}
	e := newEngine(orders, testBooks(), &fakeLockManager{}, Config{ImbalanceThreshold: 1, AutoFixImbalance: true})

	res := e.Execute(context.Background(), testMarket(), longOpp(100))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no leg")
	assert.Equal(t, 100.0, res.FilledYesSize)
	assert.Zero(t, res.FilledNoSize)
	// The filled YES leg is unwound rather than silently left open.
	assert.True(t, res.CorrectionApplied)
	require.Len(t, orders.placed, 3)
	assert.Equal(t, "yes", orders.placed[2].req.TokenID)
	assert.Equal(t, domain.OrderSideSell, orders.placed[2].req.Side)
}

func TestEngine_AutoFixDisabledLeavesImbalance(t *testing.T) {
	orders := &fakeOrderClient{fill: map[string]float64{"no": 0.4}}
	e := newEngine(orders, testBooks(), &fakeLockManager{}, Config{ImbalanceThreshold: 10, AutoFixImbalance: false})

	res := e.Execute(context.Background(), testMarket(), longOpp(100))
	assert.False(t, res.CorrectionApplied)
	assert.Len(t, orders.placed, 2)
}

func TestEngine_NotActionableOpportunity(t *testing.T) {
	orders := &fakeOrderClient{}
	e := newEngine(orders, testBooks(), &fakeLockManager{}, Config{})

	opp := longOpp(0)
	res := e.Execute(context.Background(), testMarket(), opp)
	assert.False(t, res.Success)
	assert.Empty(t, orders.placed)
}

func TestEngine_WalletLockHeldFailsExecution(t *testing.T) {
	orders := &fakeOrderClient{}
	locks := &fakeLockManager{held: true}
	e := newEngine(orders, testBooks(), locks, Config{})

	res := e.Execute(context.Background(), testMarket(), longOpp(10))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "wallet lock")
	assert.Empty(t, orders.placed)
}
