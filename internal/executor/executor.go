// Package executor places the two offsetting legs of a detected arbitrage and
// applies partial-fill protection.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

const (
	defaultOrderTimeout = 10 * time.Second
	defaultLockTTL      = 30 * time.Second

	// lockRetries bounds how long an execution waits for the wallet lock
	// before giving up; the rebalancer may be mid-merge.
	lockRetries    = 5
	lockRetryDelay = 200 * time.Millisecond
)

// Config configures the execution engine.
type Config struct {
	Wallet             string
	ImbalanceThreshold float64
	AutoFixImbalance   bool
	OrderTimeout       time.Duration
	LockTTL            time.Duration
}

// Engine executes two-leg arbitrage trades. Inventory-affecting actions are
// serialized with the rebalancer and clearer through the shared wallet lock.
type Engine struct {
	cfg    Config
	orders domain.OrderClient
	books  domain.BookSource
	locks  domain.LockManager
	logger *slog.Logger
}

// New creates an execution engine.
func New(cfg Config, orders domain.OrderClient, books domain.BookSource, locks domain.LockManager, logger *slog.Logger) *Engine {
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = defaultOrderTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &Engine{
		cfg:    cfg,
		orders: orders,
		books:  books,
		locks:  locks,
		logger: logger.With(slog.String("component", "executor")),
	}
}

// Execute places both legs of the opportunity and returns the outcome. Errors
// are folded into the result rather than returned: a failed leg is reported as
// Success=false with the surviving leg handed to the correction path, never
// silently lost.
func (e *Engine) Execute(ctx context.Context, mkt domain.Market, opp domain.Opportunity) domain.ExecutionResult {
	res := domain.ExecutionResult{
		ID:            uuid.New().String(),
		MarketID:      mkt.ID,
		OpportunityID: opp.ID,
		Kind:          opp.Kind,
		ExecutedAt:    time.Now().UTC(),
	}
	if !opp.IsActionable() || opp.Size <= 0 {
		res.Error = "opportunity not actionable"
		return res
	}

	release, err := e.acquireWallet(ctx)
	if err != nil {
		res.Error = fmt.Sprintf("wallet lock: %v", err)
		return res
	}
	defer release()

	side := domain.OrderSideBuy
	if opp.Kind == domain.OpportunityShort {
		side = domain.OrderSideSell
	}

	log := e.logger.With(
		slog.String("market_id", mkt.ID),
		slog.String("kind", string(opp.Kind)),
		slog.Float64("size", opp.Size),
	)
	log.InfoContext(ctx, "executing opportunity",
		slog.Float64("yes_price", opp.YesPrice),
		slog.Float64("no_price", opp.NoPrice),
		slog.Float64("profit", opp.Profit),
	)

	yesRes, yesErr := e.placeLeg(ctx, mkt.YesTokenID, side, opp.YesPrice, opp.Size)
	noRes, noErr := e.placeLeg(ctx, mkt.NoTokenID, side, opp.NoPrice, opp.Size)

	res.FilledYesSize = yesRes.FilledSize
	res.FilledNoSize = noRes.FilledSize

	if yesErr != nil || noErr != nil {
		res.Error = legError(yesErr, noErr)
		log.WarnContext(ctx, "leg placement failed", slog.String("error", res.Error))
	}

	// Partial-fill protection: flatten any residual one-sided exposure.
	imbalance := res.FilledYesSize - res.FilledNoSize
	if e.cfg.AutoFixImbalance && abs(imbalance) > e.cfg.ImbalanceThreshold {
		if err := e.correct(ctx, mkt, opp, imbalance); err != nil {
			log.ErrorContext(ctx, "imbalance correction failed", slog.String("error", err.Error()))
			if res.Error == "" {
				res.Error = fmt.Sprintf("correction: %v", err)
			}
		} else {
			res.CorrectionApplied = true
		}
	}

	matched := res.MatchedSize()
	if yesErr == nil && noErr == nil && matched > 0 {
		res.Success = true
		res.Profit = opp.Profit * matched
	}
	log.InfoContext(ctx, "execution finished",
		slog.Bool("success", res.Success),
		slog.Float64("matched", matched),
		slog.Float64("profit", res.Profit),
		slog.Bool("correction", res.CorrectionApplied),
	)
	return res
}

// placeLeg submits one FAK leg with a bounded timeout. A timeout counts as a
// failure, not an indefinite suspension.
func (e *Engine) placeLeg(ctx context.Context, tokenID string, side domain.OrderSide, price, size float64) (domain.OrderResult, error) {
	legCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	res, err := e.orders.PlaceOrder(legCtx, domain.OrderRequest{
		TokenID: tokenID,
		Side:    side,
		Price:   price,
		Size:    size,
		Type:    domain.OrderTypeFAK,
	})
	if err != nil {
		return domain.OrderResult{Status: domain.OrderStatusFailed}, err
	}
	if !res.Success {
		return res, fmt.Errorf("%w: %s", domain.ErrExecutionFailed, res.Message)
	}
	return res, nil
}

// correct unwinds the excess side at the best available price. For a long
// (both legs bought) the over-filled token is sold into the best bid; for a
// short (both legs sold) the over-sold token is bought back at the best ask.
// The opportunity's own leg prices are already stale by now, so the price
// always comes from a fresh book fetch.
func (e *Engine) correct(ctx context.Context, mkt domain.Market, opp domain.Opportunity, imbalance float64) error {
	tokenID := mkt.YesTokenID
	if imbalance < 0 {
		tokenID = mkt.NoTokenID
	}

	book, err := e.books.GetBook(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("fetch book: %w", err)
	}

	side := domain.OrderSideSell
	level := book.BestBid()
	if opp.Kind == domain.OpportunityShort {
		side = domain.OrderSideBuy
		level = book.BestAsk()
	}
	if level.Price <= 0 {
		return fmt.Errorf("no liquidity for %s: %w", tokenID, domain.ErrNotFound)
	}

	_, err = e.placeLeg(ctx, tokenID, side, level.Price, abs(imbalance))
	return err
}

func (e *Engine) acquireWallet(ctx context.Context) (func(), error) {
	key := "wallet:" + e.cfg.Wallet
	var lastErr error
	for i := 0; i < lockRetries; i++ {
		release, err := e.locks.Acquire(ctx, key, e.cfg.LockTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return nil, lastErr
}

func legError(yesErr, noErr error) string {
	switch {
	case yesErr != nil && noErr != nil:
		return fmt.Sprintf("yes leg: %v; no leg: %v", yesErr, noErr)
	case yesErr != nil:
		return fmt.Sprintf("yes leg: %v", yesErr)
	default:
		return fmt.Sprintf("no leg: %v", noErr)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
