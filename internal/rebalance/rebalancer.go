// Package rebalance keeps the wallet's stable-currency ratio within bounds by
// issuing split and merge calls on a timer, and flattens one-sided token
// inventory that did not come from an execution in flight.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

const (
	defaultInterval = time.Minute
	defaultCooldown = 5 * time.Minute
	defaultLockTTL  = 30 * time.Second
)

// Config bounds the rebalancer. Ratios must satisfy 0 <= min < target < max <= 1.
type Config struct {
	MinUSDCRatio       float64
	TargetUSDCRatio    float64
	MaxUSDCRatio       float64
	ImbalanceThreshold float64
	Interval           time.Duration
	Cooldown           time.Duration
	Wallet             string
	LockTTL            time.Duration
}

// Validate checks the ratio ordering.
func (c Config) Validate() error {
	if c.MinUSDCRatio < 0 || c.MaxUSDCRatio > 1 {
		return fmt.Errorf("rebalance: ratios outside [0,1]: %w", domain.ErrInvalidInput)
	}
	if !(c.MinUSDCRatio < c.TargetUSDCRatio && c.TargetUSDCRatio < c.MaxUSDCRatio) {
		return fmt.Errorf("rebalance: require min < target < max: %w", domain.ErrInvalidInput)
	}
	return nil
}

// Rebalancer runs the recurring capital check. The tick interval and the
// action cooldown are independent: the loop may inspect balances every
// Interval but acts at most once per Cooldown.
type Rebalancer struct {
	cfg    Config
	chain  domain.ChainClient
	books  domain.BookSource
	orders domain.OrderClient
	locks  domain.LockManager
	logger *slog.Logger

	onEvent func(domain.RebalanceEvent)

	mu         sync.Mutex
	lastAction time.Time
	now        func() time.Time
}

// New creates a Rebalancer, validating the configured ratio bounds.
func New(cfg Config, chain domain.ChainClient, books domain.BookSource, orders domain.OrderClient, locks domain.LockManager, logger *slog.Logger) (*Rebalancer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &Rebalancer{
		cfg:    cfg,
		chain:  chain,
		books:  books,
		orders: orders,
		locks:  locks,
		logger: logger.With(slog.String("component", "rebalancer")),
		now:    time.Now,
	}, nil
}

// OnEvent registers the action callback. Must be set before Run.
func (r *Rebalancer) OnEvent(fn func(domain.RebalanceEvent)) { r.onEvent = fn }

// Run ticks until ctx is cancelled. Per-tick failures are logged and the loop
// continues; the next tick reads balances fresh.
func (r *Rebalancer) Run(ctx context.Context, mkt domain.Market) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "rebalancer started",
		slog.String("market_id", mkt.ID),
		slog.Duration("interval", r.cfg.Interval),
		slog.Duration("cooldown", r.cfg.Cooldown),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.CheckOnce(ctx, mkt); err != nil {
				r.logger.WarnContext(ctx, "rebalance tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// CheckOnce reads a fresh snapshot and applies at most one action. It returns
// the event issued, or nil when nothing was done (in-bounds, in cooldown, or
// the wallet lock is held by an execution in progress).
func (r *Rebalancer) CheckOnce(ctx context.Context, mkt domain.Market) (*domain.RebalanceEvent, error) {
	if !r.cooldownElapsed() {
		return nil, nil
	}

	pos, err := r.chain.Balances(ctx, mkt)
	if err != nil {
		return nil, fmt.Errorf("rebalance: read balances: %w", err)
	}
	ratio := pos.USDCRatio()

	action, amount := r.decide(pos, ratio)
	if action == "" || amount <= 0 {
		return nil, nil
	}

	release, err := r.locks.Acquire(ctx, "wallet:"+r.cfg.Wallet, r.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			// An execution or clear owns the inventory right now; the
			// condition will still hold next tick if it is real.
			r.logger.DebugContext(ctx, "rebalance skipped, wallet busy")
			return nil, nil
		}
		return nil, fmt.Errorf("rebalance: wallet lock: %w", err)
	}
	defer release()

	switch action {
	case domain.RebalanceMerge:
		if _, err := r.chain.Merge(ctx, mkt.ConditionID, amount); err != nil {
			return nil, fmt.Errorf("rebalance: merge: %w", err)
		}
	case domain.RebalanceSplit:
		if _, err := r.chain.Split(ctx, mkt.ConditionID, amount); err != nil {
			return nil, fmt.Errorf("rebalance: split: %w", err)
		}
	case domain.RebalanceCorrect:
		if err := r.correct(ctx, mkt, pos, amount); err != nil {
			return nil, fmt.Errorf("rebalance: correct: %w", err)
		}
	}

	ev := domain.RebalanceEvent{
		Action:      action,
		Amount:      amount,
		RatioBefore: ratio,
		At:          r.now().UTC(),
	}
	r.mu.Lock()
	r.lastAction = r.now()
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "rebalance action",
		slog.String("action", string(action)),
		slog.Float64("amount", amount),
		slog.Float64("ratio_before", ratio),
	)
	if r.onEvent != nil {
		r.onEvent(ev)
	}
	return &ev, nil
}

// decide picks the single action for this tick. Ratio restoration takes
// precedence over inventory flattening.
func (r *Rebalancer) decide(pos domain.PositionSnapshot, ratio float64) (domain.RebalanceAction, float64) {
	total := pos.USDC + pos.TokenValue()

	switch {
	case ratio < r.cfg.MinUSDCRatio:
		// Merging n matched pairs yields n USDC at constant total value, so
		// the amount restoring the target ratio is target*total - usdc.
		amount := r.cfg.TargetUSDCRatio*total - pos.USDC
		if pairs := pos.MatchedPairs(); amount > pairs {
			amount = pairs
		}
		return domain.RebalanceMerge, amount
	case ratio > r.cfg.MaxUSDCRatio:
		amount := pos.USDC - r.cfg.TargetUSDCRatio*total
		if amount > pos.USDC {
			amount = pos.USDC
		}
		return domain.RebalanceSplit, amount
	}

	if excess := pos.YesTokens - pos.NoTokens; abs(excess) > r.cfg.ImbalanceThreshold {
		return domain.RebalanceCorrect, abs(excess)
	}
	return "", 0
}

// correct sells the excess side at the best available bid.
func (r *Rebalancer) correct(ctx context.Context, mkt domain.Market, pos domain.PositionSnapshot, amount float64) error {
	tokenID := mkt.YesTokenID
	if pos.NoTokens > pos.YesTokens {
		tokenID = mkt.NoTokenID
	}

	book, err := r.books.GetBook(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("fetch book: %w", err)
	}
	bid := book.BestBid()
	if bid.Price <= 0 {
		return fmt.Errorf("no bid liquidity for %s: %w", tokenID, domain.ErrNotFound)
	}

	_, err = r.orders.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: tokenID,
		Side:    domain.OrderSideSell,
		Price:   bid.Price,
		Size:    amount,
		Type:    domain.OrderTypeFAK,
	})
	return err
}

func (r *Rebalancer) cooldownElapsed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAction.IsZero() || r.now().Sub(r.lastAction) >= r.cfg.Cooldown
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
