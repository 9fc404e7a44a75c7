// Package clearing settles remaining token inventory at end of session,
// turning it back into stable currency.
package clearing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

const defaultLockTTL = 60 * time.Second

// Config configures the clearer.
type Config struct {
	Wallet  string
	LockTTL time.Duration
}

// Clearer liquidates a market's positions. For a market still trading it
// merges the matched YES/NO portion and sells the unmatched remainder; for a
// resolved market it redeems winning tokens directly, since merging resolved
// tokens is invalid (the losing side is worthless and the winner redeems 1:1).
type Clearer struct {
	cfg    Config
	chain  domain.ChainClient
	books  domain.BookSource
	orders domain.OrderClient
	locks  domain.LockManager
	logger *slog.Logger
}

// New creates a Clearer.
func New(cfg Config, chain domain.ChainClient, books domain.BookSource, orders domain.OrderClient, locks domain.LockManager, logger *slog.Logger) *Clearer {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &Clearer{
		cfg:    cfg,
		chain:  chain,
		books:  books,
		orders: orders,
		locks:  locks,
		logger: logger.With(slog.String("component", "clearer")),
	}
}

// Clear settles the market and returns the stable currency recovered.
// Clearing an already-cleared market finds zero balances and recovers zero
// without error.
func (c *Clearer) Clear(ctx context.Context, mkt domain.Market) (float64, error) {
	pos, err := c.chain.Balances(ctx, mkt)
	if err != nil {
		return 0, fmt.Errorf("clearing: read balances: %w", err)
	}
	if pos.YesTokens <= 0 && pos.NoTokens <= 0 {
		return 0, nil
	}

	release, err := c.locks.Acquire(ctx, "wallet:"+c.cfg.Wallet, c.cfg.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("clearing: wallet lock: %w", err)
	}
	defer release()

	log := c.logger.With(
		slog.String("market_id", mkt.ID),
		slog.Bool("resolved", mkt.Resolved),
		slog.Float64("yes_tokens", pos.YesTokens),
		slog.Float64("no_tokens", pos.NoTokens),
	)

	var recovered float64
	if mkt.Resolved {
		recovered, err = c.redeem(ctx, mkt)
	} else {
		recovered, err = c.mergeAndSell(ctx, mkt, pos)
	}
	if err != nil {
		return recovered, err
	}

	log.InfoContext(ctx, "position cleared", slog.Float64("recovered", recovered))
	return recovered, nil
}

// redeem converts winning tokens of a resolved market into collateral. The
// contract pays out only the winning side, so no merge is issued.
func (c *Clearer) redeem(ctx context.Context, mkt domain.Market) (float64, error) {
	amount, err := c.chain.Redeem(ctx, mkt.ConditionID)
	if err != nil {
		return 0, fmt.Errorf("clearing: redeem: %w", err)
	}
	return amount, nil
}

// mergeAndSell merges the matched portion 1:1 into collateral, then sells any
// unmatched remainder at the best available bid.
func (c *Clearer) mergeAndSell(ctx context.Context, mkt domain.Market, pos domain.PositionSnapshot) (float64, error) {
	var recovered float64

	if pairs := pos.MatchedPairs(); pairs > 0 {
		merged, err := c.chain.Merge(ctx, mkt.ConditionID, pairs)
		if err != nil {
			return recovered, fmt.Errorf("clearing: merge: %w", err)
		}
		recovered += merged
	}

	remainder := pos.YesTokens - pos.NoTokens
	if remainder == 0 {
		return recovered, nil
	}
	tokenID := mkt.YesTokenID
	if remainder < 0 {
		tokenID = mkt.NoTokenID
		remainder = -remainder
	}

	proceeds, err := c.sellRemainder(ctx, tokenID, remainder)
	if err != nil {
		return recovered, err
	}
	return recovered + proceeds, nil
}

func (c *Clearer) sellRemainder(ctx context.Context, tokenID string, size float64) (float64, error) {
	book, err := c.books.GetBook(ctx, tokenID)
	if err != nil {
		return 0, fmt.Errorf("clearing: fetch book %s: %w", tokenID, err)
	}
	bid := book.BestBid()
	if bid.Price <= 0 {
		// No bid side to sell into. The tokens stay in the wallet; a later
		// clear or redemption picks them up.
		c.logger.Warn("remainder unsellable, no bids", slog.String("token_id", tokenID))
		return 0, nil
	}

	res, err := c.orders.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: tokenID,
		Side:    domain.OrderSideSell,
		Price:   bid.Price,
		Size:    size,
		Type:    domain.OrderTypeFAK,
	})
	if err != nil {
		return 0, fmt.Errorf("clearing: sell remainder: %w", err)
	}
	return res.FilledSize * res.FilledPrice, nil
}
