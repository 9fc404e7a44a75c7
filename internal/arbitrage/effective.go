// Package arbitrage holds the pure detection core: mirror-corrected effective
// prices and the long/short opportunity classifier. Nothing here performs I/O.
package arbitrage

import (
	"fmt"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

// EffectivePrices are the best executable prices for each action after
// accounting for the order-book mirror property: buying YES at P is the same
// trade as selling NO at 1-P, so both books contribute liquidity to every
// action. A zero value means neither book has liquidity for that action.
type EffectivePrices struct {
	BuyYes  float64
	BuyNo   float64
	SellYes float64
	SellNo  float64

	// Depth available at each effective price, taken from whichever book
	// level actually won the min/max.
	BuyYesSize  float64
	BuyNoSize   float64
	SellYesSize float64
	SellNoSize  float64
}

// Effective computes mirror-corrected effective prices from the raw top of
// both books:
//
//	buyYes  = min(askYes, 1-bidNo)    sellYes = max(bidYes, 1-askNo)
//	buyNo   = min(askNo,  1-bidYes)   sellNo  = max(bidNo,  1-askYes)
//
// A missing side (zero price) is excluded from its min/max so the calculation
// degrades gracefully to the single-book price. Prices outside [0,1] are
// rejected with domain.ErrInvalidInput.
func Effective(top domain.BookTop) (EffectivePrices, error) {
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"yes_bid", top.YesBid},
		{"yes_ask", top.YesAsk},
		{"no_bid", top.NoBid},
		{"no_ask", top.NoAsk},
	} {
		if p.value < 0 || p.value > 1 {
			return EffectivePrices{}, fmt.Errorf("arbitrage: %s=%v out of [0,1]: %w", p.name, p.value, domain.ErrInvalidInput)
		}
	}

	var e EffectivePrices
	e.BuyYes, e.BuyYesSize = minSide(top.YesAsk, top.YesAskSize, mirror(top.NoBid), top.NoBidSize)
	e.BuyNo, e.BuyNoSize = minSide(top.NoAsk, top.NoAskSize, mirror(top.YesBid), top.YesBidSize)
	e.SellYes, e.SellYesSize = maxSide(top.YesBid, top.YesBidSize, mirror(top.NoAsk), top.NoAskSize)
	e.SellNo, e.SellNoSize = maxSide(top.NoBid, top.NoBidSize, mirror(top.YesAsk), top.YesAskSize)
	return e, nil
}

// mirror maps a price through the complement identity, preserving zero as
// "absent" so a missing side never wins a min/max.
func mirror(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return 1 - price
}

func minSide(direct, directSize, mirrored, mirroredSize float64) (float64, float64) {
	if direct <= 0 {
		return mirrored, mirroredSize
	}
	if mirrored <= 0 || direct <= mirrored {
		return direct, directSize
	}
	return mirrored, mirroredSize
}

func maxSide(direct, directSize, mirrored, mirroredSize float64) (float64, float64) {
	if direct <= 0 {
		return mirrored, mirroredSize
	}
	if mirrored <= 0 || direct >= mirrored {
		return direct, directSize
	}
	return mirrored, mirroredSize
}
