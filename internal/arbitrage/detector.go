package arbitrage

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

const (
	// DefaultProfitThreshold is the minimum edge (fraction of notional)
	// worth acting on after fees and latency.
	DefaultProfitThreshold = 0.005

	// DefaultSafetyFactor caps each leg below the visible depth to absorb
	// the risk that a level partially fills before the second leg lands.
	DefaultSafetyFactor = 0.8
)

// DetectorConfig configures the detector. Zero values fall back to defaults;
// a negative threshold is rejected at construction.
type DetectorConfig struct {
	ProfitThreshold float64
	SafetyFactor    float64
	MinTradeSize    float64
	MaxTradeSize    float64
}

// Detector turns effective prices into a classified opportunity. It is pure
// and safe for concurrent use.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector validates the configuration and returns a Detector.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.ProfitThreshold < 0 {
		return nil, fmt.Errorf("arbitrage: negative profit threshold %v: %w", cfg.ProfitThreshold, domain.ErrInvalidInput)
	}
	if cfg.ProfitThreshold == 0 {
		cfg.ProfitThreshold = DefaultProfitThreshold
	}
	if cfg.SafetyFactor <= 0 || cfg.SafetyFactor > 1 {
		cfg.SafetyFactor = DefaultSafetyFactor
	}
	return &Detector{cfg: cfg}, nil
}

// Threshold returns the configured minimum profit fraction.
func (d *Detector) Threshold() float64 { return d.cfg.ProfitThreshold }

// Detect classifies the top of both books for marketID. Long is checked before
// short; a book that satisfies both reports long (documented tie-break).
//
// The long branch additionally requires the direct ask pair to be purchasable
// below 1. A bid-side edge always leaks into the mirror-corrected buy prices
// (selling a token at its bid is buying the complement at 1-bid), but that
// trade is only executable as split-then-sell, which is exactly the short
// path, so it must classify as short.
func (d *Detector) Detect(marketID string, top domain.BookTop) (domain.Opportunity, error) {
	eff, err := Effective(top)
	if err != nil {
		return domain.Opportunity{}, err
	}

	opp := domain.Opportunity{
		ID:         uuid.New().String(),
		MarketID:   marketID,
		Kind:       domain.OpportunityNone,
		DetectedAt: detectedAt(top),
	}
	if eff.BuyYes > 0 && eff.BuyNo > 0 {
		opp.LongCost = eff.BuyYes + eff.BuyNo
	}
	if eff.SellYes > 0 && eff.SellNo > 0 {
		opp.ShortProceeds = eff.SellYes + eff.SellNo
	}

	if opp.LongCost > 0 && top.YesAsk > 0 && top.NoAsk > 0 && top.YesAsk+top.NoAsk < 1 {
		if profit := 1 - opp.LongCost; profit >= d.cfg.ProfitThreshold {
			opp.Kind = domain.OpportunityLong
			opp.Profit = profit
			opp.YesPrice = eff.BuyYes
			opp.NoPrice = eff.BuyNo
			opp.Size = d.sizeFor(eff.BuyYesSize, eff.BuyNoSize)
			return opp, nil
		}
	}
	if opp.ShortProceeds > 0 {
		if profit := opp.ShortProceeds - 1; profit >= d.cfg.ProfitThreshold {
			opp.Kind = domain.OpportunityShort
			opp.Profit = profit
			opp.YesPrice = eff.SellYes
			opp.NoPrice = eff.SellNo
			opp.Size = d.sizeFor(eff.SellYesSize, eff.SellNoSize)
			return opp, nil
		}
	}
	return opp, nil
}

// sizeFor is the minimum executable depth across the two legs of the winning
// branch, scaled by the safety factor and clamped to the configured bounds.
func (d *Detector) sizeFor(yesDepth, noDepth float64) float64 {
	depth := yesDepth
	if noDepth < depth {
		depth = noDepth
	}
	size := depth * d.cfg.SafetyFactor
	if d.cfg.MaxTradeSize > 0 && size > d.cfg.MaxTradeSize {
		size = d.cfg.MaxTradeSize
	}
	if d.cfg.MinTradeSize > 0 && size < d.cfg.MinTradeSize {
		return 0
	}
	return size
}

func detectedAt(top domain.BookTop) time.Time {
	if !top.Timestamp.IsZero() {
		return top.Timestamp
	}
	return time.Now().UTC()
}
