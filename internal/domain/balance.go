package domain

// PositionSnapshot is the wallet's current holdings for one market, read fresh
// from the chain before every rebalance or clearing decision. Never cache one
// across decisions; the ratio math assumes it is current.
type PositionSnapshot struct {
	USDC      float64
	YesTokens float64
	NoTokens  float64
}

// MatchedPairs is the YES/NO quantity coverable on both sides. Each matched
// pair merges back to exactly 1 USDC of collateral.
func (p PositionSnapshot) MatchedPairs() float64 {
	if p.YesTokens < p.NoTokens {
		return p.YesTokens
	}
	return p.NoTokens
}

// TokenValue estimates the collateral value of token inventory: matched pairs
// at 1.0 (mergeable), the unmatched remainder at 0.5 (uncertain outcome).
func (p PositionSnapshot) TokenValue() float64 {
	matched := p.MatchedPairs()
	unmatched := p.YesTokens + p.NoTokens - 2*matched
	return matched + 0.5*unmatched
}

// USDCRatio is the share of total capital held as stable currency.
// Returns 1 when the wallet is empty so an empty wallet never triggers a merge.
func (p PositionSnapshot) USDCRatio() float64 {
	total := p.USDC + p.TokenValue()
	if total <= 0 {
		return 1
	}
	return p.USDC / total
}
