package domain

import "time"

// OpportunityKind classifies a detected arbitrage.
type OpportunityKind string

const (
	// OpportunityLong means buying YES and NO together costs less than 1;
	// the pair merges back to 1 unit of collateral for a riskless profit.
	OpportunityLong OpportunityKind = "long"
	// OpportunityShort means selling YES and NO together brings in more than 1;
	// it requires split inventory on both legs.
	OpportunityShort OpportunityKind = "short"
	// OpportunityNone means no edge above the threshold.
	OpportunityNone OpportunityKind = "none"
)

// Opportunity is one detection result. It is immutable and never persisted by
// the detector itself; the orchestrator records the ones it acts on.
type Opportunity struct {
	ID            string
	MarketID      string
	Kind          OpportunityKind
	Profit        float64 // fraction of notional, e.g. 0.05 = 5%
	Size          float64 // tradable size after depth and safety factor
	YesPrice      float64 // leg price on the YES book
	NoPrice       float64 // leg price on the NO book
	LongCost      float64
	ShortProceeds float64
	DetectedAt    time.Time
}

// IsActionable reports whether the opportunity has a tradable classification.
func (o Opportunity) IsActionable() bool {
	return o.Kind == OpportunityLong || o.Kind == OpportunityShort
}
