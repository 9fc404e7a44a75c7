package domain

import "time"

// Market is a binary prediction market with complementary YES/NO tokens.
type Market struct {
	ID          string
	Slug        string
	Question    string
	ConditionID string
	YesTokenID  string
	NoTokenID   string
	Volume24h   float64
	Active      bool
	Closed      bool
	Resolved    bool
	YesWon      bool // meaningful only when Resolved
	EndDate     time.Time
}

// MarketFilter narrows the universe the scanner pulls from the metadata source.
type MarketFilter struct {
	MinVolume24h float64
	ActiveOnly   bool
	Limit        int
}
