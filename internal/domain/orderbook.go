package domain

import (
	"sort"
	"time"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a normalized snapshot of one token's book. Bids are strictly
// descending by price (best first) and asks strictly ascending; Normalize
// enforces this regardless of the raw feed's native ordering.
type OrderBook struct {
	TokenID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// Normalize sorts bids descending and asks ascending by price, in place.
// Raw CLOB payloads deliver levels sorted away from the touch, so every
// snapshot must pass through here before any best-price math.
func (b *OrderBook) Normalize() {
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}

// BestBid returns the highest bid level, or a zero level when the side is empty.
func (b OrderBook) BestBid() PriceLevel {
	if len(b.Bids) == 0 {
		return PriceLevel{}
	}
	return b.Bids[0]
}

// BestAsk returns the lowest ask level, or a zero level when the side is empty.
func (b OrderBook) BestAsk() PriceLevel {
	if len(b.Asks) == 0 {
		return PriceLevel{}
	}
	return b.Asks[0]
}

// BookTop carries the top of both complementary books for one market.
// A zero price means that side has no liquidity.
type BookTop struct {
	YesBid     float64
	YesBidSize float64
	YesAsk     float64
	YesAskSize float64
	NoBid      float64
	NoBidSize  float64
	NoAsk      float64
	NoAskSize  float64
	Timestamp  time.Time
}

// TopOf combines the best levels of a YES book and a NO book.
func TopOf(yes, no OrderBook) BookTop {
	ts := yes.Timestamp
	if no.Timestamp.After(ts) {
		ts = no.Timestamp
	}
	yb, ya := yes.BestBid(), yes.BestAsk()
	nb, na := no.BestBid(), no.BestAsk()
	return BookTop{
		YesBid: yb.Price, YesBidSize: yb.Size,
		YesAsk: ya.Price, YesAskSize: ya.Size,
		NoBid: nb.Price, NoBidSize: nb.Size,
		NoAsk: na.Price, NoAskSize: na.Size,
		Timestamp: ts,
	}
}

// BookUpdate is one event from the book-delta stream: the refreshed book for
// a single token, already normalized by the feed layer.
type BookUpdate struct {
	TokenID string
	Book    OrderBook
}
