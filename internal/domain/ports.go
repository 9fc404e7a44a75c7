package domain

import "context"

// MarketSource lists candidate markets from the exchange metadata API.
type MarketSource interface {
	ListMarkets(ctx context.Context, filter MarketFilter) ([]Market, error)
	GetMarket(ctx context.Context, id string) (Market, error)
}

// BookSource fetches normalized orderbook snapshots.
type BookSource interface {
	GetBook(ctx context.Context, tokenID string) (OrderBook, error)
}

// BookStream delivers a strictly ordered stream of normalized book updates for
// the subscribed tokens. The returned channel is closed when ctx is cancelled
// or the stream terminates.
type BookStream interface {
	Subscribe(ctx context.Context, tokenIDs []string) (<-chan BookUpdate, error)
}

// OrderClient submits orders to the exchange.
type OrderClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// ChainClient wraps the conditional-token contract calls. All methods return
// the amount of collateral or tokens actually moved.
type ChainClient interface {
	// Split converts amount USDC into amount YES + amount NO tokens.
	Split(ctx context.Context, conditionID string, amount float64) (float64, error)
	// Merge converts amount matched YES/NO pairs back into amount USDC.
	Merge(ctx context.Context, conditionID string, amount float64) (float64, error)
	// Redeem converts winning tokens of a resolved market into USDC.
	Redeem(ctx context.Context, conditionID string) (float64, error)
	// Balances reads the wallet's USDC and YES/NO token holdings for a market.
	Balances(ctx context.Context, m Market) (PositionSnapshot, error)
}
