package domain

import (
	"math/big"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill (immediate-or-cancel)
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// OrderRequest is what the execution path hands to the order client. Arbitrage
// legs use FAK so a partially available level fills immediately and the
// remainder is cancelled rather than resting on the book.
type OrderRequest struct {
	TokenID string
	Side    OrderSide
	Price   float64
	Size    float64
	Type    OrderType
}

// Order is a signed order as submitted to the exchange.
type Order struct {
	ID          string
	TokenID     string
	Wallet      string
	Side        OrderSide
	Type        OrderType
	Price       float64
	Size        float64
	MakerAmount *big.Int // integer notional used in the signed payload
	TakerAmount *big.Int // integer quantity used in the signed payload
	Signature   string   // EIP-712 hex
	CreatedAt   time.Time
}

// OrderResult wraps the exchange response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	Status      OrderStatus
	FilledSize  float64
	FilledPrice float64
	Message     string
}
