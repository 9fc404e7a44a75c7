package domain

import (
	"context"
	"time"
)

// OpportunityStore persists detected opportunities for later analysis.
// Write failures must never block the trading path.
type OpportunityStore interface {
	Create(ctx context.Context, opp Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
}

// ExecutionStore persists execution results.
type ExecutionStore interface {
	Create(ctx context.Context, res ExecutionResult) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]ExecutionResult, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
