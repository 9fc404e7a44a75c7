package domain

import "time"

// RebalanceAction is what the rebalancer did on one tick.
type RebalanceAction string

const (
	RebalanceSplit   RebalanceAction = "split"
	RebalanceMerge   RebalanceAction = "merge"
	RebalanceCorrect RebalanceAction = "correct" // one-sided inventory sell
)

// RebalanceEvent reports one rebalancer action.
type RebalanceEvent struct {
	Action      RebalanceAction
	Amount      float64
	RatioBefore float64
	At          time.Time
}

// EventListener receives core events. Implementations must not block for long;
// the orchestrator invokes them synchronously from its own serialization point.
type EventListener interface {
	OnOpportunity(opp Opportunity)
	OnExecution(res ExecutionResult)
	OnRebalance(ev RebalanceEvent)
}
