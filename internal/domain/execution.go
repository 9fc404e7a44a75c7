package domain

import (
	"sync"
	"time"
)

// ExecutionResult reports one two-leg execution attempt. It is produced per
// attempt, emitted as an event, and aggregated into RunStats by the
// orchestrator; the engine itself keeps no history.
type ExecutionResult struct {
	ID                string
	MarketID          string
	OpportunityID     string
	Kind              OpportunityKind
	Success           bool
	Profit            float64 // realized, in collateral units
	FilledYesSize     float64
	FilledNoSize      float64
	CorrectionApplied bool
	Error             string
	ExecutedAt        time.Time
}

// MatchedSize is the portion covered on both legs.
func (r ExecutionResult) MatchedSize() float64 {
	if r.FilledYesSize < r.FilledNoSize {
		return r.FilledYesSize
	}
	return r.FilledNoSize
}

// RunStats is process-lifetime state owned by a single orchestrator instance.
// It is guarded internally so read-only snapshots can be taken from other
// goroutines, but only the orchestrator mutates it.
type RunStats struct {
	mu sync.Mutex

	OpportunitiesSeen   int64
	ExecutionsAttempted int64
	ExecutionsSucceeded int64
	CumulativeProfit    float64
	LastOpportunityAt   time.Time
	LastExecutionAt     time.Time
	StartedAt           time.Time
}

// RecordOpportunity bumps the opportunity counters.
func (s *RunStats) RecordOpportunity(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpportunitiesSeen++
	s.LastOpportunityAt = at
}

// RecordExecution folds one execution result into the running totals.
func (s *RunStats) RecordExecution(res ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExecutionsAttempted++
	if res.Success {
		s.ExecutionsSucceeded++
		s.CumulativeProfit += res.Profit
	}
	s.LastExecutionAt = res.ExecutedAt
}

// Snapshot returns a copy safe to read without holding the lock.
func (s *RunStats) Snapshot() RunStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RunStatsSnapshot{
		OpportunitiesSeen:   s.OpportunitiesSeen,
		ExecutionsAttempted: s.ExecutionsAttempted,
		ExecutionsSucceeded: s.ExecutionsSucceeded,
		CumulativeProfit:    s.CumulativeProfit,
		LastOpportunityAt:   s.LastOpportunityAt,
		LastExecutionAt:     s.LastExecutionAt,
		StartedAt:           s.StartedAt,
	}
}

// Reset clears all counters. Called only on explicit restart.
func (s *RunStats) Reset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpportunitiesSeen = 0
	s.ExecutionsAttempted = 0
	s.ExecutionsSucceeded = 0
	s.CumulativeProfit = 0
	s.LastOpportunityAt = time.Time{}
	s.LastExecutionAt = time.Time{}
	s.StartedAt = now
}

// RunStatsSnapshot is an immutable copy of RunStats.
type RunStatsSnapshot struct {
	OpportunitiesSeen   int64
	ExecutionsAttempted int64
	ExecutionsSucceeded int64
	CumulativeProfit    float64
	LastOpportunityAt   time.Time
	LastExecutionAt     time.Time
	StartedAt           time.Time
}
