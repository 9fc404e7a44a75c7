package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionCols = `id, market_id, opportunity_id, kind, success, profit,
	filled_yes_size, filled_no_size, correction_applied, error, executed_at`

// Create stores one execution result.
func (s *ExecutionStore) Create(ctx context.Context, res domain.ExecutionResult) error {
	const query = `
		INSERT INTO executions (
			id, market_id, opportunity_id, kind, success, profit,
			filled_yes_size, filled_no_size, correction_applied, error, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		res.ID, res.MarketID, res.OpportunityID, string(res.Kind), res.Success, res.Profit,
		res.FilledYesSize, res.FilledNoSize, res.CorrectionApplied, res.Error, res.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", res.ID, err)
	}
	return nil
}

// ListBefore returns executions older than cutoff, oldest first. The archiver
// uses it to page through history before deletion.
func (s *ExecutionStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ExecutionResult, error) {
	query := `SELECT ` + executionCols + ` FROM executions WHERE executed_at < $1 ORDER BY executed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var results []domain.ExecutionResult
	for rows.Next() {
		var res domain.ExecutionResult
		var kind string
		if err := rows.Scan(
			&res.ID, &res.MarketID, &res.OpportunityID, &kind, &res.Success, &res.Profit,
			&res.FilledYesSize, &res.FilledNoSize, &res.CorrectionApplied, &res.Error, &res.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		res.Kind = domain.OpportunityKind(kind)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return results, nil
}

// DeleteBefore removes executions older than cutoff and reports how many rows
// were deleted.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE executed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
