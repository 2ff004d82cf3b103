package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/QTest-hq/riskplan/internal/scoring"
)

var scoreColumns = []string{
	"job_id", "testcase_id", "rpn", "risk", "failure_history", "change_impact",
	"defect", "execution_penalty", "total", "scored_at",
}

// SaveScores bulk-inserts one batch rescoring snapshot
func (s *Store) SaveScores(ctx context.Context, jobID uuid.UUID, results []scoring.Result) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"testcase_scores"}, scoreColumns,
		pgx.CopyFromSlice(len(results), func(i int) ([]any, error) {
			r := results[i]
			return []any{jobID, r.ID, r.RPN, r.Risk, r.FailureHistory, r.ChangeImpact,
				r.Defect, r.ExecutionPenalty, r.Total, now}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("failed to save scores: %w", err)
	}
	return n, nil
}
