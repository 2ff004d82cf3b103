package localstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/QTest-hq/riskplan/internal/scoring"
)

// SaveScores inserts one batch rescoring snapshot in a transaction
func (s *Store) SaveScores(ctx context.Context, jobID uuid.UUID, results []scoring.Result) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO testcase_scores (job_id, testcase_id, rpn, risk, failure_history, change_impact,
			defect, execution_penalty, total, scored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare score insert: %w", err)
	}
	defer stmt.Close()

	now := s.timestamp()
	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, jobID.String(), r.ID, r.RPN, r.Risk, r.FailureHistory,
			r.ChangeImpact, r.Defect, r.ExecutionPenalty, r.Total, now); err != nil {
			return 0, fmt.Errorf("failed to save score for %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit scores: %w", err)
	}
	return int64(len(results)), nil
}

// CountScores returns how many score rows a job produced
func (s *Store) CountScores(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM testcase_scores WHERE job_id = ?
	`, jobID.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count scores: %w", err)
	}
	return n, nil
}
