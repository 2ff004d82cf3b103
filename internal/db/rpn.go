package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetMaxRPN reads the singleton running maximum, 0 before the first raise
func (s *Store) GetMaxRPN(ctx context.Context) (float64, error) {
	var v float64
	err := s.pool.QueryRow(ctx, `SELECT max_rpn FROM rpn_value WHERE id = 1`).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get max rpn: %w", err)
	}
	return v, nil
}

// RaiseMaxRPN stores max(current, v) in a single statement and returns the result
func (s *Store) RaiseMaxRPN(ctx context.Context, v float64) (float64, error) {
	var out float64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rpn_value (id, max_rpn, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE
		SET max_rpn = GREATEST(rpn_value.max_rpn, EXCLUDED.max_rpn), updated_at = NOW()
		RETURNING max_rpn
	`, v).Scan(&out)
	if err != nil {
		return 0, fmt.Errorf("failed to raise max rpn: %w", err)
	}
	return out, nil
}
