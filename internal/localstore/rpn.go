package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetMaxRPN reads the singleton running maximum, 0 before the first raise
func (s *Store) GetMaxRPN(ctx context.Context) (float64, error) {
	var v float64
	err := s.conn.QueryRowContext(ctx, `SELECT max_rpn FROM rpn_value WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
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
	err := s.conn.QueryRowContext(ctx, `
		INSERT INTO rpn_value (id, max_rpn, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET max_rpn = MAX(rpn_value.max_rpn, excluded.max_rpn), updated_at = excluded.updated_at
		RETURNING max_rpn
	`, v, s.timestamp()).Scan(&out)
	if err != nil {
		return 0, fmt.Errorf("failed to raise max rpn: %w", err)
	}
	return out, nil
}
