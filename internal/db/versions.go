package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/QTest-hq/riskplan/internal/plan"
)

// CommitVersion counts, demotes and inserts in one transaction. A per-session
// advisory lock serializes concurrent commits on the same session.
func (s *Store) CommitVersion(ctx context.Context, nv plan.NewVersion) (*plan.Version, error) {
	v := &plan.Version{
		ID:          uuid.New(),
		SessionID:   nv.SessionID,
		Name:        nv.Name,
		Description: nv.Description,
		Context:     nv.Context,
		Modules:     nv.Modules,
		Requested:   nv.Requested,
		Actual:      nv.Actual,
		Snapshot:    nv.Snapshot,
		Status:      plan.StatusSaved,
		CreatedAt:   time.Now().UTC(),
	}
	if v.Modules == nil {
		v.Modules = []string{}
	}

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, nv.SessionID); err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}

		var count int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM testplan_versions WHERE session_id = $1
		`, nv.SessionID).Scan(&count); err != nil {
			return fmt.Errorf("failed to count versions: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE testplan_versions SET status = 'draft'
			WHERE session_id = $1 AND status = 'saved'
		`, nv.SessionID); err != nil {
			return fmt.Errorf("failed to demote current version: %w", err)
		}

		v.Number = count + 1
		_, err := tx.Exec(ctx, `
			INSERT INTO testplan_versions (id, session_id, version_number, name, description, context,
				modules, output_counts, testcase_count, testcase_data, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, v.ID, v.SessionID, v.Number, v.Name, v.Description, v.Context,
			v.Modules, v.Requested, v.Actual, v.Snapshot, string(v.Status), v.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CountVersions returns the number of revisions of a session
func (s *Store) CountVersions(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM testplan_versions WHERE session_id = $1
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return n, nil
}

// ListVersions returns revision metadata, oldest first
func (s *Store) ListVersions(ctx context.Context, sessionID string) ([]plan.VersionMeta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, version_number, name, status, testcase_count, created_at
		FROM testplan_versions WHERE session_id = $1
		ORDER BY version_number
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	metas := []plan.VersionMeta{}
	for rows.Next() {
		var m plan.VersionMeta
		var status string
		if err := rows.Scan(&m.ID, &m.Number, &m.Name, &status, &m.Actual, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		m.Status = plan.VersionStatus(status)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// GetVersion returns one revision or nil when it does not exist
func (s *Store) GetVersion(ctx context.Context, sessionID string, number int) (*plan.Version, error) {
	v := &plan.Version{}
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_id, version_number, name, description, context, modules,
			output_counts, testcase_count, testcase_data, status, created_at
		FROM testplan_versions WHERE session_id = $1 AND version_number = $2
	`, sessionID, number).Scan(&v.ID, &v.SessionID, &v.Number, &v.Name, &v.Description, &v.Context,
		&v.Modules, &v.Requested, &v.Actual, &v.Snapshot, &status, &v.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	v.Status = plan.VersionStatus(status)
	return v, nil
}
