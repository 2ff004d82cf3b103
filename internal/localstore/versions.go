package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/QTest-hq/riskplan/internal/plan"
)

// CommitVersion counts, demotes and inserts in one transaction
func (s *Store) CommitVersion(ctx context.Context, nv plan.NewVersion) (*plan.Version, error) {
	modules := nv.Modules
	if modules == nil {
		modules = []string{}
	}
	modulesJSON, err := json.Marshal(modules)
	if err != nil {
		return nil, fmt.Errorf("failed to encode modules: %w", err)
	}

	createdAt := s.timestamp()
	v := &plan.Version{
		ID:          uuid.New(),
		SessionID:   nv.SessionID,
		Name:        nv.Name,
		Description: nv.Description,
		Context:     nv.Context,
		Modules:     modules,
		Requested:   nv.Requested,
		Actual:      nv.Actual,
		Snapshot:    append(json.RawMessage(nil), nv.Snapshot...),
		Status:      plan.StatusSaved,
		CreatedAt:   parseTime(createdAt),
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM testplan_versions WHERE session_id = ?
	`, nv.SessionID).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count versions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE testplan_versions SET status = 'draft'
		WHERE session_id = ? AND status = 'saved'
	`, nv.SessionID); err != nil {
		return nil, fmt.Errorf("failed to demote current version: %w", err)
	}

	v.Number = count + 1
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO testplan_versions (id, session_id, version_number, name, description, context,
			modules, output_counts, testcase_count, testcase_data, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID.String(), v.SessionID, v.Number, v.Name, v.Description, v.Context,
		string(modulesJSON), v.Requested, v.Actual, string(v.Snapshot), string(v.Status), createdAt); err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit version: %w", err)
	}
	return v, nil
}

// CountVersions returns the number of revisions of a session
func (s *Store) CountVersions(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM testplan_versions WHERE session_id = ?
	`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return n, nil
}

// ListVersions returns revision metadata, oldest first
func (s *Store) ListVersions(ctx context.Context, sessionID string) ([]plan.VersionMeta, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, version_number, name, status, testcase_count, created_at
		FROM testplan_versions WHERE session_id = ?
		ORDER BY version_number
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	metas := []plan.VersionMeta{}
	for rows.Next() {
		var m plan.VersionMeta
		var id, status, createdAt string
		if err := rows.Scan(&id, &m.Number, &m.Name, &status, &m.Actual, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		m.ID, _ = uuid.Parse(id)
		m.Status = plan.VersionStatus(status)
		m.CreatedAt = parseTime(createdAt)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// GetVersion returns one revision or nil when it does not exist
func (s *Store) GetVersion(ctx context.Context, sessionID string, number int) (*plan.Version, error) {
	v := &plan.Version{}
	var id, modules, snapshot, status, createdAt string
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, session_id, version_number, name, description, context, modules,
			output_counts, testcase_count, testcase_data, status, created_at
		FROM testplan_versions WHERE session_id = ? AND version_number = ?
	`, sessionID, number).Scan(&id, &v.SessionID, &v.Number, &v.Name, &v.Description, &v.Context,
		&modules, &v.Requested, &v.Actual, &snapshot, &status, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	v.ID, _ = uuid.Parse(id)
	if err := json.Unmarshal([]byte(modules), &v.Modules); err != nil {
		return nil, fmt.Errorf("failed to decode modules: %w", err)
	}
	v.Snapshot = json.RawMessage(snapshot)
	v.Status = plan.VersionStatus(status)
	v.CreatedAt = parseTime(createdAt)
	return v, nil
}
