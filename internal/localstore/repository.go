package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/QTest-hq/riskplan/internal/plan"
)

const metricSelect = `
	SELECT t.id, t.name, COALESCE(m.name, ''), COALESCE(m.id, 0), t.priority, t.testcase_type,
		tm.likelihood, tm.impact, tm.failure, tm.total_runs, tm.failure_rate,
		tm.direct_impact, tm.defects, tm.severity, tm.feature_size, tm.execution_time
	FROM testcases t
	LEFT JOIN modules m ON m.id = t.module_id
	JOIN testcase_metrics tm ON tm.testcase_id = t.id`

const testcaseSelect = `
	SELECT t.id, t.name, COALESCE(m.name, ''), t.priority, t.testcase_type
	FROM testcases t
	LEFT JOIN modules m ON m.id = t.module_id`

// query accumulates WHERE clauses with positional arguments
type query struct {
	clauses []string
	args    []any
}

func (q *query) in(column string, values []any) {
	if len(values) == 0 {
		return
	}
	q.clauses = append(q.clauses, column+" IN ("+placeholders(len(values))+")")
	q.args = append(q.args, values...)
}

func (q *query) eq(column string, value any) {
	q.clauses = append(q.clauses, column+" = ?")
	q.args = append(q.args, value)
}

func (q *query) where() string {
	if len(q.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.clauses, " AND ")
}

// ResolveModules maps module names (case-insensitive) to stored modules
func (s *Store) ResolveModules(ctx context.Context, names []string) ([]plan.Module, error) {
	lowered := lowerAll(names)
	if len(lowered) == 0 {
		return nil, nil
	}
	q := &query{}
	q.in("lower(name)", lowered)

	rows, err := s.conn.QueryContext(ctx, "SELECT id, name FROM modules"+q.where()+" ORDER BY name", q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve modules: %w", err)
	}
	defer rows.Close()

	var modules []plan.Module
	for rows.Next() {
		var m plan.Module
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// FetchCandidates returns metric records filtered by module ids, priorities and
// test type. Empty filters match everything.
func (s *Store) FetchCandidates(ctx context.Context, moduleIDs []int64, priorities []string, testcaseType string) ([]plan.Metric, error) {
	q := &query{}
	ids := make([]any, 0, len(moduleIDs))
	for _, id := range moduleIDs {
		ids = append(ids, id)
	}
	q.in("t.module_id", ids)
	q.in("t.priority", normalizePriorities(priorities))
	if t := strings.ToLower(strings.TrimSpace(testcaseType)); t != "" {
		q.eq("lower(t.testcase_type)", t)
	}

	rows, err := s.conn.QueryContext(ctx, metricSelect+q.where()+" ORDER BY t.id", q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}
	defer rows.Close()

	var metrics []plan.Metric
	for rows.Next() {
		var m plan.Metric
		if err := rows.Scan(&m.ID, &m.Name, &m.Module, &m.ModuleID, &m.Priority, &m.Type,
			&m.Likelihood, &m.Impact, &m.Failures, &m.TotalRuns, &m.FailureRate,
			&m.DirectImpact, &m.Defects, &m.Severity, &m.FeatureSize, &m.ExecutionTime); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// MaxExecutionTime returns the largest recorded execution time, 0 when empty
func (s *Store) MaxExecutionTime(ctx context.Context) (float64, error) {
	var max sql.NullFloat64
	if err := s.conn.QueryRowContext(ctx, `SELECT MAX(execution_time) FROM testcase_metrics`).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to get max execution time: %w", err)
	}
	return max.Float64, nil
}

// GetTestCases returns full records for the given ids, in id order. Unknown
// ids are omitted.
func (s *Store) GetTestCases(ctx context.Context, ids []int64) ([]plan.TestCase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	q := &query{}
	q.in("t.id", args)
	return s.queryTestCases(ctx, testcaseSelect+q.where()+" ORDER BY t.id", q.args...)
}

// FilterTestCases returns test cases matching every non-empty filter key.
// Values within one key are alternatives.
func (s *Store) FilterTestCases(ctx context.Context, filters plan.Filters) ([]plan.TestCase, error) {
	q := &query{}
	q.in("lower(m.name)", lowerAll(filters[plan.FilterModule]))
	q.in("lower(t.testcase_type)", lowerAll(filters[plan.FilterTestcaseType]))
	q.in("t.priority", normalizePriorities(filters[plan.FilterPriority]))
	return s.queryTestCases(ctx, testcaseSelect+q.where()+" ORDER BY t.id", q.args...)
}

func (s *Store) queryTestCases(ctx context.Context, stmt string, args ...any) ([]plan.TestCase, error) {
	rows, err := s.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query test cases: %w", err)
	}
	defer rows.Close()

	var tcs []plan.TestCase
	for rows.Next() {
		var tc plan.TestCase
		if err := rows.Scan(&tc.ID, &tc.Name, &tc.Module, &tc.Priority, &tc.Type); err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}
		tcs = append(tcs, tc)
	}
	return tcs, rows.Err()
}

// ImportMetrics upserts modules, test cases and their metrics by name
func (s *Store) ImportMetrics(ctx context.Context, metrics []plan.Metric) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	for _, m := range metrics {
		var moduleID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO modules (name, created_at) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET name = excluded.name
			RETURNING id
		`, m.Module, now).Scan(&moduleID)
		if err != nil {
			return fmt.Errorf("failed to upsert module %q: %w", m.Module, err)
		}

		var testcaseID int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO testcases (module_id, name, priority, testcase_type, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE
			SET module_id = excluded.module_id, priority = excluded.priority, testcase_type = excluded.testcase_type
			RETURNING id
		`, moduleID, m.Name, plan.NormalizePriority(m.Priority), testcaseType(m.Type), now).Scan(&testcaseID)
		if err != nil {
			return fmt.Errorf("failed to upsert test case %q: %w", m.Name, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO testcase_metrics (testcase_id, likelihood, impact, failure, total_runs, failure_rate,
				direct_impact, defects, severity, feature_size, execution_time, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (testcase_id) DO UPDATE SET
				likelihood = excluded.likelihood, impact = excluded.impact,
				failure = excluded.failure, total_runs = excluded.total_runs,
				failure_rate = excluded.failure_rate, direct_impact = excluded.direct_impact,
				defects = excluded.defects, severity = excluded.severity,
				feature_size = excluded.feature_size, execution_time = excluded.execution_time,
				updated_at = excluded.updated_at
		`, testcaseID, m.Likelihood, m.Impact, m.Failures, m.TotalRuns, m.FailureRate,
			m.DirectImpact, m.Defects, m.Severity, m.FeatureSize, m.ExecutionTime, now)
		if err != nil {
			return fmt.Errorf("failed to upsert metrics for %q: %w", m.Name, err)
		}
	}

	return tx.Commit()
}

func testcaseType(t string) string {
	if t = strings.ToLower(strings.TrimSpace(t)); t == "" {
		return plan.DefaultTestcaseType
	}
	return t
}

func lowerAll(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalizePriorities(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if p := plan.NormalizePriority(v); p != "" {
			out = append(out, p)
		}
	}
	return out
}
