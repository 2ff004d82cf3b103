package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/QTest-hq/riskplan/internal/plan"
)

// Store provides database operations
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new store
func NewStore(db *DB) *Store {
	return &Store{pool: db.Pool()}
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const metricColumns = `
	t.id, t.name, COALESCE(m.name, ''), COALESCE(m.id, 0), t.priority, t.testcase_type,
	tm.likelihood, tm.impact, tm.failure, tm.total_runs, tm.failure_rate,
	tm.direct_impact, tm.defects, tm.severity, tm.feature_size, tm.execution_time`

func scanMetric(row pgx.Row) (plan.Metric, error) {
	var m plan.Metric
	err := row.Scan(&m.ID, &m.Name, &m.Module, &m.ModuleID, &m.Priority, &m.Type,
		&m.Likelihood, &m.Impact, &m.Failures, &m.TotalRuns, &m.FailureRate,
		&m.DirectImpact, &m.Defects, &m.Severity, &m.FeatureSize, &m.ExecutionTime)
	return m, err
}

// ResolveModules maps module names (case-insensitive) to stored modules
func (s *Store) ResolveModules(ctx context.Context, names []string) ([]plan.Module, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name FROM modules
		WHERE lower(name) = ANY($1)
		ORDER BY name
	`, lowerAll(names))
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
	if moduleIDs == nil {
		moduleIDs = []int64{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+metricColumns+`
		FROM testcases t
		LEFT JOIN modules m ON m.id = t.module_id
		JOIN testcase_metrics tm ON tm.testcase_id = t.id
		WHERE (cardinality($1::bigint[]) = 0 OR t.module_id = ANY($1))
		  AND (cardinality($2::text[]) = 0 OR t.priority = ANY($2))
		  AND ($3 = '' OR lower(t.testcase_type) = $3)
		ORDER BY t.id
	`, moduleIDs, normalizePriorities(priorities), strings.ToLower(strings.TrimSpace(testcaseType)))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}
	defer rows.Close()

	var metrics []plan.Metric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// MaxExecutionTime returns the largest recorded execution time, 0 when empty
func (s *Store) MaxExecutionTime(ctx context.Context) (float64, error) {
	var max float64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(execution_time), 0) FROM testcase_metrics`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to get max execution time: %w", err)
	}
	return max, nil
}

// GetTestCases returns full records for the given ids, in id order. Unknown
// ids are omitted.
func (s *Store) GetTestCases(ctx context.Context, ids []int64) ([]plan.TestCase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryTestCases(ctx, `
		SELECT t.id, t.name, COALESCE(m.name, ''), t.priority, t.testcase_type
		FROM testcases t
		LEFT JOIN modules m ON m.id = t.module_id
		WHERE t.id = ANY($1)
		ORDER BY t.id
	`, ids)
}

// FilterTestCases returns test cases matching every non-empty filter key.
// Values within one key are alternatives.
func (s *Store) FilterTestCases(ctx context.Context, filters plan.Filters) ([]plan.TestCase, error) {
	return s.queryTestCases(ctx, `
		SELECT t.id, t.name, COALESCE(m.name, ''), t.priority, t.testcase_type
		FROM testcases t
		LEFT JOIN modules m ON m.id = t.module_id
		WHERE (cardinality($1::text[]) = 0 OR lower(m.name) = ANY($1))
		  AND (cardinality($2::text[]) = 0 OR lower(t.testcase_type) = ANY($2))
		  AND (cardinality($3::text[]) = 0 OR t.priority = ANY($3))
		ORDER BY t.id
	`, lowerAll(filters[plan.FilterModule]),
		lowerAll(filters[plan.FilterTestcaseType]),
		normalizePriorities(filters[plan.FilterPriority]))
}

func (s *Store) queryTestCases(ctx context.Context, query string, args ...any) ([]plan.TestCase, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, m := range metrics {
			var moduleID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO modules (name) VALUES ($1)
				ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
				RETURNING id
			`, m.Module).Scan(&moduleID)
			if err != nil {
				return fmt.Errorf("failed to upsert module %q: %w", m.Module, err)
			}

			var testcaseID int64
			err = tx.QueryRow(ctx, `
				INSERT INTO testcases (module_id, name, priority, testcase_type)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (name) DO UPDATE
				SET module_id = EXCLUDED.module_id, priority = EXCLUDED.priority, testcase_type = EXCLUDED.testcase_type
				RETURNING id
			`, moduleID, m.Name, plan.NormalizePriority(m.Priority), testcaseType(m.Type)).Scan(&testcaseID)
			if err != nil {
				return fmt.Errorf("failed to upsert test case %q: %w", m.Name, err)
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO testcase_metrics (testcase_id, likelihood, impact, failure, total_runs, failure_rate,
					direct_impact, defects, severity, feature_size, execution_time, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
				ON CONFLICT (testcase_id) DO UPDATE SET
					likelihood = EXCLUDED.likelihood, impact = EXCLUDED.impact,
					failure = EXCLUDED.failure, total_runs = EXCLUDED.total_runs,
					failure_rate = EXCLUDED.failure_rate, direct_impact = EXCLUDED.direct_impact,
					defects = EXCLUDED.defects, severity = EXCLUDED.severity,
					feature_size = EXCLUDED.feature_size, execution_time = EXCLUDED.execution_time,
					updated_at = NOW()
			`, testcaseID, m.Likelihood, m.Impact, m.Failures, m.TotalRuns, m.FailureRate,
				m.DirectImpact, m.Defects, m.Severity, m.FeatureSize, m.ExecutionTime)
			if err != nil {
				return fmt.Errorf("failed to upsert metrics for %q: %w", m.Name, err)
			}
		}
		return nil
	})
}

func testcaseType(t string) string {
	if t = strings.ToLower(strings.TrimSpace(t)); t == "" {
		return plan.DefaultTestcaseType
	}
	return t
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalizePriorities(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if p := plan.NormalizePriority(v); p != "" {
			out = append(out, p)
		}
	}
	return out
}
