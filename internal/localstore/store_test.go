package localstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/scoring"
	"github.com/QTest-hq/riskplan/internal/testutil"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seeded(t *testing.T) *Store {
	t.Helper()
	s := newStore(t)
	require.NoError(t, s.ImportMetrics(context.Background(), testutil.SampleMetrics()))
	return s
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "riskplan.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.HealthCheck(context.Background()))
	assert.Equal(t, path, s.Path())
	require.NoError(t, s.ImportMetrics(context.Background(), testutil.SampleMetrics()[:1]))
	require.NoError(t, s.Close())

	// schema application is idempotent and data survives reopen
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.FetchCandidates(context.Background(), nil, nil, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResolveModules(t *testing.T) {
	s := seeded(t)

	tests := []struct {
		name  string
		names []string
		want  []string
	}{
		{"case_insensitive", []string{"login", "PAYMENTS"}, []string{"Login", "Payments"}},
		{"unknown_dropped", []string{"Login", "Reports"}, []string{"Login"}},
		{"none", []string{"Reports"}, nil},
		{"empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modules, err := s.ResolveModules(context.Background(), tt.names)
			require.NoError(t, err)
			var got []string
			for _, m := range modules {
				got = append(got, m.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchCandidates(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	modules, err := s.ResolveModules(ctx, []string{"Login"})
	require.NoError(t, err)
	require.Len(t, modules, 1)
	loginID := modules[0].ID

	tests := []struct {
		name       string
		moduleIDs  []int64
		priorities []string
		typ        string
		want       []string
	}{
		{"class_1_functional", []int64{loginID}, []string{"Class 1"}, "functional",
			[]string{"login with valid credentials", "password reset email"}},
		{"type_filter", []int64{loginID}, nil, "Performance", []string{"login page load time"}},
		{"all_priorities", []int64{loginID}, []string{"class_1", "class_2", "class_3"}, "",
			[]string{"login with valid credentials", "login lockout after retries", "password reset email", "login page load time"}},
		{"no_match", []int64{loginID}, []string{"class_3"}, "functional", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics, err := s.FetchCandidates(ctx, tt.moduleIDs, tt.priorities, tt.typ)
			require.NoError(t, err)
			var got []string
			for _, m := range metrics {
				got = append(got, m.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchCandidates_MetricValues(t *testing.T) {
	s := seeded(t)

	all, err := s.FetchCandidates(context.Background(), nil, nil, "")
	require.NoError(t, err)
	require.Len(t, all, len(testutil.SampleMetrics()))

	want := testutil.SampleMetrics()[0]
	got := all[0]
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, "Login", got.Module)
	assert.Equal(t, want.Likelihood, got.Likelihood)
	assert.Equal(t, want.Impact, got.Impact)
	assert.Equal(t, want.FailureRate, got.FailureRate)
	assert.Equal(t, want.DirectImpact, got.DirectImpact)
	assert.Equal(t, want.ExecutionTime, got.ExecutionTime)
	assert.False(t, all[1].DirectImpact)

	max, err := s.MaxExecutionTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8.0, max)
}

func TestMaxExecutionTime_Empty(t *testing.T) {
	max, err := newStore(t).MaxExecutionTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, max)
}

func TestGetTestCases(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	tcs, err := s.GetTestCases(ctx, []int64{5, 1, 999})
	require.NoError(t, err)
	require.Len(t, tcs, 2)
	assert.Equal(t, int64(1), tcs[0].ID)
	assert.Equal(t, "Payments", tcs[1].Module)
	assert.Equal(t, plan.PriorityClass1, tcs[1].Priority)

	none, err := s.GetTestCases(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFilterTestCases(t *testing.T) {
	s := seeded(t)

	tests := []struct {
		name    string
		filters plan.Filters
		want    int
	}{
		{"module", plan.Filters{plan.FilterModule: {"payments"}}, 3},
		{"module_and_priority", plan.Filters{plan.FilterModule: {"Login"}, plan.FilterPriority: {"Class 1"}}, 2},
		{"type", plan.Filters{plan.FilterTestcaseType: {"performance"}}, 1},
		{"alternatives", plan.Filters{plan.FilterPriority: {"class_2", "class_3"}}, 4},
		{"empty", plan.Filters{}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tcs, err := s.FilterTestCases(context.Background(), tt.filters)
			require.NoError(t, err)
			assert.Len(t, tcs, tt.want)
		})
	}
}

func TestImportMetrics_Upsert(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	updated := testutil.SampleMetrics()[0]
	updated.Impact = 10
	require.NoError(t, s.ImportMetrics(ctx, []plan.Metric{updated}))

	all, err := s.FetchCandidates(ctx, nil, nil, "")
	require.NoError(t, err)
	assert.Len(t, all, len(testutil.SampleMetrics()))
	assert.Equal(t, 10, all[0].Impact)
}

func TestRPN(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	v, err := s.GetMaxRPN(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = s.RaiseMaxRPN(ctx, 7200)
	require.NoError(t, err)
	assert.Equal(t, 7200.0, v)

	v, err = s.RaiseMaxRPN(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 7200.0, v)

	v, err = s.GetMaxRPN(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7200.0, v)
}

func TestSaveScores(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	metrics, err := s.FetchCandidates(ctx, nil, nil, "")
	require.NoError(t, err)

	engine := scoring.NewEngine(scoring.NewStoreRPN(s), nil)
	results, err := engine.Score(ctx, metrics, 0)
	require.NoError(t, err)

	jobID := uuid.New()
	n, err := s.SaveScores(ctx, jobID, results)
	require.NoError(t, err)
	assert.Equal(t, int64(len(results)), n)

	count, err := s.CountScores(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, len(results), count)

	// the batch raised the shared maximum to the largest impact × likelihood
	max, err := s.GetMaxRPN(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9000.0, max)
}

func TestVersionPersistence(t *testing.T) {
	testutil.RunVersionPersistenceContract(t, newStore(t))
}
