package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/versions"
)

func newVersion(t *testing.T, sessionID string, names ...string) plan.NewVersion {
	t.Helper()
	tcs := make([]plan.TestCase, 0, len(names))
	for i, n := range names {
		tcs = append(tcs, plan.TestCase{ID: int64(i + 1), Name: n, Score: float64(i) + 0.5, Mode: plan.ModeAI})
	}
	snapshot, err := json.Marshal(tcs)
	require.NoError(t, err)
	return plan.NewVersion{
		SessionID:   sessionID,
		Name:        "Intelligent Plan: Login",
		Description: "LLM-assisted selection for: login",
		Context:     "login",
		Modules:     []string{"Login"},
		Requested:   len(names),
		Actual:      len(names),
		Snapshot:    snapshot,
	}
}

// RunVersionPersistenceContract checks the numbering and single-current
// guarantees every versions.Persistence backend must provide.
func RunVersionPersistenceContract(t *testing.T, p versions.Persistence) {
	ctx := context.Background()

	t.Run("empty_session", func(t *testing.T) {
		sid := uuid.NewString()

		n, err := p.CountVersions(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		metas, err := p.ListVersions(ctx, sid)
		require.NoError(t, err)
		assert.Empty(t, metas)

		v, err := p.GetVersion(ctx, sid, 1)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("sequential_commits", func(t *testing.T) {
		sid := uuid.NewString()

		for i := 1; i <= 3; i++ {
			v, err := p.CommitVersion(ctx, newVersion(t, sid, "a", "b"))
			require.NoError(t, err)
			assert.Equal(t, i, v.Number)
			assert.Equal(t, plan.StatusSaved, v.Status)
		}

		n, err := p.CountVersions(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		metas, err := p.ListVersions(ctx, sid)
		require.NoError(t, err)
		require.Len(t, metas, 3)
		for i, m := range metas {
			assert.Equal(t, i+1, m.Number)
			want := plan.StatusDraft
			if m.Number == 3 {
				want = plan.StatusSaved
			}
			assert.Equal(t, want, m.Status, "version %d", m.Number)
		}
	})

	t.Run("snapshot_round_trip", func(t *testing.T) {
		sid := uuid.NewString()

		_, err := p.CommitVersion(ctx, newVersion(t, sid, "checkout", "refund"))
		require.NoError(t, err)

		v, err := p.GetVersion(ctx, sid, 1)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, sid, v.SessionID)
		assert.Equal(t, []string{"Login"}, v.Modules)
		assert.Equal(t, "login", v.Context)
		assert.Equal(t, 2, v.Actual)

		tcs, err := v.TestCases()
		require.NoError(t, err)
		require.Len(t, tcs, 2)
		assert.Equal(t, "refund", tcs[1].Name)
		assert.Equal(t, 1.5, tcs[1].Score)
	})

	t.Run("sessions_are_independent", func(t *testing.T) {
		a, b := uuid.NewString(), uuid.NewString()

		_, err := p.CommitVersion(ctx, newVersion(t, a, "x"))
		require.NoError(t, err)
		_, err = p.CommitVersion(ctx, newVersion(t, a, "x"))
		require.NoError(t, err)

		v, err := p.CommitVersion(ctx, newVersion(t, b, "y"))
		require.NoError(t, err)
		assert.Equal(t, 1, v.Number)

		latest, err := p.GetVersion(ctx, a, 2)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, plan.StatusSaved, latest.Status)
	})

	t.Run("concurrent_commits", func(t *testing.T) {
		sid := uuid.NewString()
		const n = 8

		nv := newVersion(t, sid, "a")
		var wg sync.WaitGroup
		numbers := make([]int, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, err := p.CommitVersion(ctx, nv)
				errs[i] = err
				if err == nil {
					numbers[i] = v.Number
				}
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		sort.Ints(numbers)
		for i, num := range numbers {
			assert.Equal(t, i+1, num)
		}

		metas, err := p.ListVersions(ctx, sid)
		require.NoError(t, err)
		saved := 0
		for _, m := range metas {
			if m.Status == plan.StatusSaved {
				saved++
			}
		}
		assert.Equal(t, 1, saved)
	})
}
