package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/riskplan/internal/config"
	"github.com/QTest-hq/riskplan/internal/dispatch"
	"github.com/QTest-hq/riskplan/internal/planner"
	"github.com/QTest-hq/riskplan/internal/reasoning"
	"github.com/QTest-hq/riskplan/internal/selector"
	"github.com/QTest-hq/riskplan/internal/testutil"
)

func TestOpenBackend_Unknown(t *testing.T) {
	_, err := OpenBackend(context.Background(), &config.Config{StoreBackend: "mongo"})
	assert.Error(t, err)
}

func TestOpenBackend_Memory(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBackend(ctx, &config.Config{StoreBackend: config.BackendMemory})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, config.BackendMemory, b.Name)
	assert.NoError(t, b.HealthCheck(ctx))
	assert.NoError(t, b.Migrate(ctx))
}

func TestNewPlanner_GeneratesAndCommits(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBackend(ctx, &config.Config{StoreBackend: config.BackendMemory})
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Store.ImportMetrics(ctx, testutil.SampleMetrics()))

	p, sessions := NewPlanner(PlannerDeps{
		Config:    &config.Config{},
		Policy:    config.DefaultPolicy(),
		Store:     b.Store,
		Reasoning: &reasoning.Fake{},
	})
	defer sessions.Close()

	env := p.Generate(ctx, planner.GenerateRequest{
		SessionID: "S1",
		Request: selector.Request{
			Modules:    []string{"Login"},
			Priorities: []string{"Class 1"},
			Requested:  2,
		},
	})
	require.Equal(t, dispatch.StatusOK, env.Status, env.Content)
	require.NotNil(t, env.TCSData)
	assert.Len(t, env.TCSData.TestCases, 2)

	n, err := b.Store.CountVersions(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the engine raised the persisted running max
	max, err := b.Store.GetMaxRPN(ctx)
	require.NoError(t, err)
	assert.Greater(t, max, 0.0)
}
