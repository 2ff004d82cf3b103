package plan

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePriority(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Class 1", PriorityClass1},
		{"class_2", PriorityClass2},
		{" CLASS-3 ", PriorityClass3},
		{"class1", PriorityClass1},
		{"2", PriorityClass2},
		{"Critical", "critical"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePriority(tt.in))
		})
	}
}

func TestPlan_Clone(t *testing.T) {
	p := &Plan{
		Name:      "p",
		Modules:   []string{"Login"},
		TestCases: []TestCase{{ID: 1, Name: "a"}},
	}

	c := p.Clone()
	c.Modules[0] = "Payments"
	c.TestCases[0].Name = "changed"
	c.TestCases = append(c.TestCases, TestCase{ID: 2})

	assert.Equal(t, "Login", p.Modules[0])
	assert.Equal(t, "a", p.TestCases[0].Name)
	assert.Len(t, p.TestCases, 1)
	assert.True(t, c.HasTestCase(2))
	assert.False(t, p.HasTestCase(2))

	var nilPlan *Plan
	assert.Nil(t, nilPlan.Clone())
}

func TestVersion_TestCases(t *testing.T) {
	v := &Version{Snapshot: []byte(`[{"id":7,"name":"checkout","testscore":4.25}]`)}

	tcs, err := v.TestCases()
	require.NoError(t, err)
	require.Len(t, tcs, 1)
	assert.Equal(t, int64(7), tcs[0].ID)
	assert.Equal(t, 4.25, tcs[0].Score)

	empty, err := (&Version{}).TestCases()
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = (&Version{Snapshot: []byte(`{`)}).TestCases()
	assert.Error(t, err)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid_input", fmt.Errorf("%w: no modules", ErrInvalidInput), false},
		{"no_modules", ErrNoMatchingModules, false},
		{"data_fetch", fmt.Errorf("%w: timeout", ErrDataFetch), true},
		{"reasoning", fmt.Errorf("select: %w", ErrReasoning), true},
		{"persistence", ErrPersistence, true},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
