package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/riskplan/internal/modify"
	"github.com/QTest-hq/riskplan/internal/plan"
)

func samplePlan(requested int, ids ...int64) *plan.Plan {
	tcs := make([]plan.TestCase, len(ids))
	for i, id := range ids {
		tcs[i] = plan.TestCase{ID: id, Name: fmt.Sprintf("tc-%d", id), Mode: plan.ModeAI}
	}
	return &plan.Plan{
		Name:      "Intelligent Plan: Login",
		Modules:   []string{"Login"},
		Requested: requested,
		Generated: len(tcs),
		TestCases: tcs,
	}
}

func TestNormalizeGenerate(t *testing.T) {
	tests := []struct {
		name        string
		outcome     GenerateOutcome
		wantContent string
		wantVersion int
		wantTCS     bool
	}{
		{
			name:        "zero_found",
			outcome:     GenerateOutcome{Plan: samplePlan(5)},
			wantContent: "No test cases matched the selected modules and priorities.",
		},
		{
			name:        "fewer_than_requested",
			outcome:     GenerateOutcome{Plan: samplePlan(5, 1, 2), Minor: true},
			wantContent: "Only 2 of the requested 5 test cases matched your criteria. Only minor changes were detected, so no new version was saved.",
			wantTCS:     true,
		},
		{
			name:        "saved",
			outcome:     GenerateOutcome{Plan: samplePlan(2, 1, 2), Version: &plan.Version{Number: 3}},
			wantContent: "Generated 2 test cases for Intelligent Plan: Login. This has been saved as version 3.",
			wantVersion: 3,
			wantTCS:     true,
		},
		{
			name:        "not_saved_on_request",
			outcome:     GenerateOutcome{Plan: samplePlan(1, 1), NoSaveRequested: true},
			wantContent: "Generated 1 test cases for Intelligent Plan: Login. " + NoSaveAdvisory,
			wantTCS:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Normalize(tt.outcome)
			assert.Equal(t, OpGenerate, env.Operation)
			assert.Equal(t, StatusOK, env.Status)
			assert.Equal(t, tt.wantContent, env.Content)
			assert.Equal(t, tt.wantVersion, env.Version)
			assert.Equal(t, tt.wantTCS, env.TCSData != nil)
			assert.False(t, env.AskToSave)
		})
	}
}

func TestNormalizeGenerate_TCSDataFields(t *testing.T) {
	env := Normalize(GenerateOutcome{Plan: samplePlan(1, 7), Version: &plan.Version{Number: 1}})
	require.NotNil(t, env.TCSData)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	data := decoded["tcs_data"].(map[string]any)
	assert.Equal(t, "Intelligent Plan: Login", data["name"])
	assert.Equal(t, float64(1), data["version_saved"])
	assert.Equal(t, "This has been saved as version 1", data["version_message"])
	assert.Len(t, data["testcases"], 1)
}

func TestNormalize_OmitsEmptyContainers(t *testing.T) {
	outcomes := []Outcome{
		GenerateOutcome{Plan: samplePlan(3)},
		FilterOutcome{Suggestions: []string{}, Applied: false},
		FilterOutcome{Filters: plan.Filters{"module": {"Login"}}, Suggestions: []string{" "}, Applied: true},
		SaveOutcome{Version: &plan.Version{Number: 1}},
		DiscardOutcome{},
		FailureOutcome{Op: OpSave, Err: plan.ErrEmptyPlan},
	}

	for _, o := range outcomes {
		raw, err := json.Marshal(Normalize(o))
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		_, hasSuggestions := decoded["suggestions"]
		_, hasTCS := decoded["tcs_data"]
		assert.False(t, hasSuggestions, "%T emitted suggestions", o)
		assert.False(t, hasTCS, "%T emitted tcs_data", o)
	}
}

func TestNormalizeFilter(t *testing.T) {
	env := Normalize(FilterOutcome{
		Filters:     plan.Filters{plan.FilterModule: {"Login"}, plan.FilterPriority: {"class_1"}},
		Suggestions: []string{"Add class 2 cases?"},
		TestCases:   samplePlan(0, 1, 3).TestCases,
		Applied:     true,
	})
	assert.Equal(t, "Testcases have been filtered as per your requirements.", env.Content)
	assert.Equal(t, []string{"Add class 2 cases?"}, env.Suggestions)
	require.NotNil(t, env.TCSData)
	assert.Len(t, env.TCSData.TestCases, 2)
	assert.Equal(t, "Filtered by module=Login; priority=class_1", env.TCSData.Description)

	env = Normalize(FilterOutcome{})
	assert.Equal(t, "Please provide testtype, module or priority classes", env.Content)
	assert.Nil(t, env.Filters)
}

func TestNormalizeEdit(t *testing.T) {
	p := samplePlan(5, 1, 2, 3, 4, 5, 6, 7)
	edit := &plan.StagedEdit{
		Kind:                 plan.EditAdd,
		Narrative:            "Adding refund cases widens payment coverage.",
		TestCases:            p.TestCases,
		RequiresConfirmation: true,
	}

	env := Normalize(EditOutcome{Edit: edit, Plan: p})
	assert.Equal(t, OpAdd, env.Operation)
	assert.True(t, env.AskToSave)
	assert.Equal(t, edit.Narrative, env.Content)
	require.NotNil(t, env.TCSData)
	assert.Equal(t, 7, env.TCSData.Generated)

	edit.Kind = plan.EditRemove
	assert.Equal(t, OpDelete, Normalize(EditOutcome{Edit: edit}).Operation)
}

func TestNormalizeSaveAndDiscard(t *testing.T) {
	env := Normalize(SaveOutcome{Version: &plan.Version{Number: 4}})
	assert.Equal(t, "Test plan saved as version 4.", env.Content)
	assert.Equal(t, 4, env.Version)

	env = Normalize(SaveOutcome{})
	assert.Equal(t, StatusError, env.Status)
	assert.Equal(t, "No test plan found to save.", env.Content)

	assert.Equal(t, "Changes discarded. No new version was saved.", Normalize(DiscardOutcome{HadStaged: true}).Content)
	assert.Equal(t, "There are no pending changes to discard.", Normalize(DiscardOutcome{}).Content)
}

func TestNormalizeFailure(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRetryable bool
		wantContent   string
	}{
		{"invalid_input", fmt.Errorf("%w: no modules", plan.ErrInvalidInput), false, "Please provide the module, priority classes and number of test cases."},
		{"no_modules", plan.ErrNoMatchingModules, false, "No modules matched your request."},
		{"data_fetch", fmt.Errorf("%w: dial tcp 10.0.0.1:5432: refused", plan.ErrDataFetch), true, "Test case data is temporarily unavailable. Please try again."},
		{"reasoning", fmt.Errorf("%w: 529 overloaded", plan.ErrReasoning), true, "The assistant could not complete the selection. Please try again."},
		{"timeout", context.DeadlineExceeded, true, "The request timed out. Please try again."},
		{"nothing_to_modify", plan.ErrNothingToModify, false, "No existing test plan found to modify."},
		{"unknown", errors.New("panic: index out of range"), false, "Something went wrong while processing your request."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Normalize(FailureOutcome{Op: OpGenerate, Err: tt.err})
			assert.Equal(t, StatusError, env.Status)
			assert.Equal(t, tt.wantRetryable, env.Retryable)
			assert.Equal(t, tt.wantContent, env.Content)
			assert.NotContains(t, env.Content, "10.0.0.1")
		})
	}
}

func TestNormalizeFailure_InvalidIDs(t *testing.T) {
	env := Normalize(FailureOutcome{Op: OpDelete, Err: &modify.InvalidIDsError{IDs: []int64{7, 9}}})
	assert.Equal(t, []int64{7, 9}, env.InvalidIDs)
	assert.Equal(t, "These test case ids are not valid for the current plan: 7, 9.", env.Content)
	assert.False(t, env.Retryable)
}

func TestDecode(t *testing.T) {
	t.Run("generate", func(t *testing.T) {
		raw := `{"status": 200, "data": {"name": "Intelligent Plan: Login", "output_counts": 2,
			"testcases": [{"id": 1, "name": "a", "testscore": 4.2}], "version_saved": "2"}}`
		out := Decode(OpGenerate, []byte(raw))
		gen, ok := out.(GenerateOutcome)
		require.True(t, ok, "got %T", out)
		assert.Equal(t, 2, gen.Plan.Requested)
		require.Len(t, gen.Plan.TestCases, 1)
		assert.Equal(t, 4.2, gen.Plan.TestCases[0].Score)
		require.NotNil(t, gen.Version)
		assert.Equal(t, 2, gen.Version.Number)
	})

	t.Run("filter_string_values", func(t *testing.T) {
		raw := `{"filters": {"module": "Login", "priority": ["class_1", "class_2"], "testcase_type": ""},
			"suggestions": "Try class 3", "tcs_data": {"testcases": [{"id": 3, "name": "c"}]}}`
		out := Decode(OpFilter, []byte(raw))
		f, ok := out.(FilterOutcome)
		require.True(t, ok, "got %T", out)
		assert.True(t, f.Applied)
		assert.Equal(t, []string{"Login"}, f.Filters[plan.FilterModule])
		assert.Equal(t, []string{"class_1", "class_2"}, f.Filters[plan.FilterPriority])
		assert.NotContains(t, f.Filters, plan.FilterTestcaseType)
		assert.Equal(t, []string{"Try class 3"}, f.Suggestions)
		assert.Len(t, f.TestCases, 1)
	})

	t.Run("delete", func(t *testing.T) {
		raw := `{"content": "Coverage of lockout drops.", "updated_test_cases": [{"id": 1, "name": "a"}]}`
		out := Decode(OpDelete, []byte(raw))
		e, ok := out.(EditOutcome)
		require.True(t, ok, "got %T", out)
		assert.Equal(t, plan.EditRemove, e.Edit.Kind)
		assert.Equal(t, OpDelete, e.Operation())
		assert.Equal(t, "Coverage of lockout drops.", e.Edit.Narrative)
	})

	t.Run("save", func(t *testing.T) {
		out := Decode(OpSave, []byte(`{"status": 200, "message": "Test plan saved as version 3", "version_saved": 3}`))
		s, ok := out.(SaveOutcome)
		require.True(t, ok, "got %T", out)
		assert.Equal(t, 3, s.Version.Number)
	})

	t.Run("save_rejected_keeps_tool_message", func(t *testing.T) {
		out := Decode(OpSave, []byte(`{"status": 400, "message": "No test plan found to save."}`))
		env := Normalize(out)
		assert.Equal(t, StatusError, env.Status)
		assert.Equal(t, "No test plan found to save.", env.Content)
		assert.False(t, env.Retryable)
	})

	t.Run("server_error_hides_message", func(t *testing.T) {
		out := Decode(OpSave, []byte(`{"status": 500, "message": "Error: relation \"x\" does not exist"}`))
		env := Normalize(out)
		assert.NotContains(t, env.Content, "relation")
	})

	t.Run("discard", func(t *testing.T) {
		out := Decode(OpDiscard, []byte(`{"discarded": false}`))
		d, ok := out.(DiscardOutcome)
		require.True(t, ok, "got %T", out)
		assert.False(t, d.HadStaged)
	})
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		raw  string
	}{
		{"empty", OpGenerate, ""},
		{"not_json", OpGenerate, "Here is your plan!"},
		{"generate_without_data", OpGenerate, `{"status": 200}`},
		{"save_without_version", OpSave, `{"status": 200}`},
		{"bad_version", OpSave, `{"version_saved": "three"}`},
		{"unknown_op", Operation("export"), `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Decode(tt.op, []byte(tt.raw))
			f, ok := out.(FailureOutcome)
			require.True(t, ok, "got %T", out)
			assert.ErrorIs(t, f.Err, ErrMalformed)

			env := Normalize(out)
			assert.Equal(t, StatusError, env.Status)
			assert.Equal(t, "The operation returned an unexpected response. Please try again.", env.Content)
		})
	}
}

func TestParseOperation(t *testing.T) {
	op, ok := ParseOperation("delete")
	assert.True(t, ok)
	assert.Equal(t, OpDelete, op)

	_, ok = ParseOperation("export")
	assert.False(t, ok)
}
