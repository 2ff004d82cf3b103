package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/QTest-hq/riskplan/internal/metrics"
	"github.com/QTest-hq/riskplan/internal/modify"
	"github.com/QTest-hq/riskplan/internal/plan"
)

// Envelope statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// NoSaveAdvisory is appended when the user opted out of saving
const NoSaveAdvisory = "This test plan is not saved. The test plan is temporarily visible, and if you change the version, the generated test cases will not be shown."

// Envelope is the response delivered for every operation. Optional fields are
// omitted rather than sent empty.
type Envelope struct {
	Content     string       `json:"content"`
	TCSData     *TCSData     `json:"tcs_data,omitempty"`
	Suggestions []string     `json:"suggestions,omitempty"`
	AskToSave   bool         `json:"ask_to_save,omitempty"`
	Version     int          `json:"version_saved,omitempty"`
	Warning     string       `json:"warning,omitempty"`
	InvalidIDs  []int64      `json:"invalid_ids,omitempty"`
	Filters     plan.Filters `json:"filters,omitempty"`
	Operation   Operation    `json:"operation"`
	SessionID   string       `json:"session_id,omitempty"`
	Status      string       `json:"status"`
	Retryable   bool         `json:"retryable,omitempty"`
}

// TCSData is the test-case payload of an envelope
type TCSData struct {
	*plan.Plan
	VersionSaved   int    `json:"version_saved,omitempty"`
	VersionMessage string `json:"version_message,omitempty"`
	NoSave         string `json:"no_save,omitempty"`
}

// Normalize renders an outcome as an envelope
func Normalize(o Outcome) Envelope {
	var env Envelope
	switch out := o.(type) {
	case GenerateOutcome:
		env = normalizeGenerate(out)
	case FilterOutcome:
		env = normalizeFilter(out)
	case EditOutcome:
		env = normalizeEdit(out)
	case SaveOutcome:
		env = normalizeSave(out)
	case DiscardOutcome:
		env = normalizeDiscard(out)
	case FailureOutcome:
		env = normalizeFailure(out)
	case nil:
		env = normalizeFailure(FailureOutcome{Err: errors.New("no outcome")})
	default:
		env = normalizeFailure(FailureOutcome{Op: o.Operation(), Err: fmt.Errorf("unsupported outcome %T", o)})
	}
	metrics.Envelope(string(env.Operation), env.Status == StatusOK)
	return env
}

func normalizeGenerate(out GenerateOutcome) Envelope {
	env := Envelope{Operation: OpGenerate, Status: StatusOK}
	p := out.Plan
	if p == nil {
		p = &plan.Plan{}
	}

	found := len(p.TestCases)
	switch {
	case found == 0:
		env.Content = "No test cases matched the selected modules and priorities."
	case found < p.Requested:
		env.Content = fmt.Sprintf("Only %d of the requested %d test cases matched your criteria.", found, p.Requested)
	default:
		env.Content = fmt.Sprintf("Generated %d test cases for %s.", found, p.Name)
	}

	data := &TCSData{Plan: p}
	switch {
	case out.Version != nil:
		data.VersionSaved = out.Version.Number
		data.VersionMessage = fmt.Sprintf("This has been saved as version %d", out.Version.Number)
		env.Version = out.Version.Number
		env.Content += " " + data.VersionMessage + "."
	case out.NoSaveRequested:
		data.NoSave = NoSaveAdvisory
		env.Content += " " + NoSaveAdvisory
	case out.Minor && found > 0:
		env.Content += " Only minor changes were detected, so no new version was saved."
	}

	if found > 0 {
		env.TCSData = data
	}
	env.Warning = p.Warning
	return env
}

func normalizeFilter(out FilterOutcome) Envelope {
	env := Envelope{
		Operation:   OpFilter,
		Status:      StatusOK,
		Suggestions: nonEmpty(out.Suggestions),
	}
	if !out.Applied {
		env.Content = "Please provide testtype, module or priority classes"
		return env
	}

	env.Content = "Testcases have been filtered as per your requirements."
	if len(out.Filters) > 0 {
		env.Filters = out.Filters
	}
	if len(out.TestCases) > 0 {
		env.TCSData = &TCSData{Plan: &plan.Plan{
			Name:        "Filtered Test Cases",
			Description: describeFilters(out.Filters),
			Modules:     out.Filters[plan.FilterModule],
			Priorities:  out.Filters[plan.FilterPriority],
			Generated:   len(out.TestCases),
			TestCases:   out.TestCases,
		}}
	}
	return env
}

func normalizeEdit(out EditOutcome) Envelope {
	env := Envelope{Operation: out.Operation(), Status: StatusOK, AskToSave: true}
	if out.Edit == nil {
		return normalizeFailure(FailureOutcome{Op: env.Operation, Err: plan.ErrNothingToModify})
	}
	env.Content = out.Edit.Narrative

	p := out.Plan
	if p == nil {
		p = &plan.Plan{}
	} else {
		p = p.Clone()
	}
	p.TestCases = out.Edit.TestCases
	p.Generated = len(out.Edit.TestCases)
	if len(p.TestCases) > 0 {
		env.TCSData = &TCSData{Plan: p}
	}
	return env
}

func normalizeSave(out SaveOutcome) Envelope {
	if out.Version == nil {
		return normalizeFailure(FailureOutcome{Op: OpSave, Err: plan.ErrEmptyPlan})
	}
	return Envelope{
		Operation: OpSave,
		Status:    StatusOK,
		Content:   fmt.Sprintf("Test plan saved as version %d.", out.Version.Number),
		Version:   out.Version.Number,
	}
}

func normalizeDiscard(out DiscardOutcome) Envelope {
	env := Envelope{Operation: OpDiscard, Status: StatusOK}
	if out.HadStaged {
		env.Content = "Changes discarded. No new version was saved."
	} else {
		env.Content = "There are no pending changes to discard."
	}
	return env
}

func normalizeFailure(out FailureOutcome) Envelope {
	env := Envelope{
		Operation: out.Op,
		Status:    StatusError,
		Content:   FailureMessage(out.Err),
		Retryable: plan.Retryable(out.Err),
	}
	var invalid *modify.InvalidIDsError
	if errors.As(out.Err, &invalid) {
		env.InvalidIDs = invalid.IDs
	}
	if out.Message != "" {
		env.Content = out.Message
	}
	return env
}

// FailureMessage returns the user-facing text for an error class. Dependency
// error strings are never included.
func FailureMessage(err error) string {
	var invalid *modify.InvalidIDsError
	switch {
	case errors.As(err, &invalid):
		ids := make([]string, len(invalid.IDs))
		for i, id := range invalid.IDs {
			ids[i] = fmt.Sprint(id)
		}
		return "These test case ids are not valid for the current plan: " + strings.Join(ids, ", ") + "."
	case errors.Is(err, plan.ErrInvalidInput):
		return "Please provide the module, priority classes and number of test cases."
	case errors.Is(err, plan.ErrNoMatchingModules):
		return "No modules matched your request."
	case errors.Is(err, plan.ErrNothingToModify):
		return "No existing test plan found to modify."
	case errors.Is(err, plan.ErrEmptyPlan):
		return "No test plan found to save."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again."
	case errors.Is(err, plan.ErrDataFetch):
		return "Test case data is temporarily unavailable. Please try again."
	case errors.Is(err, plan.ErrReasoning):
		return "The assistant could not complete the selection. Please try again."
	case errors.Is(err, plan.ErrPersistence):
		return "The test plan could not be saved. Please try again."
	case errors.Is(err, ErrMalformed):
		return "The operation returned an unexpected response. Please try again."
	}
	return "Something went wrong while processing your request."
}

func describeFilters(f plan.Filters) string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(f[k]) > 0 {
			parts = append(parts, k+"="+strings.Join(f[k], ","))
		}
	}
	return "Filtered by " + strings.Join(parts, "; ")
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
