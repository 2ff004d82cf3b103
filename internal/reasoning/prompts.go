package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/QTest-hq/riskplan/internal/plan"
)

const SystemPromptClassify = `You compare two requests for a risk-based test plan.
Decide whether the second request is a substantial change from the first, judging
intent, focus and scope rather than wording.

Answer with exactly one word:
- YES if the second request is a major change
- NO if it is similar, a continuation or a refinement`

const SystemPromptSelect = `You are an expert QA test planner working in a risk-based testing system.
Use risk-based testing knowledge to pick the highest-risk test cases for the requested modules.
Do not rely on the total score alone; weigh failure history, defects, impact and priority.
Respond only with valid JSON.`

const SystemPromptWarn = `You are a senior QA analyst working with a risk-based testing system.
Judge whether a selected set of test cases is sufficient for risk-based testing of its modules.
If it is not, explain what is missing and how coverage could improve, without naming modules or counts.
If coverage is adequate, return an empty string. Output only the warning or an empty string.`

const SystemPromptRationale = `You are a senior QA analyst contributing to risk-based test planning.
For each selected test case give 1-2 specific sentences on why it was chosen, based on its
failure rate, defects and the risk it covers. Avoid generic statements; make every reason unique.

Return only a JSON array in this format:
[{"id": <testcase_id>, "reason": "<risk-based explanation>"}]`

const SystemPromptNarrate = `You are an expert QA architect evaluating a change to a test plan.
Decide whether the change increases or decreases risk coverage: added cases may improve coverage,
removed cases may drop essential coverage or only remove redundancy. If added cases belong to
modules outside the original plan, say whether that expands coverage or drifts from the intended scope.
Do not rewrite or invent test cases. Reply with 1-2 sentences, no bullet points.`

const SystemPromptFilters = `You help a tester narrow a test case repository with filters.
From the conversation, extract the filters the user asked for and suggest useful next refinements.

Recognised filters:
- module: module names
- testcase_type: functional type such as functional, regression, smoke
- priority: priority classes; map "Class 1" to class_1, "Class 2" to class_2, "Class 3" to class_3

Return only JSON in this format:
{"filters": {"module": [], "testcase_type": [], "priority": []}, "suggestions": ["..."]}
Leave a filter empty when the user did not mention it.`

// ClassifyPrompt builds the user prompt comparing two requests
func ClassifyPrompt(previous, current string) string {
	return fmt.Sprintf("Request 1 (previous): %s\nRequest 2 (current): %s", previous, current)
}

type selectCandidate struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Module         string  `json:"module"`
	Priority       string  `json:"priority"`
	Risk           float64 `json:"risk"`
	FailureHistory float64 `json:"failure_history"`
	ChangeImpact   float64 `json:"change_impact"`
	Defect         float64 `json:"defect"`
	Execution      float64 `json:"execution_penalty"`
	Total          float64 `json:"testscore"`
}

// SelectPrompt builds the selection prompt over the full scored list
func SelectPrompt(req SelectRequest) string {
	candidates := make([]selectCandidate, len(req.Candidates))
	for i, c := range req.Candidates {
		candidates[i] = selectCandidate{
			ID:             c.ID,
			Name:           c.Name,
			Module:         c.Module,
			Priority:       c.Priority,
			Risk:           c.Risk,
			FailureHistory: c.FailureHistory,
			ChangeImpact:   c.ChangeImpact,
			Defect:         c.Defect,
			Execution:      c.ExecutionPenalty,
			Total:          c.Total,
		}
	}

	return fmt.Sprintf(`USER QUERY: %s
MODULES: %s
PRIORITIES: %s
REQUESTED NUMBER OF TEST CASES: %d

Candidate test cases:
%s

Rules:
- Choose only from the candidates above; never invent test cases.
- Only include test cases of the requested modules.
- Choose at most the requested number.

Output a JSON array of the selected test case ids, most important first, e.g. [12, 7, 3].`,
		req.Query,
		strings.Join(req.Modules, ", "),
		strings.Join(req.Priorities, ", "),
		req.Requested,
		mustJSON(candidates))
}

// WarnPrompt builds the coverage-adequacy prompt
func WarnPrompt(modules []string, selected []plan.TestCase) string {
	return fmt.Sprintf("Modules: %s\n\nSelected test cases:\n%s",
		strings.Join(modules, ", "), mustJSON(summarize(selected)))
}

// RationalePrompt builds the per-item rationale prompt
func RationalePrompt(modules []string, selected []plan.TestCase) string {
	return fmt.Sprintf("Modules: %s\n\nSelected test cases:\n%s\n\nGive risk-based reasoning for each test case, in the same order.",
		strings.Join(modules, ", "), mustJSON(summarize(selected)))
}

// NarratePrompt builds the coverage-impact prompt for a staged edit
func NarratePrompt(before, changed []plan.TestCase, kind plan.EditKind) string {
	title := "Added test cases"
	if kind == plan.EditRemove {
		title = "Removed test cases"
	}
	return fmt.Sprintf("Existing test plan:\n%s\n\n%s:\n%s",
		mustJSON(summarize(before)), title, mustJSON(summarize(changed)))
}

type testCaseSummary struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Module   string  `json:"module,omitempty"`
	Priority string  `json:"priority,omitempty"`
	Score    float64 `json:"testscore"`
}

func summarize(tcs []plan.TestCase) []testCaseSummary {
	out := make([]testCaseSummary, len(tcs))
	for i, tc := range tcs {
		out[i] = testCaseSummary{ID: tc.ID, Name: tc.Name, Module: tc.Module, Priority: tc.Priority, Score: tc.Score}
	}
	return out
}

func mustJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}
