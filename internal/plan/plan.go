// Package plan defines the test-plan domain types shared by the scoring,
// selection, versioning and modification packages.
package plan

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority classes as stored on test cases
const (
	PriorityClass1 = "class_1"
	PriorityClass2 = "class_2"
	PriorityClass3 = "class_3"
)

// DefaultTestcaseType is used when a request does not name a functional type
const DefaultTestcaseType = "functional"

// Origin markers carried by test cases in a plan
const (
	ModeAI      = "ai"      // picked by the selector
	ModeClassic = "classic" // added manually through a staged edit
)

// Metric is the raw, read-only metric record of one candidate test case.
type Metric struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Module        string  `json:"module"`
	ModuleID      int64   `json:"module_id"`
	Priority      string  `json:"priority"`
	Type          string  `json:"testcase_type"`
	Likelihood    int     `json:"likelihood"`
	Impact        int     `json:"impact"`
	Failures      int     `json:"failure"`
	TotalRuns     int     `json:"total_runs"`
	FailureRate   float64 `json:"failure_rate"`
	DirectImpact  bool    `json:"direct_impact"`
	Defects       int     `json:"defects"`
	Severity      int     `json:"severity"`
	FeatureSize   int     `json:"feature_size"`
	ExecutionTime float64 `json:"execution_time"`
}

// Module is a resolved module (id + display name)
type Module struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TestCase is one entry of a generated or edited plan
type TestCase struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Module    string  `json:"module,omitempty"`
	Priority  string  `json:"priority,omitempty"`
	Type      string  `json:"testcase_type,omitempty"`
	Score     float64 `json:"testscore"`
	Reason    string  `json:"reason,omitempty"`
	Mode      string  `json:"mode,omitempty"`
	Generated bool    `json:"generated,omitempty"`
}

// Plan is the selection payload held per session until superseded or committed
type Plan struct {
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Modules      []string   `json:"modules"`
	ModuleIDs    []int64    `json:"module_ids,omitempty"`
	Priorities   []string   `json:"priority,omitempty"`
	TestcaseType string     `json:"testcase_type"`
	Requested    int        `json:"output_counts"`
	Generated    int        `json:"generate_test_count"`
	TestCases    []TestCase `json:"testcases"`
	Warning      string     `json:"version_info,omitempty"`
}

// Clone returns a deep copy of the plan
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Modules = append([]string(nil), p.Modules...)
	c.ModuleIDs = append([]int64(nil), p.ModuleIDs...)
	c.Priorities = append([]string(nil), p.Priorities...)
	c.TestCases = append([]TestCase(nil), p.TestCases...)
	return &c
}

// HasTestCase reports whether the plan contains the given id
func (p *Plan) HasTestCase(id int64) bool {
	for _, tc := range p.TestCases {
		if tc.ID == id {
			return true
		}
	}
	return false
}

// EditKind distinguishes staged additions from removals
type EditKind string

const (
	EditAdd    EditKind = "add"
	EditRemove EditKind = "delete"
)

// StagedEdit is an unpersisted modification awaiting user confirmation
type StagedEdit struct {
	Kind                 EditKind   `json:"kind"`
	Narrative            string     `json:"narrative"`
	Changed              []TestCase `json:"changed"`
	TestCases            []TestCase `json:"updated_test_cases"`
	RequiresConfirmation bool       `json:"requires_confirmation"`
	StagedAt             time.Time  `json:"staged_at"`
}

// VersionStatus is the status of a persisted plan revision
type VersionStatus string

const (
	StatusDraft VersionStatus = "draft"
	StatusSaved VersionStatus = "saved"
)

// Version is one persisted, append-only revision of a session's plan
type Version struct {
	ID          uuid.UUID       `json:"id"`
	SessionID   string          `json:"session_id"`
	Number      int             `json:"version"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Context     string          `json:"context,omitempty"`
	Modules     []string        `json:"modules"`
	Requested   int             `json:"output_counts"`
	Actual      int             `json:"testcase_count"`
	Snapshot    json.RawMessage `json:"testcase_data"`
	Status      VersionStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TestCases decodes the frozen snapshot
func (v *Version) TestCases() ([]TestCase, error) {
	var tcs []TestCase
	if len(v.Snapshot) == 0 {
		return tcs, nil
	}
	if err := json.Unmarshal(v.Snapshot, &tcs); err != nil {
		return nil, err
	}
	return tcs, nil
}

// VersionMeta is the list view of a version
type VersionMeta struct {
	ID        uuid.UUID     `json:"id"`
	Number    int           `json:"version"`
	Name      string        `json:"name"`
	Status    VersionStatus `json:"status"`
	Actual    int           `json:"testcase_count"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewVersion is the input to a commit; number and status are assigned by the store
type NewVersion struct {
	SessionID   string
	Name        string
	Description string
	Context     string
	Modules     []string
	Requested   int
	Actual      int
	Snapshot    json.RawMessage
}

// Filters is the accumulated filter set of the filter flow
type Filters map[string][]string

// Filter keys understood by the repositories
const (
	FilterModule       = "module"
	FilterTestcaseType = "testcase_type"
	FilterPriority     = "priority"
)

// NormalizePriority maps display forms such as "Class 1" or "class1" to the
// stored class_N form. Unrecognized values are returned lowercased.
func NormalizePriority(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	compact := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
	switch compact {
	case "class1", "1":
		return PriorityClass1
	case "class2", "2":
		return PriorityClass2
	case "class3", "3":
		return PriorityClass3
	}
	return s
}
