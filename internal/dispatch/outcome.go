// Package dispatch maps the outcome of one planner operation onto the single
// response envelope delivered to callers.
package dispatch

import (
	"github.com/QTest-hq/riskplan/internal/plan"
)

// Operation names a planner operation
type Operation string

const (
	OpGenerate Operation = "generate"
	OpFilter   Operation = "filter"
	OpAdd      Operation = "add"
	OpDelete   Operation = "delete"
	OpSave     Operation = "save"
	OpDiscard  Operation = "discard"
)

// Operations lists every operation the normalizer understands
var Operations = []Operation{OpGenerate, OpFilter, OpAdd, OpDelete, OpSave, OpDiscard}

// ParseOperation validates an operation name
func ParseOperation(s string) (Operation, bool) {
	for _, op := range Operations {
		if string(op) == s {
			return op, true
		}
	}
	return "", false
}

// Outcome is the result of one operation. The concrete types below are the
// only implementations.
type Outcome interface {
	Operation() Operation
	isOutcome()
}

// GenerateOutcome is a selection result and its persistence decision
type GenerateOutcome struct {
	Plan *plan.Plan
	// Version is set when the plan was committed
	Version *plan.Version
	// NoSaveRequested is set when the user opted out of saving
	NoSaveRequested bool
	// Minor is set when the request was classified as a refinement
	Minor bool
}

// FilterOutcome is the result of the filter flow
type FilterOutcome struct {
	Filters     plan.Filters
	Suggestions []string
	TestCases   []plan.TestCase
	// Applied is false when no filter could be extracted
	Applied bool
}

// EditOutcome is a staged addition or removal
type EditOutcome struct {
	Edit *plan.StagedEdit
	Plan *plan.Plan
}

// SaveOutcome is an explicit commit
type SaveOutcome struct {
	Version *plan.Version
}

// DiscardOutcome drops a staged edit
type DiscardOutcome struct {
	HadStaged bool
}

// FailureOutcome carries an operation error. Message, when set, is a
// user-facing text produced by the operation itself and replaces the generic
// text for the error class.
type FailureOutcome struct {
	Op      Operation
	Err     error
	Message string
}

func (GenerateOutcome) Operation() Operation  { return OpGenerate }
func (FilterOutcome) Operation() Operation    { return OpFilter }
func (SaveOutcome) Operation() Operation      { return OpSave }
func (DiscardOutcome) Operation() Operation   { return OpDiscard }
func (f FailureOutcome) Operation() Operation { return f.Op }

// Operation reports add or delete from the staged edit's kind
func (e EditOutcome) Operation() Operation {
	if e.Edit != nil && e.Edit.Kind == plan.EditRemove {
		return OpDelete
	}
	return OpAdd
}

func (GenerateOutcome) isOutcome() {}
func (FilterOutcome) isOutcome()   {}
func (EditOutcome) isOutcome()     {}
func (SaveOutcome) isOutcome()     {}
func (DiscardOutcome) isOutcome()  {}
func (FailureOutcome) isOutcome()  {}
