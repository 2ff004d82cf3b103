package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/plan"
)

// ErrMalformed marks tool output that could not be decoded
var ErrMalformed = errors.New("malformed tool output")

// flexInt accepts a JSON number, a numeric string or null
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		*f = flexInt(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// stringList accepts a single string or a list of strings
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			*l = nil
		} else {
			*l = stringList{s}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// toolStatus is the status/message pair most tools report
type toolStatus struct {
	Status  flexInt `json:"status"`
	Message string  `json:"message"`
}

func (s toolStatus) failed() bool {
	return s.Status != 0 && s.Status != http.StatusOK
}

type generatePayload struct {
	toolStatus
	Data *struct {
		plan.Plan
		VersionSaved flexInt `json:"version_saved"`
		NoSave       string  `json:"no_save"`
		Minor        bool    `json:"minor_change"`
	} `json:"data"`
}

type filterPayload struct {
	toolStatus
	Filters     map[string]stringList `json:"filters"`
	Suggestions stringList            `json:"suggestions"`
	TCSData     *struct {
		TestCases []plan.TestCase `json:"testcases"`
	} `json:"tcs_data"`
	TestCases []plan.TestCase `json:"testcases"`
}

type editPayload struct {
	toolStatus
	Content   string          `json:"content"`
	Narrative string          `json:"narrative"`
	Changed   []plan.TestCase `json:"changed"`
	Updated   []plan.TestCase `json:"updated_test_cases"`
}

type savePayload struct {
	toolStatus
	VersionSaved flexInt `json:"version_saved"`
}

type discardPayload struct {
	toolStatus
	Discarded *bool `json:"discarded"`
}

// Decode turns raw tool output for op into an Outcome. Undecodable output
// becomes a FailureOutcome wrapping ErrMalformed.
func Decode(op Operation, raw []byte) Outcome {
	out, err := decode(op, raw)
	if err != nil {
		log.Warn().Err(err).Str("operation", string(op)).Int("bytes", len(raw)).Msg("failed to decode tool output")
		return FailureOutcome{Op: op, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	return out
}

func decode(op Operation, raw []byte) (Outcome, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty output")
	}

	switch op {
	case OpGenerate:
		var p generatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.failed() {
			return toolFailure(op, p.toolStatus, plan.ErrDataFetch), nil
		}
		if p.Data == nil {
			return nil, errors.New("missing data")
		}
		pl := p.Data.Plan
		out := GenerateOutcome{
			Plan:            &pl,
			NoSaveRequested: p.Data.NoSave != "",
			Minor:           p.Data.Minor,
		}
		if n := int(p.Data.VersionSaved); n > 0 {
			out.Version = &plan.Version{Number: n, Name: pl.Name, Status: plan.StatusSaved, Actual: len(pl.TestCases)}
		}
		return out, nil

	case OpFilter:
		var p filterPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.failed() {
			return toolFailure(op, p.toolStatus, plan.ErrReasoning), nil
		}
		filters := plan.Filters{}
		for k, v := range p.Filters {
			if len(v) > 0 {
				filters[k] = []string(v)
			}
		}
		tcs := p.TestCases
		if p.TCSData != nil && len(p.TCSData.TestCases) > 0 {
			tcs = p.TCSData.TestCases
		}
		return FilterOutcome{
			Filters:     filters,
			Suggestions: []string(p.Suggestions),
			TestCases:   tcs,
			Applied:     len(filters) > 0,
		}, nil

	case OpAdd, OpDelete:
		var p editPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.failed() {
			return toolFailure(op, p.toolStatus, plan.ErrNothingToModify), nil
		}
		kind := plan.EditAdd
		if op == OpDelete {
			kind = plan.EditRemove
		}
		narrative := p.Narrative
		if narrative == "" {
			narrative = p.Content
		}
		return EditOutcome{Edit: &plan.StagedEdit{
			Kind:                 kind,
			Narrative:            narrative,
			Changed:              p.Changed,
			TestCases:            p.Updated,
			RequiresConfirmation: true,
		}}, nil

	case OpSave:
		var p savePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.failed() {
			return toolFailure(op, p.toolStatus, plan.ErrEmptyPlan), nil
		}
		if p.VersionSaved <= 0 {
			return nil, errors.New("missing version number")
		}
		return SaveOutcome{Version: &plan.Version{Number: int(p.VersionSaved), Status: plan.StatusSaved}}, nil

	case OpDiscard:
		var p discardPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.failed() {
			return toolFailure(op, p.toolStatus, plan.ErrInvalidInput), nil
		}
		return DiscardOutcome{HadStaged: p.Discarded == nil || *p.Discarded}, nil
	}

	return nil, fmt.Errorf("unknown operation %q", op)
}

// toolFailure maps a tool-reported 4xx/5xx onto a failure outcome. 4xx
// messages are the tool's own user-facing text and are kept; 5xx messages may
// carry dependency errors and are replaced by the generic text.
func toolFailure(op Operation, st toolStatus, class error) FailureOutcome {
	if st.Status >= 500 {
		return FailureOutcome{Op: op, Err: fmt.Errorf("%w: tool status %d", class, int(st.Status))}
	}
	if plan.Retryable(class) {
		class = plan.ErrInvalidInput
	}
	return FailureOutcome{Op: op, Err: fmt.Errorf("%w: tool status %d", class, int(st.Status)), Message: st.Message}
}
