// Package modify stages add/remove edits against a session's last plan. Staged
// edits are never persisted here; committing happens only on an explicit save.
package modify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/reasoning"
	"github.com/QTest-hq/riskplan/internal/session"
)

// InvalidIDsError reports ids that cannot be applied to the plan: removals
// that are not in it, additions already in it or unknown to the repository.
type InvalidIDsError struct {
	IDs []int64
}

func (e *InvalidIDsError) Error() string {
	parts := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		parts[i] = fmt.Sprint(id)
	}
	return "invalid test case ids: " + strings.Join(parts, ", ")
}

// Lookup resolves ids to full test-case records
type Lookup interface {
	GetTestCases(ctx context.Context, ids []int64) ([]plan.TestCase, error)
}

// Workflow stages edits
type Workflow struct {
	lookup    Lookup
	reasoning reasoning.Service
	now       func() time.Time
}

// New creates a workflow. lookup may be nil, in which case additions are
// taken as given.
func New(lookup Lookup, svc reasoning.Service) *Workflow {
	return &Workflow{lookup: lookup, reasoning: svc, now: time.Now}
}

// Stage applies an addition or removal to st.LastPlan and records it as the
// session's pending edit. Nothing is committed.
func (w *Workflow) Stage(ctx context.Context, st *session.State, isAddition bool, items []plan.TestCase) (*plan.StagedEdit, error) {
	if st.LastPlan == nil {
		return nil, plan.ErrNothingToModify
	}
	items = dedupe(items)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no test cases given", plan.ErrInvalidInput)
	}

	kind := plan.EditRemove
	if isAddition {
		kind = plan.EditAdd
	}

	var (
		changed []plan.TestCase
		err     error
	)
	if isAddition {
		changed, err = w.additions(ctx, st.LastPlan, items)
	} else {
		changed, err = removals(st.LastPlan, items)
	}
	if err != nil {
		return nil, err
	}

	before := append([]plan.TestCase(nil), st.LastPlan.TestCases...)
	narrative, nerr := w.reasoning.Narrate(ctx, before, changed, kind)
	if nerr != nil || strings.TrimSpace(narrative) == "" {
		if nerr != nil {
			log.Warn().Err(nerr).Str("session_id", st.ID).Msg("narrative generation failed")
		}
		narrative = FallbackNarrative(kind, len(changed))
	}

	updated := applyEdit(before, changed, kind)

	next := st.LastPlan.Clone()
	next.TestCases = updated
	next.Generated = len(updated)
	st.LastPlan = next

	edit := &plan.StagedEdit{
		Kind:                 kind,
		Narrative:            strings.TrimSpace(narrative),
		Changed:              changed,
		TestCases:            append([]plan.TestCase(nil), updated...),
		RequiresConfirmation: true,
		StagedAt:             w.now().UTC(),
	}
	st.Staged = edit

	log.Info().
		Str("session_id", st.ID).
		Str("kind", string(kind)).
		Int("changed", len(changed)).
		Int("testcases", len(updated)).
		Msg("test plan edit staged")

	return edit, nil
}

func (w *Workflow) additions(ctx context.Context, current *plan.Plan, items []plan.TestCase) ([]plan.TestCase, error) {
	var invalid []int64
	for _, it := range items {
		if current.HasTestCase(it.ID) {
			invalid = append(invalid, it.ID)
		}
	}

	resolved := items
	if w.lookup != nil {
		ids := make([]int64, len(items))
		for i, it := range items {
			ids[i] = it.ID
		}
		records, err := w.lookup.GetTestCases(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", plan.ErrDataFetch, err)
		}
		byID := make(map[int64]plan.TestCase, len(records))
		for _, r := range records {
			byID[r.ID] = r
		}
		resolved = make([]plan.TestCase, 0, len(items))
		for _, it := range items {
			r, ok := byID[it.ID]
			if !ok {
				invalid = append(invalid, it.ID)
				continue
			}
			resolved = append(resolved, r)
		}
	}

	if len(invalid) > 0 {
		return nil, &InvalidIDsError{IDs: sortedUnique(invalid)}
	}

	out := make([]plan.TestCase, len(resolved))
	for i, tc := range resolved {
		tc.Mode = plan.ModeClassic
		tc.Generated = true
		out[i] = tc
	}
	return out, nil
}

func removals(current *plan.Plan, items []plan.TestCase) ([]plan.TestCase, error) {
	byID := make(map[int64]plan.TestCase, len(current.TestCases))
	for _, tc := range current.TestCases {
		byID[tc.ID] = tc
	}

	var invalid []int64
	changed := make([]plan.TestCase, 0, len(items))
	for _, it := range items {
		tc, ok := byID[it.ID]
		if !ok {
			invalid = append(invalid, it.ID)
			continue
		}
		changed = append(changed, tc)
	}
	if len(invalid) > 0 {
		return nil, &InvalidIDsError{IDs: sortedUnique(invalid)}
	}
	return changed, nil
}

func applyEdit(before, changed []plan.TestCase, kind plan.EditKind) []plan.TestCase {
	if kind == plan.EditAdd {
		return append(append([]plan.TestCase(nil), before...), changed...)
	}
	drop := make(map[int64]bool, len(changed))
	for _, tc := range changed {
		drop[tc.ID] = true
	}
	out := make([]plan.TestCase, 0, len(before))
	for _, tc := range before {
		if !drop[tc.ID] {
			out = append(out, tc)
		}
	}
	return out
}

// FallbackNarrative is the neutral summary used when narration fails
func FallbackNarrative(kind plan.EditKind, n int) string {
	if kind == plan.EditAdd {
		return fmt.Sprintf("Adding %d test case(s) extends the plan's coverage.", n)
	}
	return fmt.Sprintf("Removing %d test case(s) reduces the plan's coverage.", n)
}

func dedupe(items []plan.TestCase) []plan.TestCase {
	seen := make(map[int64]bool, len(items))
	out := make([]plan.TestCase, 0, len(items))
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}

func sortedUnique(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
