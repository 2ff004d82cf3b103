package reasoning

import (
	"context"
	"fmt"
	"sync"

	"github.com/QTest-hq/riskplan/internal/llm"
	"github.com/QTest-hq/riskplan/internal/plan"
)

// Fake is a deterministic Service for tests and offline runs. Unset hooks
// fall back to simple behaviour: every request is a major change, selection
// keeps the scored order and reasons are templated.
type Fake struct {
	ClassifyFn       func(previous, current string) (string, error)
	SelectFn         func(req SelectRequest) ([]int64, error)
	WarnFn           func(modules []string, selected []plan.TestCase) (string, error)
	RationaleFn      func(modules []string, selected []plan.TestCase) ([]Rationale, error)
	NarrateFn        func(before, changed []plan.TestCase, kind plan.EditKind) (string, error)
	ExtractFiltersFn func(history []llm.Message) (*FilterExtraction, error)

	mu    sync.Mutex
	calls map[string]int
}

// Calls returns how often op was invoked
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) record(ctx context.Context, op string) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	f.mu.Unlock()
	return ctx.Err()
}

// Classify implements Service
func (f *Fake) Classify(ctx context.Context, previous, current string) (string, error) {
	if err := f.record(ctx, OpClassify); err != nil {
		return "", err
	}
	if f.ClassifyFn != nil {
		return f.ClassifyFn(previous, current)
	}
	return "YES", nil
}

// Select implements Service
func (f *Fake) Select(ctx context.Context, req SelectRequest) ([]int64, error) {
	if err := f.record(ctx, OpSelect); err != nil {
		return nil, err
	}
	if f.SelectFn != nil {
		return f.SelectFn(req)
	}
	ids := make([]int64, 0, req.Requested)
	for _, c := range req.Candidates {
		if len(ids) == req.Requested {
			break
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// Warn implements Service
func (f *Fake) Warn(ctx context.Context, modules []string, selected []plan.TestCase) (string, error) {
	if err := f.record(ctx, OpWarn); err != nil {
		return "", err
	}
	if f.WarnFn != nil {
		return f.WarnFn(modules, selected)
	}
	return "", nil
}

// Rationale implements Service
func (f *Fake) Rationale(ctx context.Context, modules []string, selected []plan.TestCase) ([]Rationale, error) {
	if err := f.record(ctx, OpRationale); err != nil {
		return nil, err
	}
	if f.RationaleFn != nil {
		return f.RationaleFn(modules, selected)
	}
	out := make([]Rationale, len(selected))
	for i, tc := range selected {
		out[i] = Rationale{ID: tc.ID, Reason: fmt.Sprintf("%s ranks high on failure history and risk.", tc.Name)}
	}
	return out, nil
}

// Narrate implements Service
func (f *Fake) Narrate(ctx context.Context, before, changed []plan.TestCase, kind plan.EditKind) (string, error) {
	if err := f.record(ctx, OpNarrate); err != nil {
		return "", err
	}
	if f.NarrateFn != nil {
		return f.NarrateFn(before, changed, kind)
	}
	if kind == plan.EditRemove {
		return fmt.Sprintf("Removing %d test case(s) narrows coverage of the plan.", len(changed)), nil
	}
	return fmt.Sprintf("Adding %d test case(s) expands coverage of the plan.", len(changed)), nil
}

// ExtractFilters implements Service
func (f *Fake) ExtractFilters(ctx context.Context, history []llm.Message) (*FilterExtraction, error) {
	if err := f.record(ctx, OpFilters); err != nil {
		return nil, err
	}
	if f.ExtractFiltersFn != nil {
		return f.ExtractFiltersFn(history)
	}
	return &FilterExtraction{Filters: plan.Filters{}}, nil
}
