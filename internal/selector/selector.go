// Package selector turns a test-plan request into a ranked plan: candidates are
// fetched from the repository, scored, narrowed by the reasoning service and
// annotated with a coverage warning and per-item rationale.
package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/QTest-hq/riskplan/internal/config"
	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/reasoning"
	"github.com/QTest-hq/riskplan/internal/scoring"
)

// RationaleFailed is the reason attached when rationale generation fails
const RationaleFailed = "Reasoning generation failed."

// Repository is the read side of the candidate store
type Repository interface {
	ResolveModules(ctx context.Context, names []string) ([]plan.Module, error)
	FetchCandidates(ctx context.Context, moduleIDs []int64, priorities []string, testcaseType string) ([]plan.Metric, error)
	MaxExecutionTime(ctx context.Context) (float64, error)
	GetTestCases(ctx context.Context, ids []int64) ([]plan.TestCase, error)
	FilterTestCases(ctx context.Context, filters plan.Filters) ([]plan.TestCase, error)
}

// Request is a selection request extracted from the user's message
type Request struct {
	Query        string   `json:"query"`
	Modules      []string `json:"module"`
	Priorities   []string `json:"priority"`
	TestcaseType string   `json:"testcase_type,omitempty"`
	Requested    int      `json:"output_counts"`
}

// Options tune selection behaviour
type Options struct {
	// Fallback is config.FallbackFail or config.FallbackScoredOrder
	Fallback            string
	DefaultTestcaseType string
	MaxModulesInName    int
}

// OptionsFromPolicy derives selector options from the policy file
func OptionsFromPolicy(p *config.Policy) Options {
	return Options{
		Fallback:            p.Selection.Fallback,
		DefaultTestcaseType: p.Selection.DefaultTestcaseType,
		MaxModulesInName:    p.Selection.MaxModulesInName,
	}
}

// Selector builds plans
type Selector struct {
	repo      Repository
	engine    *scoring.Engine
	reasoning reasoning.Service
	opts      Options
}

// New creates a selector
func New(repo Repository, engine *scoring.Engine, svc reasoning.Service, opts Options) *Selector {
	if opts.Fallback == "" {
		opts.Fallback = config.FallbackFail
	}
	if opts.DefaultTestcaseType == "" {
		opts.DefaultTestcaseType = plan.DefaultTestcaseType
	}
	if opts.MaxModulesInName <= 0 {
		opts.MaxModulesInName = 5
	}
	return &Selector{repo: repo, engine: engine, reasoning: svc, opts: opts}
}

// Validate checks the request and fills defaults
func (s *Selector) Validate(req *Request) error {
	req.Modules = compact(req.Modules)
	req.Priorities = compact(req.Priorities)
	for i, p := range req.Priorities {
		req.Priorities[i] = plan.NormalizePriority(p)
	}
	if strings.TrimSpace(req.TestcaseType) == "" {
		req.TestcaseType = s.opts.DefaultTestcaseType
	}

	switch {
	case len(req.Modules) == 0:
		return fmt.Errorf("%w: at least one module is required", plan.ErrInvalidInput)
	case len(req.Priorities) == 0:
		return fmt.Errorf("%w: at least one priority class is required", plan.ErrInvalidInput)
	case req.Requested <= 0:
		return fmt.Errorf("%w: requested count must be positive", plan.ErrInvalidInput)
	}
	return nil
}

// Select builds a plan for req. A plan without test cases means no candidate matched.
func (s *Selector) Select(ctx context.Context, req Request) (*plan.Plan, error) {
	if err := s.Validate(&req); err != nil {
		return nil, err
	}

	logger := log.With().Strs("modules", req.Modules).Int("requested", req.Requested).Logger()

	modules, err := s.repo.ResolveModules(ctx, req.Modules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plan.ErrDataFetch, err)
	}
	if len(modules) == 0 {
		return nil, plan.ErrNoMatchingModules
	}

	p := &plan.Plan{
		Name:         PlanName(req.Modules, s.opts.MaxModulesInName),
		Description:  "LLM-assisted selection for: " + req.Query,
		Priorities:   req.Priorities,
		TestcaseType: req.TestcaseType,
		Requested:    req.Requested,
		TestCases:    []plan.TestCase{},
	}
	for _, m := range modules {
		p.Modules = append(p.Modules, m.Name)
		p.ModuleIDs = append(p.ModuleIDs, m.ID)
	}

	candidates, err := s.repo.FetchCandidates(ctx, p.ModuleIDs, req.Priorities, req.TestcaseType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plan.ErrDataFetch, err)
	}
	logger.Info().Int("candidates", len(candidates)).Msg("retrieved candidate test cases")
	if len(candidates) == 0 {
		return p, nil
	}

	maxExec, err := s.repo.MaxExecutionTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plan.ErrDataFetch, err)
	}

	scored, err := s.engine.Score(ctx, candidates, maxExec)
	if errors.Is(err, scoring.ErrNoScorableInput) {
		logger.Warn().Msg("no candidate could be scored")
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plan.ErrDataFetch, err)
	}

	selected, err := s.choose(ctx, req, scored)
	if err != nil {
		return nil, err
	}
	p.TestCases = selected
	p.Generated = len(selected)

	p.Warning = s.annotate(ctx, p.Modules, p.TestCases)

	logger.Info().Int("selected", len(p.TestCases)).Msg("test plan generated")
	return p, nil
}

// choose asks the reasoning service for the subset and maps ids back to scored results
func (s *Selector) choose(ctx context.Context, req Request, scored []scoring.Result) ([]plan.TestCase, error) {
	byID := make(map[int64]scoring.Result, len(scored))
	for _, r := range scored {
		byID[r.ID] = r
	}

	ids, err := s.reasoning.Select(ctx, reasoning.SelectRequest{
		Query:      req.Query,
		Modules:    req.Modules,
		Priorities: req.Priorities,
		Requested:  req.Requested,
		Candidates: scored,
	})

	var picked []plan.TestCase
	if err == nil {
		seen := make(map[int64]bool, len(ids))
		for _, id := range ids {
			r, ok := byID[id]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			picked = append(picked, fromResult(r))
			if len(picked) == req.Requested {
				break
			}
		}
		if dropped := len(ids) - len(picked); dropped > 0 {
			log.Debug().Int("dropped", dropped).Msg("ignored unknown, duplicate or surplus selections")
		}
		if len(picked) == 0 {
			err = fmt.Errorf("selection contained no known candidate: %w", reasoning.ErrUnparseable)
		}
	}
	if err == nil {
		return picked, nil
	}

	if s.opts.Fallback != config.FallbackScoredOrder || ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", plan.ErrReasoning, err)
	}

	log.Warn().Err(err).Msg("reasoning selection failed, using scored order")
	picked = make([]plan.TestCase, 0, req.Requested)
	for _, r := range scored {
		if len(picked) == req.Requested {
			break
		}
		picked = append(picked, fromResult(r))
	}
	return picked, nil
}

// annotate fetches the coverage warning and the rationale concurrently. Both
// degrade to neutral values; the returned string is the warning.
func (s *Selector) annotate(ctx context.Context, modules []string, selected []plan.TestCase) string {
	var warning string
	var reasons []reasoning.Rationale
	snapshot := append([]plan.TestCase(nil), selected...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w, err := s.reasoning.Warn(gctx, modules, snapshot)
		if err != nil {
			log.Warn().Err(err).Msg("warning generation failed")
			return nil
		}
		warning = w
		return nil
	})
	g.Go(func() error {
		r, err := s.reasoning.Rationale(gctx, modules, snapshot)
		if err != nil {
			log.Warn().Err(err).Msg("rationale generation failed")
			return nil
		}
		reasons = r
		return nil
	})
	_ = g.Wait()

	if reasons == nil {
		reasons = []reasoning.Rationale{{Reason: RationaleFailed}}
	}
	for i := 0; i < len(selected) && i < len(reasons); i++ {
		selected[i].Reason = reasons[i].Reason
	}
	return warning
}

func fromResult(r scoring.Result) plan.TestCase {
	return plan.TestCase{
		ID:       r.ID,
		Name:     r.Name,
		Module:   r.Module,
		Priority: r.Priority,
		Type:     r.Type,
		Score:    r.Total,
		Mode:     plan.ModeAI,
	}
}

// PlanName renders "Intelligent Plan: a, b and N more" showing at most max modules
func PlanName(modules []string, max int) string {
	if max <= 0 || len(modules) <= max {
		return "Intelligent Plan: " + strings.Join(modules, ", ")
	}
	return fmt.Sprintf("Intelligent Plan: %s and %d more", strings.Join(modules[:max], ", "), len(modules)-max)
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
