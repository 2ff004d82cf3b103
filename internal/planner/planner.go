// Package planner runs the test-plan operations against a session: generate,
// filter, add, remove, save and discard. Every operation holds the session for
// its whole duration and answers with a normalized envelope.
package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/changedetect"
	"github.com/QTest-hq/riskplan/internal/dispatch"
	"github.com/QTest-hq/riskplan/internal/modify"
	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/reasoning"
	"github.com/QTest-hq/riskplan/internal/selector"
	"github.com/QTest-hq/riskplan/internal/session"
	"github.com/QTest-hq/riskplan/internal/versions"
)

// defaultContext is recorded on versions generated without a request text
const defaultContext = "No context provided"

// Deps are the collaborators of a Planner
type Deps struct {
	Sessions  *session.Store
	Detector  *changedetect.Detector
	Selector  *selector.Selector
	Versions  *versions.Store
	Modifier  *modify.Workflow
	Repo      selector.Repository
	Reasoning reasoning.Service

	// DefaultCount is used when a generate request omits the count
	DefaultCount int
}

// Planner orchestrates the operations
type Planner struct {
	sessions     *session.Store
	detector     *changedetect.Detector
	selector     *selector.Selector
	versions     *versions.Store
	modifier     *modify.Workflow
	repo         selector.Repository
	reasoning    reasoning.Service
	defaultCount int
}

// New creates a planner
func New(d Deps) *Planner {
	if d.DefaultCount <= 0 {
		d.DefaultCount = 10
	}
	return &Planner{
		sessions:     d.Sessions,
		detector:     d.Detector,
		selector:     d.Selector,
		versions:     d.Versions,
		modifier:     d.Modifier,
		repo:         d.Repo,
		reasoning:    d.Reasoning,
		defaultCount: d.DefaultCount,
	}
}

// GenerateRequest asks for a new plan. Prompt is the user's request text; an
// empty prompt always persists and leaves the change-detector cache alone.
type GenerateRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"user_prompt"`
	selector.Request
}

// Generate selects a plan and commits it when the change detector says so
func (p *Planner) Generate(ctx context.Context, req GenerateRequest) dispatch.Envelope {
	sid := sessionID(req.SessionID)
	if req.Requested == 0 {
		req.Requested = p.defaultCount
	}
	if req.Query == "" {
		req.Query = req.Prompt
	}

	var out dispatch.Outcome
	err := p.sessions.Do(ctx, sid, func(st *session.State) error {
		out = p.generate(ctx, st, req)
		return nil
	})
	if err != nil {
		out = dispatch.FailureOutcome{Op: dispatch.OpGenerate, Err: err}
	}
	return respond(sid, out)
}

func (p *Planner) generate(ctx context.Context, st *session.State, req GenerateRequest) dispatch.Outcome {
	logger := log.With().Str("session_id", st.ID).Logger()

	// the selector validates too; checking first keeps a bad request out of the detector cache
	if err := p.selector.Validate(&req.Request); err != nil {
		return dispatch.FailureOutcome{Op: dispatch.OpGenerate, Err: err}
	}

	previousRequest := st.LastRequest
	decision := changedetect.Decision{Persist: true, Reason: changedetect.ReasonFirst}
	if req.Prompt != "" {
		decision = p.detector.Evaluate(ctx, req.Prompt, st)
	}

	pl, err := p.selector.Select(ctx, req.Request)
	if err != nil {
		logger.Warn().Err(err).Msg("test plan selection failed")
		return dispatch.FailureOutcome{Op: dispatch.OpGenerate, Err: err}
	}

	out := dispatch.GenerateOutcome{
		Plan:            pl.Clone(),
		NoSaveRequested: decision.Reason == changedetect.ReasonNoSave,
		Minor:           decision.Reason == changedetect.ReasonMinor,
	}

	if !decision.Persist {
		logger.Info().Str("reason", string(decision.Reason)).Msg("skipped saving test plan")
		st.LastPlan, st.Staged = pl, nil
		return out
	}
	if len(pl.TestCases) == 0 {
		logger.Warn().Msg("no test cases generated, skipping version save")
		st.LastPlan, st.Staged = pl, nil
		return out
	}

	requestContext := req.Prompt
	if requestContext == "" {
		requestContext = defaultContext
	}
	v, err := p.versions.Commit(ctx, st.ID, pl, requestContext)
	if err != nil {
		// the plan was never shown, so the session keeps its previous plan and query
		logger.Warn().Err(err).Msg("failed to save test plan version")
		st.LastRequest = previousRequest
		return dispatch.FailureOutcome{Op: dispatch.OpGenerate, Err: err}
	}
	st.LastPlan, st.Staged = pl, nil
	out.Version = v
	return out
}

// Filter runs the conversational filter flow for message
func (p *Planner) Filter(ctx context.Context, sid, message string) dispatch.Envelope {
	sid = sessionID(sid)

	var out dispatch.Outcome
	err := p.sessions.Do(ctx, sid, func(st *session.State) error {
		out = p.filter(ctx, st, message)
		return nil
	})
	if err != nil {
		out = dispatch.FailureOutcome{Op: dispatch.OpFilter, Err: err}
	}
	return respond(sid, out)
}

func (p *Planner) filter(ctx context.Context, st *session.State, message string) dispatch.Outcome {
	st.AppendHistory("user", message)

	ext, err := p.reasoning.ExtractFilters(ctx, st.History)
	switch {
	case errors.Is(err, reasoning.ErrUnparseable):
		log.Warn().Err(err).Str("session_id", st.ID).Msg("filter extraction unparseable")
		ext = &reasoning.FilterExtraction{Filters: plan.Filters{}}
	case err != nil:
		return dispatch.FailureOutcome{Op: dispatch.OpFilter, Err: fmt.Errorf("%w: %v", plan.ErrReasoning, err)}
	}
	if ext.Raw != "" {
		st.AppendHistory("assistant", ext.Raw)
	}

	out := dispatch.FilterOutcome{Suggestions: ext.Suggestions}
	if !st.MergeFilters(ext.Filters) {
		return out
	}

	tcs, err := p.repo.FilterTestCases(ctx, st.Filters)
	if err != nil {
		return dispatch.FailureOutcome{Op: dispatch.OpFilter, Err: fmt.Errorf("%w: %v", plan.ErrDataFetch, err)}
	}

	filters := make(plan.Filters, len(st.Filters))
	for k, v := range st.Filters {
		filters[k] = append([]string(nil), v...)
	}
	out.Filters = filters
	out.TestCases = tcs
	out.Applied = true

	log.Info().Str("session_id", st.ID).Int("testcases", len(tcs)).Msg("test cases filtered")
	return out
}

// Add stages additions to the session's last plan
func (p *Planner) Add(ctx context.Context, sid string, items []plan.TestCase) dispatch.Envelope {
	return p.stage(ctx, sid, true, items)
}

// Remove stages removals from the session's last plan
func (p *Planner) Remove(ctx context.Context, sid string, items []plan.TestCase) dispatch.Envelope {
	return p.stage(ctx, sid, false, items)
}

func (p *Planner) stage(ctx context.Context, sid string, isAddition bool, items []plan.TestCase) dispatch.Envelope {
	sid = sessionID(sid)
	op := dispatch.OpDelete
	if isAddition {
		op = dispatch.OpAdd
	}

	var out dispatch.Outcome
	err := p.sessions.Do(ctx, sid, func(st *session.State) error {
		edit, err := p.modifier.Stage(ctx, st, isAddition, items)
		if err != nil {
			return err
		}
		out = dispatch.EditOutcome{Edit: edit, Plan: st.LastPlan.Clone()}
		return nil
	})
	if err != nil {
		out = dispatch.FailureOutcome{Op: op, Err: err}
	}
	return respond(sid, out)
}

// Save commits the session's last plan, including any staged edit
func (p *Planner) Save(ctx context.Context, sid string) dispatch.Envelope {
	sid = sessionID(sid)

	var out dispatch.Outcome
	err := p.sessions.Do(ctx, sid, func(st *session.State) error {
		if st.LastPlan == nil || len(st.LastPlan.TestCases) == 0 {
			return plan.ErrEmptyPlan
		}
		v, err := p.versions.Commit(ctx, st.ID, st.LastPlan, st.LastRequest)
		if err != nil {
			return err
		}
		st.Staged = nil
		out = dispatch.SaveOutcome{Version: v}
		return nil
	})
	if err != nil {
		out = dispatch.FailureOutcome{Op: dispatch.OpSave, Err: err}
	}
	return respond(sid, out)
}

// Discard drops the pending edit without committing. The session's last plan
// keeps the edited set until a new generation replaces it.
func (p *Planner) Discard(ctx context.Context, sid string) dispatch.Envelope {
	sid = sessionID(sid)

	var out dispatch.Outcome
	err := p.sessions.Do(ctx, sid, func(st *session.State) error {
		out = dispatch.DiscardOutcome{HadStaged: st.Staged != nil}
		st.Staged = nil
		return nil
	})
	if err != nil {
		out = dispatch.FailureOutcome{Op: dispatch.OpDiscard, Err: err}
	}
	return respond(sid, out)
}

// Snapshot is the read view of a session
type Snapshot struct {
	SessionID   string           `json:"session_id"`
	LastRequest string           `json:"last_request,omitempty"`
	Plan        *plan.Plan       `json:"plan,omitempty"`
	Staged      *plan.StagedEdit `json:"staged,omitempty"`
	Filters     plan.Filters     `json:"filters,omitempty"`
}

// Plan returns the session's last plan and pending edit. ok is false for an
// unknown session.
func (p *Planner) Plan(ctx context.Context, sid string) (*Snapshot, bool, error) {
	st, ok, err := p.sessions.Get(ctx, sid)
	if err != nil || !ok {
		return nil, ok, err
	}
	snap := &Snapshot{
		SessionID:   st.ID,
		LastRequest: st.LastRequest,
		Plan:        st.LastPlan,
		Staged:      st.Staged,
	}
	if len(st.Filters) > 0 {
		snap.Filters = st.Filters
	}
	return snap, true, nil
}

// Versions lists the session's committed revisions
func (p *Planner) Versions(ctx context.Context, sid string) ([]plan.VersionMeta, error) {
	return p.versions.List(ctx, sid)
}

// Version returns one committed revision, nil when it does not exist
func (p *Planner) Version(ctx context.Context, sid string, number int) (*plan.Version, error) {
	return p.versions.Get(ctx, sid, number)
}

// Evict forgets a session's working state. Committed versions are kept.
func (p *Planner) Evict(sid string) {
	p.sessions.Evict(sid)
}

func respond(sid string, out dispatch.Outcome) dispatch.Envelope {
	env := dispatch.Normalize(out)
	env.SessionID = sid
	if env.Status == dispatch.StatusError {
		log.Debug().Str("session_id", sid).Str("operation", string(env.Operation)).
			Bool("retryable", env.Retryable).Msg("operation failed")
	}
	return env
}

func sessionID(id string) string {
	if id == "" {
		return session.NewID()
	}
	return id
}
