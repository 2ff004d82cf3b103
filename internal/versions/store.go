// Package versions persists append-only test plan revisions per session.
//
// Every commit creates a new revision numbered count+1. Exactly one revision
// per session is "saved" (current); committing demotes the previous current to
// "draft" and inserts the new one as "saved" in a single atomic step.
package versions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/metrics"
	"github.com/QTest-hq/riskplan/internal/plan"
)

// Persistence is the storage backend for revisions. CommitVersion must count,
// demote and insert atomically with respect to concurrent commits on the same session.
type Persistence interface {
	CommitVersion(ctx context.Context, nv plan.NewVersion) (*plan.Version, error)
	CountVersions(ctx context.Context, sessionID string) (int, error)
	ListVersions(ctx context.Context, sessionID string) ([]plan.VersionMeta, error)
	// GetVersion returns nil, nil when the revision does not exist
	GetVersion(ctx context.Context, sessionID string, number int) (*plan.Version, error)
}

// Publisher announces committed revisions. Publishing is best-effort.
type Publisher interface {
	PublishVersionSaved(ctx context.Context, v *plan.Version) error
}

// Store commits and reads plan revisions
type Store struct {
	persistence Persistence
	publisher   Publisher
}

// NewStore creates a version store. publisher may be nil.
func NewStore(p Persistence, publisher Publisher) *Store {
	return &Store{persistence: p, publisher: publisher}
}

// Commit freezes the plan's test cases into a new saved revision
func (s *Store) Commit(ctx context.Context, sessionID string, p *plan.Plan, requestContext string) (*plan.Version, error) {
	if p == nil || len(p.TestCases) == 0 {
		return nil, plan.ErrEmptyPlan
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id required", plan.ErrInvalidInput)
	}

	// snapshot is serialized from a deep copy so later edits never reach it
	frozen := p.Clone()
	snapshot, err := json.Marshal(frozen.TestCases)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	if requestContext == "" {
		requestContext = frozen.Description
	}

	v, err := s.persistence.CommitVersion(ctx, plan.NewVersion{
		SessionID:   sessionID,
		Name:        frozen.Name,
		Description: frozen.Description,
		Context:     requestContext,
		Modules:     frozen.Modules,
		Requested:   frozen.Requested,
		Actual:      len(frozen.TestCases),
		Snapshot:    snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plan.ErrPersistence, err)
	}

	metrics.VersionCommitted()
	log.Info().
		Str("session_id", sessionID).
		Int("version", v.Number).
		Int("testcases", v.Actual).
		Msg("test plan version committed")

	if s.publisher != nil {
		if err := s.publisher.PublishVersionSaved(ctx, v); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Int("version", v.Number).
				Msg("failed to publish version event")
		}
	}

	return v, nil
}

// List returns the session's revisions, oldest first
func (s *Store) List(ctx context.Context, sessionID string) ([]plan.VersionMeta, error) {
	metas, err := s.persistence.ListVersions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plan.ErrPersistence, err)
	}
	return metas, nil
}

// Get returns one revision, or nil when it does not exist
func (s *Store) Get(ctx context.Context, sessionID string, number int) (*plan.Version, error) {
	v, err := s.persistence.GetVersion(ctx, sessionID, number)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plan.ErrPersistence, err)
	}
	return v, nil
}

// Count returns how many revisions the session has
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	n, err := s.persistence.CountVersions(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", plan.ErrPersistence, err)
	}
	return n, nil
}
