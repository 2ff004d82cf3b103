// Package session keeps the per-session working state of the planner in memory.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/llm"
	"github.com/QTest-hq/riskplan/internal/metrics"
	"github.com/QTest-hq/riskplan/internal/plan"
)

// maxHistory bounds the conversation kept for the filter flow
const maxHistory = 20

// State is the mutable state of one session. It is only touched inside Store.Do.
type State struct {
	ID          string
	LastRequest string
	LastPlan    *plan.Plan
	Staged      *plan.StagedEdit
	Filters     plan.Filters
	History     []llm.Message
	LastAccess  time.Time
}

// HasPriorRequest reports whether a request text has been cached
func (s *State) HasPriorRequest() bool {
	return s.LastRequest != ""
}

// AppendHistory records a conversation turn, dropping the oldest beyond the bound
func (s *State) AppendHistory(role, content string) {
	s.History = append(s.History, llm.Message{Role: role, Content: content})
	if len(s.History) > maxHistory {
		s.History = append([]llm.Message(nil), s.History[len(s.History)-maxHistory:]...)
	}
}

// MergeFilters adds new filter values to the accumulated set, deduplicated,
// and reports whether anything non-empty was merged
func (s *State) MergeFilters(incoming plan.Filters) bool {
	if s.Filters == nil {
		s.Filters = plan.Filters{}
	}
	merged := false
	for key, values := range incoming {
		if len(values) == 0 {
			continue
		}
		merged = true
		existing := s.Filters[key]
		seen := make(map[string]bool, len(existing))
		for _, v := range existing {
			seen[v] = true
		}
		for _, v := range values {
			if !seen[v] {
				existing = append(existing, v)
				seen[v] = true
			}
		}
		s.Filters[key] = existing
	}
	return merged
}

// clone returns a copy safe to hand out of the critical section
func (s *State) clone() State {
	c := *s
	c.LastPlan = s.LastPlan.Clone()
	if s.Staged != nil {
		staged := *s.Staged
		staged.Changed = append([]plan.TestCase(nil), s.Staged.Changed...)
		staged.TestCases = append([]plan.TestCase(nil), s.Staged.TestCases...)
		c.Staged = &staged
	}
	c.Filters = make(plan.Filters, len(s.Filters))
	for k, v := range s.Filters {
		c.Filters[k] = append([]string(nil), v...)
	}
	c.History = append([]llm.Message(nil), s.History...)
	return c
}

type entry struct {
	sem   chan struct{}
	state *State
	refs  int
	// gone marks an entry evicted while in use; drained closes when its last user leaves
	gone    bool
	drained chan struct{}
	// after is the drained channel of the evicted entry this one replaced
	after chan struct{}
}

// Store holds session states keyed by id. Work on one session is serialized;
// different sessions proceed in parallel. Idle sessions are evicted after ttl.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// NewStore creates a session store. A positive ttl starts a background sweeper.
func NewStore(ttl time.Duration) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if ttl > 0 {
		go s.cleanup()
	}
	return s
}

// NewID returns a fresh session id
func NewID() string {
	return uuid.New().String()
}

// Do runs fn with exclusive access to the session's state, creating it if needed.
// It waits for other work on the same session and gives up when ctx is done.
func (s *Store) Do(ctx context.Context, id string, fn func(st *State) error) error {
	_, err := s.do(ctx, id, true, fn)
	return err
}

// Get returns a copy of the session's state
func (s *Store) Get(ctx context.Context, id string) (State, bool, error) {
	var out State
	found, err := s.do(ctx, id, false, func(st *State) error {
		out = st.clone()
		return nil
	})
	if err != nil || !found {
		return State{}, false, err
	}
	return out, true, nil
}

// do acquires the session and runs fn. Without create, a missing or evicted
// session reports false and fn is not run.
func (s *Store) do(ctx context.Context, id string, create bool, fn func(st *State) error) (bool, error) {
	for {
		e := s.acquireRef(id, create)
		if e == nil {
			return false, nil
		}

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			s.releaseRef(id, e)
			return false, ctx.Err()
		}

		s.mu.Lock()
		gone := e.gone
		s.mu.Unlock()
		if gone {
			<-e.sem
			s.releaseRef(id, e)
			if !create {
				return false, nil
			}
			continue
		}

		if e.after != nil {
			select {
			case <-e.after:
			case <-ctx.Done():
				<-e.sem
				s.releaseRef(id, e)
				return false, ctx.Err()
			}
		}

		e.state.LastAccess = s.now()
		err := fn(e.state)
		<-e.sem
		s.releaseRef(id, e)
		return true, err
	}
}

func (s *Store) acquireRef(id string, create bool) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.gone {
		if !create {
			return nil
		}
		fresh := &entry{
			sem:   make(chan struct{}, 1),
			state: &State{ID: id, Filters: plan.Filters{}},
		}
		if ok {
			fresh.after = e.drained
		}
		e = fresh
		s.entries[id] = e
		metrics.SetActiveSessions(s.activeLocked())
	}
	e.refs++
	return e
}

func (s *Store) releaseRef(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.refs--
	if e.refs == 0 && e.gone {
		close(e.drained)
		if s.entries[id] == e {
			delete(s.entries, id)
		}
	}
}

// Evict drops a session's state. Work already holding or waiting on the
// session finishes against the evicted state; later calls start fresh once
// that work is done.
func (s *Store) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.gone {
		return
	}
	if e.refs == 0 {
		delete(s.entries, id)
	} else {
		e.gone = true
		e.drained = make(chan struct{})
	}
	metrics.SetActiveSessions(s.activeLocked())
}

func (s *Store) activeLocked() int {
	n := 0
	for _, e := range s.entries {
		if !e.gone {
			n++
		}
	}
	return n
}

// Len returns the number of sessions held
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// Close stops the background sweeper
func (s *Store) Close() {
	s.once.Do(func() { close(s.stopCh) })
}

func (s *Store) cleanup() {
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("evicted idle sessions")
			}
		case <-s.stopCh:
			return
		}
	}
}

// sweep evicts sessions idle for longer than ttl that nobody is using
func (s *Store) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	evicted := 0
	for id, e := range s.entries {
		if e.refs > 0 {
			continue
		}
		if e.state.LastAccess.Before(cutoff) {
			delete(s.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.SetActiveSessions(s.activeLocked())
	}
	return evicted
}
