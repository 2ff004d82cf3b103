package scoring

import (
	"context"
	"fmt"
	"sync"
)

// RPNTracker owns the running maximum risk priority number (impact × likelihood)
// used as the risk denominator. The value never decreases.
type RPNTracker interface {
	Load(ctx context.Context) (float64, error)
	// Raise sets the maximum to v if v is larger; smaller values are ignored.
	Raise(ctx context.Context, v float64) error
}

// MemoryRPN is a process-local tracker
type MemoryRPN struct {
	mu  sync.Mutex
	max float64
}

// NewMemoryRPN creates a tracker starting at initial
func NewMemoryRPN(initial float64) *MemoryRPN {
	return &MemoryRPN{max: initial}
}

func (m *MemoryRPN) Load(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.max, nil
}

func (m *MemoryRPN) Raise(ctx context.Context, v float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v > m.max {
		m.max = v
	}
	return nil
}

// Reset sets the maximum back to zero. Tests only.
func (m *MemoryRPN) Reset() {
	m.mu.Lock()
	m.max = 0
	m.mu.Unlock()
}

// RPNStore is the persistence behind StoreRPN
type RPNStore interface {
	GetMaxRPN(ctx context.Context) (float64, error)
	// RaiseMaxRPN must be a single conditional write (max(old, v)).
	RaiseMaxRPN(ctx context.Context, v float64) (float64, error)
}

// StoreRPN is a tracker backed by the rpn_value row, shared across processes
type StoreRPN struct {
	store RPNStore
}

// NewStoreRPN creates a store-backed tracker
func NewStoreRPN(store RPNStore) *StoreRPN {
	return &StoreRPN{store: store}
}

func (s *StoreRPN) Load(ctx context.Context) (float64, error) {
	v, err := s.store.GetMaxRPN(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load max rpn: %w", err)
	}
	return v, nil
}

func (s *StoreRPN) Raise(ctx context.Context, v float64) error {
	if _, err := s.store.RaiseMaxRPN(ctx, v); err != nil {
		return fmt.Errorf("failed to raise max rpn: %w", err)
	}
	return nil
}
