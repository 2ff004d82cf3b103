package versions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/QTest-hq/riskplan/internal/plan"
)

// MemoryPersistence keeps revisions in process memory
type MemoryPersistence struct {
	mu       sync.Mutex
	sessions map[string][]*plan.Version
	now      func() time.Time
}

// NewMemoryPersistence creates an empty in-memory backend
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		sessions: make(map[string][]*plan.Version),
		now:      time.Now,
	}
}

// CommitVersion implements Persistence
func (m *MemoryPersistence) CommitVersion(ctx context.Context, nv plan.NewVersion) (*plan.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.sessions[nv.SessionID]
	for _, v := range existing {
		if v.Status == plan.StatusSaved {
			v.Status = plan.StatusDraft
		}
	}

	v := &plan.Version{
		ID:          uuid.New(),
		SessionID:   nv.SessionID,
		Number:      len(existing) + 1,
		Name:        nv.Name,
		Description: nv.Description,
		Context:     nv.Context,
		Modules:     append([]string(nil), nv.Modules...),
		Requested:   nv.Requested,
		Actual:      nv.Actual,
		Snapshot:    append([]byte(nil), nv.Snapshot...),
		Status:      plan.StatusSaved,
		CreatedAt:   m.now().UTC(),
	}
	m.sessions[nv.SessionID] = append(existing, v)

	out := *v
	return &out, nil
}

// CountVersions implements Persistence
func (m *MemoryPersistence) CountVersions(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions[sessionID]), nil
}

// ListVersions implements Persistence
func (m *MemoryPersistence) ListVersions(ctx context.Context, sessionID string) ([]plan.VersionMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metas := make([]plan.VersionMeta, 0, len(m.sessions[sessionID]))
	for _, v := range m.sessions[sessionID] {
		metas = append(metas, plan.VersionMeta{
			ID:        v.ID,
			Number:    v.Number,
			Name:      v.Name,
			Status:    v.Status,
			Actual:    v.Actual,
			CreatedAt: v.CreatedAt,
		})
	}
	return metas, nil
}

// GetVersion implements Persistence
func (m *MemoryPersistence) GetVersion(ctx context.Context, sessionID string, number int) (*plan.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.sessions[sessionID] {
		if v.Number == number {
			out := *v
			out.Snapshot = append([]byte(nil), v.Snapshot...)
			return &out, nil
		}
	}
	return nil, nil
}
