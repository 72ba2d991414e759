package store

import (
	"context"
	"sync"
	"time"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
)

// Memory is the in-process Store for single-instance deployments.
// Sessions do not survive a restart; multi-instance deployments must use
// the NATS KV backend instead.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session

	// cleared tombstones IDs removed by Clear so AppendMessage does not
	// silently resurrect them.
	cleared map[string]time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*model.Session),
		cleared:  make(map[string]time.Time),
	}
}

func (m *Memory) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (m *Memory) CreateOrGet(ctx context.Context, sessionID string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[sessionID]; ok {
		return sess.Clone(), nil
	}

	sess := NewSession(sessionID)
	m.sessions[sessionID] = sess
	delete(m.cleared, sessionID)
	return sess.Clone(), nil
}

func (m *Memory) AppendMessage(ctx context.Context, sessionID string, role model.Role, content string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, tombstoned := m.cleared[sessionID]; tombstoned {
		return nil, ErrNotFound
	}

	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = NewSession(sessionID)
		m.sessions[sessionID] = sess
	}

	sess.Messages = append(sess.Messages, model.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	sess.UpdatedAt = time.Now()
	return sess.Clone(), nil
}

func (m *Memory) Put(ctx context.Context, sess *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess.UpdatedAt = time.Now()
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *Memory) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	m.cleared[sessionID] = time.Now()
	return nil
}

func (m *Memory) Forget(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cleared, sessionID)
	return nil
}

func (m *Memory) ListActive(ctx context.Context) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*model.Session
	for _, sess := range m.sessions {
		if sess.Status == model.StatusActive {
			active = append(active, sess.Clone())
		}
	}
	return active, nil
}

func (m *Memory) List(ctx context.Context) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Clone())
	}
	return out, nil
}

func (m *Memory) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sess := range m.sessions {
		// Active sessions age out only through the state machine's own
		// abandonment logic, never through time-based GC.
		if sess.Status == model.StatusActive {
			continue
		}
		if sess.UpdatedAt.Before(olderThan) {
			delete(m.sessions, id)
			removed++
		}
	}
	for id, at := range m.cleared {
		if at.Before(olderThan) {
			delete(m.cleared, id)
		}
	}
	return removed, nil
}
