// Package store provides session persistence with a defined concurrency
// contract: Get/ListActive never block appends for longer than a map copy,
// and every mutation is atomic per session.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
)

var (
	// ErrNotFound is returned when a session was explicitly cleared and
	// is therefore not auto-creatable.
	ErrNotFound = errors.New("session not found")
)

// Store is the session persistence contract. The façade serializes turns
// per session, so backends need only guarantee atomicity of individual
// calls, not cross-call transactions.
type Store interface {
	// Get returns a copy of the session, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*model.Session, error)

	// CreateOrGet returns the existing session or lazily initializes one
	// in the greeting phase. Idempotent.
	CreateOrGet(ctx context.Context, sessionID string) (*model.Session, error)

	// AppendMessage records a turn, auto-creating the session unless it
	// was explicitly cleared (ErrNotFound in that case).
	AppendMessage(ctx context.Context, sessionID string, role model.Role, content string) (*model.Session, error)

	// Put replaces the stored session. Callers hold the per-session lock.
	Put(ctx context.Context, sess *model.Session) error

	// Clear removes the session and tombstones the ID. Idempotent.
	Clear(ctx context.Context, sessionID string) error

	// Forget drops the tombstone so the ID becomes creatable again. Used
	// by the façade's context-reset recovery.
	Forget(ctx context.Context, sessionID string) error

	// ListActive returns copies of every session with status active.
	ListActive(ctx context.Context) ([]*model.Session, error)

	// List returns copies of all sessions.
	List(ctx context.Context) ([]*model.Session, error)

	// Sweep deletes terminal sessions not updated since the cutoff and
	// returns how many were removed. Active sessions are never swept.
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}

// NewSession initializes a fresh session in the greeting phase.
func NewSession(sessionID string) *model.Session {
	now := time.Now()
	return &model.Session{
		ID:        sessionID,
		Messages:  []model.Message{},
		Phase:     model.PhaseGreeting,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
