package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
)

func TestAppendMessageAutoCreates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sess, err := m.AppendMessage(ctx, "s1", model.RoleUser, "hello")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, model.PhaseGreeting, sess.Phase)
	assert.Equal(t, model.StatusActive, sess.Status)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, model.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "hello", sess.Messages[0].Content)
}

func TestAppendIsOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.AppendMessage(ctx, "s1", model.RoleUser, "one")
	m.AppendMessage(ctx, "s1", model.RoleAssistant, "two")
	sess, err := m.AppendMessage(ctx, "s1", model.RoleUser, "three")
	require.NoError(t, err)

	require.Len(t, sess.Messages, 3)
	assert.Equal(t, "one", sess.Messages[0].Content)
	assert.Equal(t, "two", sess.Messages[1].Content)
	assert.Equal(t, "three", sess.Messages[2].Content)
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.AppendMessage(ctx, "s1", model.RoleUser, "hello")
	sess, err := m.Get(ctx, "s1")
	require.NoError(t, err)

	sess.Messages[0].Content = "mutated"
	again, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Messages[0].Content)
}

func TestClearTombstones(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.AppendMessage(ctx, "s1", model.RoleUser, "hello")
	require.NoError(t, m.Clear(ctx, "s1"))

	_, err := m.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Appending after an explicit clear must not resurrect the session.
	_, err = m.AppendMessage(ctx, "s1", model.RoleUser, "hello again")
	assert.ErrorIs(t, err, ErrNotFound)

	// Clear is idempotent.
	assert.NoError(t, m.Clear(ctx, "s1"))
}

func TestForgetMakesIDCreatableAgain(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.AppendMessage(ctx, "s1", model.RoleUser, "hello")
	require.NoError(t, m.Clear(ctx, "s1"))
	require.NoError(t, m.Forget(ctx, "s1"))

	sess, err := m.AppendMessage(ctx, "s1", model.RoleUser, "fresh start")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "fresh start", sess.Messages[0].Content)
}

func TestCreateOrGetIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.CreateOrGet(ctx, "s1")
	require.NoError(t, err)

	m.AppendMessage(ctx, "s1", model.RoleUser, "hello")

	second, err := m.CreateOrGet(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Messages, 1)
}

func TestListActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.CreateOrGet(ctx, "active")
	done, _ := m.CreateOrGet(ctx, "done")
	done.Status = model.StatusCompleted
	require.NoError(t, m.Put(ctx, done))

	active, err := m.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "active", active[0].ID)

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSweepSparesActiveSessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.CreateOrGet(ctx, "active")
	done, _ := m.CreateOrGet(ctx, "done")
	done.Status = model.StatusAbandoned
	require.NoError(t, m.Put(ctx, done))

	// Everything is older than a cutoff in the future, but only the
	// terminal session may go.
	removed, err := m.Sweep(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.Get(ctx, "active")
	assert.NoError(t, err)
	_, err = m.Get(ctx, "done")
	assert.ErrorIs(t, err, ErrNotFound)
}
