package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/internal/monitor"
	"github.com/innovoco-ai/lead-orchestrator/internal/outbox"
	"github.com/innovoco-ai/lead-orchestrator/internal/phase"
	"github.com/innovoco-ai/lead-orchestrator/internal/responder"
	"github.com/innovoco-ai/lead-orchestrator/internal/store"
	"github.com/innovoco-ai/lead-orchestrator/pkg/logger"
)

// countingNotifier records deliveries for qualification-edge assertions.
type countingNotifier struct {
	calls int32
	last  *model.Lead
}

func (n *countingNotifier) SendLeadNotification(ctx context.Context, lead *model.Lead) (*model.NotificationResult, error) {
	atomic.AddInt32(&n.calls, 1)
	n.last = lead
	return &model.NotificationResult{Sent: true, SalesEmailSent: true, WelcomeEmailSent: true, Errors: []string{}}, nil
}

// stubResponder returns a fixed reply or error. Only reached when the
// machine produces no reply override.
type stubResponder struct {
	reply string
	err   error
}

func (s *stubResponder) Name() string { return "stub" }

func (s *stubResponder) Respond(ctx context.Context, sess *model.Session, message string) (string, error) {
	return s.reply, s.err
}

func (s *stubResponder) RespondStream(ctx context.Context, sess *model.Session, message string, onToken responder.TokenFunc) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for i, w := range strings.SplitAfter(s.reply, " ") {
		if err := onToken(w, i); err != nil {
			return "", err
		}
	}
	return s.reply, nil
}

func newTestOrchestrator(t *testing.T, resp responder.Responder) (*Orchestrator, store.Store, *countingNotifier) {
	t.Helper()
	sessions := store.NewMemory()
	log := logger.NewNop()
	notifier := &countingNotifier{}
	ob := outbox.New(notifier, log)
	mon := monitor.New(sessions, nil, log)
	if resp == nil {
		resp = responder.NewRules()
	}
	return New(sessions, phase.New(), resp, ob, mon, log), sessions, notifier
}

func TestProcessMessageRecordsBothTurns(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	res, err := o.ProcessMessage(ctx, "s1", "Hello, I'm Sarah")
	require.NoError(t, err)
	// A greeting is an engaged turn: the keyword responder answers it.
	assert.Contains(t, res.Response, "Innovoco")
	assert.Equal(t, responder.CategoryGreeting, res.Metadata["category"])

	sess, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, model.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, sess.Messages[1].Role)
	assert.Equal(t, "Sarah", sess.LeadInfo.Name)
}

func qualifyingScript() []string {
	return []string{
		"Hi, I'm Sarah",
		"sarah@acme.com",
		"yes",
		"555-123-4567",
		"yes",
		"I work at Acme Corp",
		"VP of Engineering",
		"about 200 people",
		"we need this within two months",
		"me and our CEO",
		"around 50k",
	}
}

func TestQualificationEdgeNotifiesOnce(t *testing.T) {
	o, sessions, notifier := newTestOrchestrator(t, nil)
	ctx := context.Background()

	var last *Result
	for _, line := range qualifyingScript() {
		var err error
		last, err = o.ProcessMessage(ctx, "s1", line)
		require.NoError(t, err)
	}

	assert.True(t, last.Qualification.IsQualified)
	assert.NotNil(t, last.Metadata["lead"])
	assert.NotNil(t, last.Metadata["emailNotifications"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&notifier.calls))
	assert.Equal(t, "sarah@acme.com", notifier.last.Email)

	sess, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.LeadNotified)
	assert.Equal(t, model.StatusCompleted, sess.Status)

	// Further turns must not re-notify.
	_, err = o.ProcessMessage(ctx, "s1", "thanks!")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&notifier.calls))
}

func TestSameSessionTurnsAreSerialized(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.ProcessMessage(ctx, "s1", fmt.Sprintf("message %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sess, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	// Each turn appends exactly one user and one assistant message.
	assert.Len(t, sess.Messages, 2*turns)
}

func TestParallelSessionsDoNotInterfere(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			_, err := o.ProcessMessage(ctx, id, "hello")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := sessions.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestClearThenMessageResetsContext(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	_, err := o.ProcessMessage(ctx, "s1", "sarah@acme.com")
	require.NoError(t, err)
	require.NoError(t, o.ClearSession(ctx, "s1"))

	res, err := o.ProcessMessage(ctx, "s1", "hello again")
	require.NoError(t, err)
	assert.Equal(t, true, res.Metadata["contextReset"])

	sess, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)
	assert.Empty(t, sess.LeadInfo.Email)
}

func TestClearSessionIdempotent(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	assert.NoError(t, o.ClearSession(ctx, "never-existed"))
	assert.NoError(t, o.ClearSession(ctx, "never-existed"))
}

func TestStreamResponseCommitsOnComplete(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	var tokens []string
	var completed string
	var meta *model.StreamMetadata

	err := o.StreamResponse(ctx, "s1", "sarah@acme.com", StreamCallbacks{
		OnToken: func(token string, index int) error {
			tokens = append(tokens, token)
			return nil
		},
		OnComplete: func(full string, m *model.StreamMetadata) error {
			completed = full
			meta = m
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, completed, strings.Join(tokens, ""))
	assert.Contains(t, completed, "sarah@acme.com")
	require.NotNil(t, meta)
	assert.Equal(t, "sarah@acme.com", meta.CustomerInfo.Email)

	sess, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "sarah@acme.com", sess.LeadInfo.Email)
	assert.Equal(t, string(phase.FieldEmail), sess.PendingConfirm)
}

func TestStreamCancelDiscardsReplyAndTransition(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var streamErr error

	err := o.StreamResponse(ctx, "s1", "sarah@acme.com", StreamCallbacks{
		OnToken: func(token string, index int) error {
			cancel()
			return nil
		},
		OnError: func(err error) { streamErr = err },
	})
	require.Error(t, err)
	assert.Error(t, streamErr)

	// The user message stays; the reply and the transition do not.
	sess, err := sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, model.RoleUser, sess.Messages[0].Role)
	assert.Empty(t, sess.LeadInfo.Email)
	assert.Equal(t, model.StatusActive, sess.Status)
}

func TestTimeoutKeepsUserMessageForRetry(t *testing.T) {
	stub := &stubResponder{err: responder.ErrUpstreamTimeout}
	o, sessions, _ := newTestOrchestrator(t, stub)
	ctx := context.Background()

	// A completed session produces no machine reply, so the turn falls
	// through to the responder.
	seed := store.NewSession("s1")
	seed.Phase = model.PhaseCompleted
	seed.Status = model.StatusCompleted
	require.NoError(t, sessions.Put(ctx, seed))

	res, err := o.ProcessMessage(ctx, "s1", "are you still there?")
	require.NoError(t, err)
	assert.Equal(t, true, res.Metadata["transient"])

	sess, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
	assert.True(t, sess.LastUserTurnFailed)

	// The identical retry does not duplicate the user message.
	stub.err = nil
	stub.reply = "Still here!"
	res, err = o.ProcessMessage(ctx, "s1", "are you still there?")
	require.NoError(t, err)
	assert.Equal(t, "Still here!", res.Response)

	sess, err = sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.False(t, sess.LastUserTurnFailed)
}

func TestProcessTranscriptAssistantRole(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	res, err := o.ProcessTranscript(ctx, "s1", "Could you share the best email address to reach you?", model.RoleAssistant)
	require.NoError(t, err)
	require.NotNil(t, res.UIAction)
	assert.Equal(t, model.UIShowTextInput, res.UIAction.Type)
	assert.Equal(t, "email", res.UIAction.InputType)
	assert.Empty(t, res.AIResponse)
}

func TestProcessTranscriptUserRoleRunsMachine(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	res, err := o.ProcessTranscript(ctx, "s1", "my email is sarah@acme.com", model.RoleUser)
	require.NoError(t, err)
	assert.Contains(t, res.AIResponse, "sarah@acme.com")
	require.NotNil(t, res.UIAction)
	assert.Equal(t, model.UIHideTextInput, res.UIAction.Type)

	sess, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "sarah@acme.com", sess.LeadInfo.Email)
}

func TestInvalidStateSurfaces(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	seed := store.NewSession("s1")
	seed.Phase = model.Phase("bogus")
	require.NoError(t, sessions.Put(ctx, seed))

	_, err := o.ProcessMessage(ctx, "s1", "hello")
	assert.ErrorIs(t, err, phase.ErrInvalidState)
}
