// Package orchestrator is the single entry point HTTP handlers call. It
// composes the session store, the phase state machine, the responder and
// the notification outbox into one turn protocol.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/internal/monitor"
	"github.com/innovoco-ai/lead-orchestrator/internal/outbox"
	"github.com/innovoco-ai/lead-orchestrator/internal/phase"
	"github.com/innovoco-ai/lead-orchestrator/internal/responder"
	"github.com/innovoco-ai/lead-orchestrator/internal/store"
	"github.com/innovoco-ai/lead-orchestrator/pkg/logger"
	"github.com/innovoco-ai/lead-orchestrator/pkg/metrics"
)

// retryReply is shown when the responder failed transiently; the raw
// error never reaches the caller.
const retryReply = "I'm sorry, I ran into a hiccup there. Could you say that again?"

// Orchestrator coordinates one conversation turn end to end. Turns for
// the same session are mutually exclusive; different sessions run in
// parallel.
type Orchestrator struct {
	store     store.Store
	machine   *phase.Machine
	responder responder.Responder
	outbox    *outbox.Outbox
	monitor   *monitor.Monitor
	logger    *logger.Logger
	locks     *sessionLocks
}

// New wires the façade.
func New(st store.Store, machine *phase.Machine, resp responder.Responder, ob *outbox.Outbox, mon *monitor.Monitor, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		machine:   machine,
		responder: resp,
		outbox:    ob,
		monitor:   mon,
		logger:    log,
		locks:     newSessionLocks(),
	}
}

// Result is the one-shot turn outcome.
type Result struct {
	Response      string
	Session       *model.Session
	Qualification model.Qualification
	Metadata      map[string]any
}

// TranscriptResult is the sync-route turn outcome.
type TranscriptResult struct {
	Session       *model.Session
	Qualification model.Qualification
	UIAction      *model.UIAction
	AIResponse    string
	Lead          *model.Lead
	Notifications *model.NotificationResult
}

// StreamCallbacks receive the incremental response feed.
type StreamCallbacks struct {
	// OnToken is called per fragment; its error cancels production.
	OnToken func(token string, index int) error
	// OnPartial is called with the text assembled so far.
	OnPartial func(partial string) error
	// OnComplete is called once with the full text and final metadata.
	OnComplete func(full string, meta *model.StreamMetadata) error
	// OnError is called with the terminal error, if any.
	OnError func(err error)
}

// StartSession initializes (or returns) a session, recording the channel
// provider it arrived on.
func (o *Orchestrator) StartSession(ctx context.Context, sessionID, provider string) (*model.Session, error) {
	release := o.locks.acquire(sessionID)
	defer release()

	sess, err := o.store.CreateOrGet(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if provider != "" && sess.Provider == "" {
		sess.Provider = provider
		if err := o.store.Put(ctx, sess); err != nil {
			return nil, err
		}
	}
	if len(sess.Messages) == 0 {
		o.monitor.Record(model.MetricEvent{
			SessionID: sessionID,
			Event:     model.EventSessionStarted,
			Payload:   map[string]any{"provider": provider},
		})
	}
	return sess, nil
}

// GetSession returns the current session state.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return o.store.Get(ctx, sessionID)
}

// SessionHistory returns the session's message history, empty if absent.
func (o *Orchestrator) SessionHistory(ctx context.Context, sessionID string) []model.Message {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil
	}
	return sess.Messages
}

// ClearSession removes the session. Idempotent.
func (o *Orchestrator) ClearSession(ctx context.Context, sessionID string) error {
	release := o.locks.acquire(sessionID)
	defer release()

	if err := o.store.Clear(ctx, sessionID); err != nil {
		return err
	}
	o.monitor.Record(model.MetricEvent{
		SessionID: sessionID,
		Event:     model.EventSessionCleared,
	})
	return nil
}

// beginTurn loads the session and records the user message, recovering a
// cleared session by resetting context, and absorbing an idempotent
// retry of a previously failed turn.
func (o *Orchestrator) beginTurn(ctx context.Context, sessionID, message string) (sess *model.Session, contextReset bool, err error) {
	// Retry of a failed turn: the user message is already recorded, so
	// appending again would violate idempotence.
	if existing, gerr := o.store.Get(ctx, sessionID); gerr == nil && existing.LastUserTurnFailed {
		if last := existing.LastMessage(); last != nil && last.Role == model.RoleUser && last.Content == message {
			existing.LastUserTurnFailed = false
			return existing, false, nil
		}
	}

	sess, err = o.store.AppendMessage(ctx, sessionID, model.RoleUser, message)
	if errors.Is(err, store.ErrNotFound) {
		// The session was explicitly cleared; start fresh and tell the
		// caller their context was reset.
		if ferr := o.store.Forget(ctx, sessionID); ferr != nil {
			return nil, false, ferr
		}
		sess, err = o.store.AppendMessage(ctx, sessionID, model.RoleUser, message)
		contextReset = true
	}
	if err != nil {
		return nil, false, err
	}
	sess.LastUserTurnFailed = false
	return sess, contextReset, nil
}

// finishTurn applies the state machine, appends the assistant reply,
// persists and fires the qualification side effects.
func (o *Orchestrator) finishTurn(ctx context.Context, sess *model.Session, reply string, res *phase.Result) (*model.Lead, *model.NotificationResult, error) {
	sess.Messages = append(sess.Messages, model.Message{
		Role:      model.RoleAssistant,
		Content:   reply,
		Timestamp: time.Now(),
	})

	var lead *model.Lead
	var notifications *model.NotificationResult
	if res.NewlyQualified && !sess.LeadNotified {
		lead = phase.ProjectLead(sess, uuid.Must(uuid.NewV7()).String())
		sess.LeadNotified = true
	}

	if err := o.store.Put(ctx, sess); err != nil {
		return nil, nil, err
	}

	if res.From != res.To {
		metrics.PhaseTransitionsTotal.WithLabelValues(string(res.From), string(res.To)).Inc()
		o.monitor.Record(model.MetricEvent{
			SessionID: sess.ID,
			Event:     model.EventPhaseTransition,
			Payload:   map[string]any{"from": string(res.From), "to": string(res.To)},
		})
	}

	if lead != nil {
		metrics.LeadsQualifiedTotal.WithLabelValues(lead.Tier).Inc()
		o.monitor.Record(model.MetricEvent{
			SessionID: sess.ID,
			Event:     model.EventLeadQualified,
			Payload:   map[string]any{"tier": lead.Tier, "score": lead.QualificationScore},
		})

		notifications = o.outbox.Publish(ctx, lead)
		o.monitor.Record(model.MetricEvent{
			SessionID: sess.ID,
			Event:     model.EventLeadNotified,
			Level:     notificationLevel(notifications),
			Payload:   map[string]any{"sent": notifications.Sent, "errors": notifications.Errors},
		})
	}

	return lead, notifications, nil
}

func notificationLevel(r *model.NotificationResult) model.LogLevel {
	if r != nil && r.Sent {
		return model.LevelInfo
	}
	return model.LevelWarn
}

// markTurnFailed records a transient turn failure so an identical retry
// does not double-append the user message.
func (o *Orchestrator) markTurnFailed(ctx context.Context, sess *model.Session, cause error) {
	sess.LastUserTurnFailed = true
	if err := o.store.Put(ctx, sess); err != nil {
		o.logger.Error("failed to persist failed-turn marker", "session_id", sess.ID, "error", err)
	}
	o.monitor.Record(model.MetricEvent{
		SessionID: sess.ID,
		Event:     model.EventTurnFailed,
		Level:     model.LevelError,
		Payload:   map[string]any{"error": cause.Error()},
	})
	metrics.RecordTurn("sync", "failed", 0)
}

// ProcessMessage runs one synchronous turn: record the user message,
// advance the machine, produce a reply, fire qualification side effects.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, message string) (*Result, error) {
	start := time.Now()

	release := o.locks.acquire(sessionID)
	defer release()

	sess, contextReset, err := o.beginTurn(ctx, sessionID, message)
	if err != nil {
		return nil, err
	}

	// Run the machine on a copy so a transient responder failure leaves
	// the persisted state untouched for an idempotent retry.
	work := sess.Clone()
	res, err := o.machine.Advance(work, message)
	if err != nil {
		// Corrupt state is fatal for the turn and surfaces upstream.
		return nil, err
	}

	reply := res.Reply
	transient := false
	if reply == "" {
		reply, err = o.responder.Respond(ctx, work, message)
		if err != nil {
			if errors.Is(err, responder.ErrUpstreamTimeout) || ctx.Err() == nil {
				// Transient upstream trouble: keep the user message,
				// hand back a generic retry reply.
				o.markTurnFailed(ctx, sess, err)
				reply = retryReply
				transient = true
			} else {
				return nil, err
			}
		}
	}

	var lead *model.Lead
	var notifications *model.NotificationResult
	if !transient {
		lead, notifications, err = o.finishTurn(ctx, work, reply, res)
		if err != nil {
			return nil, err
		}
		sess = work
		metrics.RecordTurn("sync", "ok", time.Since(start).Seconds())
	}

	q := phase.Qualify(sess)
	o.monitor.Record(model.MetricEvent{
		SessionID:  sessionID,
		Event:      model.EventTurnProcessed,
		Agent:      o.responder.Name(),
		DurationMs: time.Since(start).Milliseconds(),
		Payload:    map[string]any{"phase": string(sess.Phase), "transient": transient},
	})

	meta := map[string]any{
		"sessionId":    sessionID,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"messageCount": len(sess.Messages),
		"phase":        string(sess.Phase),
		"category":     responder.Categorize(message),
	}
	if contextReset {
		meta["contextReset"] = true
	}
	if transient {
		meta["transient"] = true
	}
	if lead != nil {
		meta["lead"] = lead
	}
	if notifications != nil {
		meta["emailNotifications"] = notifications
	}

	return &Result{
		Response:      reply,
		Session:       sess,
		Qualification: q,
		Metadata:      meta,
	}, nil
}

// ProcessTranscript runs one voice-channel turn. Assistant transcripts
// only update history and may trigger a UI action; user transcripts run
// the full machine.
func (o *Orchestrator) ProcessTranscript(ctx context.Context, sessionID, transcript string, role model.Role) (*TranscriptResult, error) {
	release := o.locks.acquire(sessionID)
	defer release()

	if role == model.RoleAssistant {
		sess, err := o.store.AppendMessage(ctx, sessionID, model.RoleAssistant, transcript)
		if errors.Is(err, store.ErrNotFound) {
			if ferr := o.store.Forget(ctx, sessionID); ferr != nil {
				return nil, ferr
			}
			sess, err = o.store.AppendMessage(ctx, sessionID, model.RoleAssistant, transcript)
		}
		if err != nil {
			return nil, err
		}

		ui := phase.ObserveAssistant(sess, transcript)
		if err := o.store.Put(ctx, sess); err != nil {
			return nil, err
		}
		return &TranscriptResult{
			Session:       sess,
			Qualification: phase.Qualify(sess),
			UIAction:      ui,
		}, nil
	}

	sess, _, err := o.beginTurn(ctx, sessionID, transcript)
	if err != nil {
		return nil, err
	}

	res, err := o.machine.Advance(sess, transcript)
	if err != nil {
		return nil, err
	}

	reply := res.Reply
	var lead *model.Lead
	var notifications *model.NotificationResult

	if reply != "" {
		lead, notifications, err = o.finishTurn(ctx, sess, reply, res)
		if err != nil {
			return nil, err
		}
	} else {
		// No machine override: the voice provider generates its own
		// reply, so persist the state change without an assistant turn.
		if err := o.store.Put(ctx, sess); err != nil {
			return nil, err
		}
		if res.From != res.To {
			metrics.PhaseTransitionsTotal.WithLabelValues(string(res.From), string(res.To)).Inc()
			o.monitor.Record(model.MetricEvent{
				SessionID: sess.ID,
				Event:     model.EventPhaseTransition,
				Payload:   map[string]any{"from": string(res.From), "to": string(res.To)},
			})
		}
	}

	ui := res.UIAction
	if res.To == model.PhaseCompleted && res.From != model.PhaseCompleted && ui == nil {
		ui = &model.UIAction{Type: model.UIScheduleEndCall, DelayMs: 1500}
	}

	o.monitor.Record(model.MetricEvent{
		SessionID: sessionID,
		Event:     model.EventTurnProcessed,
		Agent:     "voice",
		Payload:   map[string]any{"phase": string(sess.Phase)},
	})

	return &TranscriptResult{
		Session:       sess,
		Qualification: phase.Qualify(sess),
		UIAction:      ui,
		AIResponse:    reply,
		Lead:          lead,
		Notifications: notifications,
	}, nil
}

// StreamResponse runs one streaming turn. The user message is recorded
// synchronously; fragments flow through the callbacks; the state machine
// transition is applied only after the response completes. A cancelled
// or failed stream leaves the user message in history, appends no
// assistant message and performs no transition.
func (o *Orchestrator) StreamResponse(ctx context.Context, sessionID, message string, cb StreamCallbacks) error {
	start := time.Now()

	release := o.locks.acquire(sessionID)
	defer release()

	sess, _, err := o.beginTurn(ctx, sessionID, message)
	if err != nil {
		return o.failStream(cb, err)
	}

	// Dry-run the machine on a copy: the transition is committed only
	// after the stream completes, but a machine reply override (e.g. a
	// confirmation read-back) must be the text that gets streamed.
	work := sess.Clone()
	res, err := o.machine.Advance(work, message)
	if err != nil {
		return o.failStream(cb, err)
	}

	emit := func(token string, index int) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err := cb.OnToken(token, index); err != nil {
			return err
		}
		return nil
	}

	var full string
	if res.Reply != "" {
		full = res.Reply
		if err := streamCanned(ctx, full, emit, cb.OnPartial); err != nil {
			return o.abortStream(ctx, sess, cb, err)
		}
	} else {
		partial := ""
		full, err = o.responder.RespondStream(ctx, work, message, func(token string, index int) error {
			if err := emit(token, index); err != nil {
				return err
			}
			if cb.OnPartial != nil {
				partial += token
				return cb.OnPartial(partial)
			}
			return nil
		})
		if err != nil {
			return o.abortStream(ctx, sess, cb, err)
		}
	}

	// Commit: the dry-run copy becomes the session.
	if _, _, err := o.finishTurn(ctx, work, full, res); err != nil {
		return o.failStream(cb, err)
	}

	metrics.RecordTurn("stream", "ok", time.Since(start).Seconds())
	o.monitor.Record(model.MetricEvent{
		SessionID:  sessionID,
		Event:      model.EventTurnProcessed,
		Agent:      o.responder.Name(),
		DurationMs: time.Since(start).Milliseconds(),
		Payload:    map[string]any{"phase": string(work.Phase), "mode": "stream"},
	})

	if cb.OnComplete != nil {
		return cb.OnComplete(full, &model.StreamMetadata{
			Qualification: phase.Qualify(work),
			CustomerInfo:  work.LeadInfo,
			Phase:         work.Phase,
			Status:        work.Status,
		})
	}
	return nil
}

// abortStream handles a mid-stream production failure or caller cancel:
// the user message stays, no assistant message is appended and no
// transition runs. A cancel leaves the session untouched; a timeout
// marks the turn failed for idempotent retry; any other production
// failure marks the conversation errored.
func (o *Orchestrator) abortStream(ctx context.Context, sess *model.Session, cb StreamCallbacks, cause error) error {
	switch {
	case errors.Is(cause, context.Canceled) || ctx.Err() != nil:
		o.monitor.Record(model.MetricEvent{
			SessionID: sess.ID,
			Event:     model.EventStreamAborted,
			Level:     model.LevelWarn,
		})
		metrics.RecordTurn("stream", "aborted", 0)

	case errors.Is(cause, responder.ErrUpstreamTimeout):
		o.markTurnFailed(ctx, sess, cause)

	default:
		sess.Status = model.StatusError
		sess.LastUserTurnFailed = true
		if err := o.store.Put(ctx, sess); err != nil {
			o.logger.Error("failed to persist error status", "session_id", sess.ID, "error", err)
		}
		o.monitor.Record(model.MetricEvent{
			SessionID: sess.ID,
			Event:     model.EventTurnFailed,
			Level:     model.LevelError,
			Payload:   map[string]any{"error": cause.Error()},
		})
		metrics.RecordTurn("stream", "failed", 0)
	}

	return o.failStream(cb, cause)
}

func (o *Orchestrator) failStream(cb StreamCallbacks, err error) error {
	if cb.OnError != nil {
		cb.OnError(err)
	}
	return err
}

// streamCanned feeds a machine-generated reply through the token
// callbacks word by word so every reply path looks the same to callers.
func streamCanned(ctx context.Context, text string, emit func(string, int) error, onPartial func(string) error) error {
	partial := ""
	index := 0
	for _, token := range tokenize(text) {
		if err := emit(token, index); err != nil {
			return err
		}
		if onPartial != nil {
			partial += token
			if err := onPartial(partial); err != nil {
				return err
			}
		}
		index++
	}
	return nil
}

func tokenize(text string) []string {
	return strings.SplitAfter(text, " ")
}

// ActiveSessions lists sessions with active status, for monitoring.
func (o *Orchestrator) ActiveSessions(ctx context.Context) ([]*model.Session, error) {
	return o.store.ListActive(ctx)
}

// SyncGauges refreshes point-in-time gauges from the store.
func (o *Orchestrator) SyncGauges(ctx context.Context) {
	active, err := o.store.ListActive(ctx)
	if err != nil {
		return
	}
	metrics.SessionsActive.Set(float64(len(active)))
}
