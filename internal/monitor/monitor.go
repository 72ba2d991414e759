// Package monitor records per-session and per-agent events and computes
// system metrics on demand. The event log is append-only: events are never
// mutated after Record, only bulk-deleted by age-based cleanup.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/internal/store"
	"github.com/innovoco-ai/lead-orchestrator/pkg/logger"
	"github.com/innovoco-ai/lead-orchestrator/pkg/metrics"
)

// Publisher mirrors events to a durable stream for off-process inspection.
// Best-effort: publish failures are logged and dropped.
type Publisher interface {
	PublishMetricEvent(ctx context.Context, ev *model.MetricEvent) error
}

// Monitor is the in-process metrics sink. Writes take the lock only for
// the append itself, so concurrent metric queries never stall a turn.
type Monitor struct {
	mu     sync.RWMutex
	events []model.MetricEvent

	sessions  store.Store
	publisher Publisher
	logger    *logger.Logger
}

// New creates a sink backed by the given session store for session-level
// aggregates. publisher may be nil.
func New(sessions store.Store, publisher Publisher, log *logger.Logger) *Monitor {
	return &Monitor{
		sessions:  sessions,
		publisher: publisher,
		logger:    log,
	}
}

// Record appends one event. Append is atomic per event and never fails;
// a failed mirror publish loses only the off-process copy.
func (m *Monitor) Record(ev model.MetricEvent) {
	if ev.ID == "" {
		ev.ID = uuid.Must(uuid.NewV7()).String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Level == "" {
		ev.Level = model.LevelInfo
	}

	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()

	metrics.MonitorEventsTotal.WithLabelValues(ev.Event, string(ev.Level)).Inc()

	if m.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.publisher.PublishMetricEvent(ctx, &ev); err != nil {
			m.logger.Warn("failed to mirror metric event", "error", err)
		}
	}
}

// SystemMetrics computes aggregates on read from the session store.
// errorRate = error sessions / total; conversionRate = completed
// (qualified) / (completed + abandoned).
func (m *Monitor) SystemMetrics(ctx context.Context) (*model.SystemMetrics, error) {
	sessions, err := m.sessions.List(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeSystemMetrics(sessions), nil
}

// ComputeSystemMetrics derives the aggregate numbers from a session
// snapshot. Exported so exported logs can be re-aggregated offline.
func ComputeSystemMetrics(sessions []*model.Session) *model.SystemMetrics {
	sm := &model.SystemMetrics{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var durationSum float64
	var errored, abandoned int
	for _, sess := range sessions {
		sm.TotalSessions++
		switch sess.Status {
		case model.StatusActive:
			sm.ActiveSessions++
		case model.StatusCompleted:
			sm.CompletedSessions++
			durationSum += float64(sess.UpdatedAt.Sub(sess.CreatedAt).Milliseconds())
		case model.StatusAbandoned:
			abandoned++
		case model.StatusError:
			errored++
		}
	}

	if sm.CompletedSessions > 0 {
		sm.AverageDurationMs = durationSum / float64(sm.CompletedSessions)
	}
	if sm.TotalSessions > 0 {
		sm.ErrorRate = float64(errored) / float64(sm.TotalSessions)
	}
	if closed := sm.CompletedSessions + abandoned; closed > 0 {
		sm.ConversionRate = float64(sm.CompletedSessions) / float64(closed)
	}
	return sm
}

// AgentMetrics aggregates call counts and average durations per agent.
// With a name, only that agent is returned.
func (m *Monitor) AgentMetrics(agent string) map[string]model.AgentMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type acc struct {
		calls int
		total int64
	}
	byAgent := make(map[string]*acc)
	for _, ev := range m.events {
		if ev.Agent == "" {
			continue
		}
		if agent != "" && ev.Agent != agent {
			continue
		}
		a := byAgent[ev.Agent]
		if a == nil {
			a = &acc{}
			byAgent[ev.Agent] = a
		}
		a.calls++
		a.total += ev.DurationMs
	}

	out := make(map[string]model.AgentMetrics, len(byAgent))
	for name, a := range byAgent {
		am := model.AgentMetrics{Calls: a.calls}
		if a.calls > 0 {
			am.AvgDurationMs = float64(a.total) / float64(a.calls)
		}
		out[name] = am
	}
	return out
}

// SessionLog returns the ordered event sequence for one session.
func (m *Monitor) SessionLog(sessionID string) []model.MetricEvent {
	return m.ExportLogs(model.LogFilter{SessionID: sessionID})
}

// Export bundles the filtered event log with a session snapshot, so the
// live aggregates can be recomputed offline from the exported data alone.
type Export struct {
	Events   []model.MetricEvent `json:"events"`
	Sessions []*model.Session    `json:"sessions"`
}

// Export returns the exportable view for the filter. The session snapshot
// is unfiltered: aggregates span every session regardless of which events
// the filter keeps.
func (m *Monitor) Export(ctx context.Context, filter model.LogFilter) (*Export, error) {
	sessions, err := m.sessions.List(ctx)
	if err != nil {
		return nil, err
	}
	return &Export{Events: m.ExportLogs(filter), Sessions: sessions}, nil
}

// ExportLogs returns a copy of all events matching the filter, in append
// order.
func (m *Monitor) ExportLogs(filter model.LogFilter) []model.MetricEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.MetricEvent
	for _, ev := range m.events {
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// FlowVisualization renders one session's phase transitions as a graph
// for the monitoring dashboard.
func (m *Monitor) FlowVisualization(sessionID string) *model.FlowVisualization {
	events := m.SessionLog(sessionID)

	viz := &model.FlowVisualization{
		Nodes:    []model.FlowNode{},
		Edges:    []model.FlowEdge{},
		Metadata: map[string]any{"sessionId": sessionID},
	}

	seen := make(map[string]bool)
	addNode := func(id string) {
		if !seen[id] {
			seen[id] = true
			viz.Nodes = append(viz.Nodes, model.FlowNode{ID: id, Label: id})
		}
	}

	for _, ev := range events {
		if ev.Event != model.EventPhaseTransition {
			continue
		}
		from, _ := ev.Payload["from"].(string)
		to, _ := ev.Payload["to"].(string)
		if from == "" || to == "" || from == to {
			continue
		}
		addNode(from)
		addNode(to)
		viz.Edges = append(viz.Edges, model.FlowEdge{From: from, To: to})
	}
	return viz
}

// Cleanup deletes events older than the cutoff, except events belonging
// to sessions that are still active, and sweeps terminal sessions from
// the store. Active sessions are never deleted regardless of age.
func (m *Monitor) Cleanup(ctx context.Context, olderThan time.Time) (eventsRemoved, sessionsRemoved int, err error) {
	active := make(map[string]bool)
	if sessions, lerr := m.sessions.ListActive(ctx); lerr == nil {
		for _, sess := range sessions {
			active[sess.ID] = true
		}
	}

	m.mu.Lock()
	kept := m.events[:0]
	for _, ev := range m.events {
		if ev.Timestamp.Before(olderThan) && !active[ev.SessionID] {
			eventsRemoved++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	m.mu.Unlock()

	sessionsRemoved, err = m.sessions.Sweep(ctx, olderThan)
	return eventsRemoved, sessionsRemoved, err
}

// EventCount returns how many events are currently retained.
func (m *Monitor) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// RecentSessionIDs lists distinct session IDs seen in the log, most
// recent first, capped at limit.
func (m *Monitor) RecentSessionIDs(limit int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	last := make(map[string]time.Time)
	for _, ev := range m.events {
		if ev.SessionID != "" {
			last[ev.SessionID] = ev.Timestamp
		}
	}

	ids := make([]string, 0, len(last))
	for id := range last {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return last[ids[i]].After(last[ids[j]]) })

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
