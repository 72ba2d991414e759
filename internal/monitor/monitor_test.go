package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/internal/store"
	"github.com/innovoco-ai/lead-orchestrator/pkg/logger"
)

func newTestMonitor(t *testing.T) (*Monitor, store.Store) {
	t.Helper()
	sessions := store.NewMemory()
	return New(sessions, nil, logger.NewNop()), sessions
}

func TestRecordAssignsDefaults(t *testing.T) {
	m, _ := newTestMonitor(t)

	m.Record(model.MetricEvent{SessionID: "s1", Event: model.EventTurnProcessed})

	events := m.SessionLog("s1")
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, model.LevelInfo, events[0].Level)
}

func TestSystemMetricsMath(t *testing.T) {
	ctx := context.Background()
	m, sessions := newTestMonitor(t)

	mk := func(id string, status model.ConversationStatus) {
		sess, err := sessions.CreateOrGet(ctx, id)
		require.NoError(t, err)
		sess.Status = status
		require.NoError(t, sessions.Put(ctx, sess))
	}

	mk("a", model.StatusActive)
	mk("b", model.StatusCompleted)
	mk("c", model.StatusCompleted)
	mk("d", model.StatusAbandoned)
	mk("e", model.StatusError)

	sm, err := m.SystemMetrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, sm.TotalSessions)
	assert.Equal(t, 1, sm.ActiveSessions)
	assert.Equal(t, 2, sm.CompletedSessions)
	assert.InDelta(t, 0.2, sm.ErrorRate, 0.001)
	// 2 completed out of 3 closed conversations.
	assert.InDelta(t, 2.0/3.0, sm.ConversionRate, 0.001)
}

func TestExportLogsFilter(t *testing.T) {
	m, _ := newTestMonitor(t)

	m.Record(model.MetricEvent{SessionID: "s1", Event: "a", Agent: "rules"})
	m.Record(model.MetricEvent{SessionID: "s2", Event: "b", Agent: "rules", Level: model.LevelError})
	m.Record(model.MetricEvent{SessionID: "s1", Event: "c", Agent: "voice"})

	bySession := m.ExportLogs(model.LogFilter{SessionID: "s1"})
	require.Len(t, bySession, 2)
	assert.Equal(t, "a", bySession[0].Event)
	assert.Equal(t, "c", bySession[1].Event)

	byLevel := m.ExportLogs(model.LogFilter{Level: model.LevelError})
	require.Len(t, byLevel, 1)
	assert.Equal(t, "s2", byLevel[0].SessionID)

	byAgent := m.ExportLogs(model.LogFilter{Agent: "voice"})
	require.Len(t, byAgent, 1)

	until := m.ExportLogs(model.LogFilter{End: time.Now().Add(-time.Minute)})
	assert.Empty(t, until)
}

func TestExportRecomputeRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, sessions := newTestMonitor(t)

	mk := func(id string, status model.ConversationStatus) {
		sess, err := sessions.CreateOrGet(ctx, id)
		require.NoError(t, err)
		sess.Status = status
		require.NoError(t, sessions.Put(ctx, sess))
	}

	mk("a", model.StatusActive)
	mk("b", model.StatusCompleted)
	mk("c", model.StatusAbandoned)
	mk("d", model.StatusError)

	m.Record(model.MetricEvent{SessionID: "a", Event: model.EventTurnProcessed})
	m.Record(model.MetricEvent{SessionID: "b", Event: model.EventTurnProcessed})

	live, err := m.SystemMetrics(ctx)
	require.NoError(t, err)

	exp, err := m.Export(ctx, model.LogFilter{})
	require.NoError(t, err)
	require.Len(t, exp.Events, 2)
	require.Len(t, exp.Sessions, 4)

	recomputed := ComputeSystemMetrics(exp.Sessions)
	assert.Equal(t, live.TotalSessions, recomputed.TotalSessions)
	assert.Equal(t, live.ActiveSessions, recomputed.ActiveSessions)
	assert.Equal(t, live.CompletedSessions, recomputed.CompletedSessions)
	assert.InDelta(t, live.AverageDurationMs, recomputed.AverageDurationMs, 0.001)
	assert.InDelta(t, live.ErrorRate, recomputed.ErrorRate, 0.001)
	assert.InDelta(t, live.ConversionRate, recomputed.ConversionRate, 0.001)
}

func TestAgentMetrics(t *testing.T) {
	m, _ := newTestMonitor(t)

	m.Record(model.MetricEvent{SessionID: "s1", Event: "t", Agent: "rules", DurationMs: 10})
	m.Record(model.MetricEvent{SessionID: "s1", Event: "t", Agent: "rules", DurationMs: 30})
	m.Record(model.MetricEvent{SessionID: "s2", Event: "t", Agent: "voice", DurationMs: 5})

	all := m.AgentMetrics("")
	require.Len(t, all, 2)
	assert.Equal(t, 2, all["rules"].Calls)
	assert.InDelta(t, 20.0, all["rules"].AvgDurationMs, 0.001)

	one := m.AgentMetrics("voice")
	require.Len(t, one, 1)
	assert.Equal(t, 1, one["voice"].Calls)
}

func TestFlowVisualization(t *testing.T) {
	m, _ := newTestMonitor(t)

	m.Record(model.MetricEvent{
		SessionID: "s1", Event: model.EventPhaseTransition,
		Payload: map[string]any{"from": "greeting", "to": "discovery"},
	})
	m.Record(model.MetricEvent{
		SessionID: "s1", Event: model.EventPhaseTransition,
		Payload: map[string]any{"from": "discovery", "to": "qualification"},
	})
	m.Record(model.MetricEvent{SessionID: "s1", Event: model.EventTurnProcessed})

	viz := m.FlowVisualization("s1")
	require.Len(t, viz.Nodes, 3)
	require.Len(t, viz.Edges, 2)
	assert.Equal(t, "greeting", viz.Edges[0].From)
	assert.Equal(t, "discovery", viz.Edges[0].To)
	assert.Equal(t, "qualification", viz.Edges[1].To)
}

func TestCleanupSparesActiveSessionEvents(t *testing.T) {
	ctx := context.Background()
	m, sessions := newTestMonitor(t)

	_, err := sessions.CreateOrGet(ctx, "live")
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	m.Record(model.MetricEvent{SessionID: "live", Event: "t", Timestamp: old})
	m.Record(model.MetricEvent{SessionID: "gone", Event: "t", Timestamp: old})
	m.Record(model.MetricEvent{SessionID: "gone", Event: "t"})

	eventsRemoved, _, err := m.Cleanup(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 1, eventsRemoved)
	assert.Len(t, m.SessionLog("live"), 1)
	assert.Len(t, m.SessionLog("gone"), 1)
	assert.Equal(t, 2, m.EventCount())
}

func TestRecentSessionIDs(t *testing.T) {
	m, _ := newTestMonitor(t)

	m.Record(model.MetricEvent{SessionID: "s1", Event: "t", Timestamp: time.Now().Add(-2 * time.Minute)})
	m.Record(model.MetricEvent{SessionID: "s2", Event: "t", Timestamp: time.Now().Add(-time.Minute)})
	m.Record(model.MetricEvent{SessionID: "s3", Event: "t"})

	ids := m.RecentSessionIDs(2)
	require.Len(t, ids, 2)
	assert.Equal(t, "s3", ids[0])
	assert.Equal(t, "s2", ids[1])
}
