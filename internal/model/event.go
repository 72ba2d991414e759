package model

import (
	"time"
)

// LogLevel classifies monitoring events.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Monitoring event kinds recorded by the sink.
const (
	EventSessionStarted  = "session_started"
	EventTurnProcessed   = "turn_processed"
	EventPhaseTransition = "phase_transition"
	EventTurnFailed      = "turn_failed"
	EventStreamAborted   = "stream_aborted"
	EventLeadQualified   = "lead_qualified"
	EventLeadNotified    = "lead_notified"
	EventSessionCleared  = "session_cleared"
	EventCustom          = "custom"
)

// MetricEvent is an immutable record appended to the monitoring log.
// Never mutated after append; only bulk-deleted by age-based cleanup.
type MetricEvent struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionId"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      LogLevel       `json:"level"`
	Agent      string         `json:"agent,omitempty"`
	Event      string         `json:"event"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// SystemMetrics are aggregates computed on read from the event log and
// session store, never cached.
type SystemMetrics struct {
	TotalSessions     int     `json:"totalSessions"`
	ActiveSessions    int     `json:"activeSessions"`
	CompletedSessions int     `json:"completedSessions"`
	AverageDurationMs float64 `json:"averageDurationMs"`
	ErrorRate         float64 `json:"errorRate"`
	ConversionRate    float64 `json:"conversionRate"`
	Timestamp         string  `json:"timestamp"`
}

// AgentMetrics summarizes activity attributed to one named agent.
type AgentMetrics struct {
	Calls         int     `json:"calls"`
	AvgDurationMs float64 `json:"avgDuration"`
}

// LogFilter selects events for export.
type LogFilter struct {
	SessionID string
	Level     LogLevel
	Agent     string
	Start     time.Time
	End       time.Time
}

// Matches reports whether the event passes every set filter field.
func (f LogFilter) Matches(ev MetricEvent) bool {
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if f.Level != "" && ev.Level != f.Level {
		return false
	}
	if f.Agent != "" && ev.Agent != f.Agent {
		return false
	}
	if !f.Start.IsZero() && ev.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && ev.Timestamp.After(f.End) {
		return false
	}
	return true
}

// FlowNode and FlowEdge describe a session's phase progression for the
// monitoring session view.
type FlowNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type FlowEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FlowVisualization is the graph rendering of one session's transitions.
type FlowVisualization struct {
	Nodes    []FlowNode     `json:"nodes"`
	Edges    []FlowEdge     `json:"edges"`
	Metadata map[string]any `json:"metadata"`
}
