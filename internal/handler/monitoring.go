package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/innovoco-ai/lead-orchestrator/internal/middleware"
	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/internal/monitor"
	"github.com/innovoco-ai/lead-orchestrator/pkg/logger"
)

// MonitoringHandler serves the dashboard's observability endpoint.
type MonitoringHandler struct {
	monitor *monitor.Monitor
	logger  *logger.Logger
}

// NewMonitoringHandler creates a new monitoring handler.
func NewMonitoringHandler(mon *monitor.Monitor, log *logger.Logger) *MonitoringHandler {
	return &MonitoringHandler{
		monitor: mon,
		logger:  log,
	}
}

// Get handles GET /api/monitoring?type=... The type parameter selects
// the view: metrics, logs, session, agents, health or export.
func (h *MonitoringHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view := q.Get("type")
	if view == "" {
		view = "metrics"
	}

	switch view {
	case "metrics":
		sys, err := h.monitor.SystemMetrics(r.Context())
		if err != nil {
			h.logger.Error("failed to compute system metrics", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to compute metrics")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"metrics": sys,
		})

	case "logs":
		sessionID := q.Get("sessionId")
		if err := middleware.ValidateSessionID(sessionID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"sessionId": sessionID,
			"logs":      h.monitor.SessionLog(sessionID),
		})

	case "session":
		sessionID := q.Get("sessionId")
		if err := middleware.ValidateSessionID(sessionID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"sessionId": sessionID,
			"logs":      h.monitor.SessionLog(sessionID),
			"flow":      h.monitor.FlowVisualization(sessionID),
		})

	case "agents":
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"agents":  h.monitor.AgentMetrics(q.Get("agent")),
		})

	case "health":
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"status":         "healthy",
			"eventCount":     h.monitor.EventCount(),
			"recentSessions": h.monitor.RecentSessionIDs(10),
		})

	case "export":
		filter, err := parseLogFilter(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		exp, err := h.monitor.Export(r.Context(), filter)
		if err != nil {
			h.logger.Error("failed to export logs", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to export logs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"logs":     exp.Events,
			"sessions": exp.Sessions,
		})

	default:
		writeError(w, http.StatusBadRequest, "unknown monitoring type")
	}
}

func parseLogFilter(q map[string][]string) (model.LogFilter, error) {
	get := func(key string) string {
		if vs := q[key]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	filter := model.LogFilter{
		SessionID: get("sessionId"),
		Level:     model.LogLevel(get("level")),
		Agent:     get("agent"),
	}
	if s := get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, err
		}
		filter.Start = t
	}
	if s := get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, err
		}
		filter.End = t
	}
	return filter, nil
}

type monitoringAction struct {
	Action    string         `json:"action"`
	SessionID string         `json:"sessionId,omitempty"`
	Event     string         `json:"event,omitempty"`
	MaxAgeMs  int64          `json:"maxAgeMs,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Post handles POST /api/monitoring with {action: cleanup|track}.
func (h *MonitoringHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req monitoringAction
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "cleanup":
		maxAge := 24 * time.Hour
		if req.MaxAgeMs > 0 {
			maxAge = time.Duration(req.MaxAgeMs) * time.Millisecond
		}
		events, sessions, err := h.monitor.Cleanup(r.Context(), time.Now().Add(-maxAge))
		if err != nil {
			h.logger.Error("monitoring cleanup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "cleanup failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"eventsRemoved":   events,
			"sessionsRemoved": sessions,
		})

	case "track":
		if err := middleware.ValidateSessionID(req.SessionID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		event := req.Event
		if event == "" {
			event = model.EventCustom
		}
		h.monitor.Record(model.MetricEvent{
			SessionID: req.SessionID,
			Event:     event,
			Payload:   req.Payload,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
		})

	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}
