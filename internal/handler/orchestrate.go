package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/innovoco-ai/lead-orchestrator/internal/middleware"
	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/internal/orchestrator"
	"github.com/innovoco-ai/lead-orchestrator/internal/phase"
	"github.com/innovoco-ai/lead-orchestrator/pkg/logger"
)

// OrchestrateHandler serves the one-shot text endpoint.
type OrchestrateHandler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *logger.Logger
}

// NewOrchestrateHandler creates a new orchestrate handler.
func NewOrchestrateHandler(orch *orchestrator.Orchestrator, log *logger.Logger) *OrchestrateHandler {
	return &OrchestrateHandler{
		orchestrator: orch,
		logger:       log,
	}
}

// Orchestrate handles POST /api/orchestrate. A missing sessionId starts
// a fresh conversation.
func (h *OrchestrateHandler) Orchestrate(w http.ResponseWriter, r *http.Request) {
	var req model.OrchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.Must(uuid.NewV7()).String()
	} else if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.orchestrator.ProcessMessage(r.Context(), sessionID, req.Message)
	if err != nil {
		if errors.Is(err, phase.ErrInvalidState) {
			writeError(w, http.StatusConflict, "session state is invalid")
			return
		}
		h.logger.Error("orchestrate turn failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, &model.OrchestrateResponse{
		Response:  res.Response,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata:  res.Metadata,
	})
}

// Status handles GET /api/orchestrate, a lightweight service probe.
func (h *OrchestrateHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "lead-orchestrator",
		"status":  "operational",
	})
}
