package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/innovoco-ai/lead-orchestrator/internal/middleware"
	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/internal/orchestrator"
	"github.com/innovoco-ai/lead-orchestrator/internal/phase"
	"github.com/innovoco-ai/lead-orchestrator/internal/store"
	"github.com/innovoco-ai/lead-orchestrator/pkg/logger"
)

// SyncHandler serves the voice-channel transcript endpoint.
type SyncHandler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *logger.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(orch *orchestrator.Orchestrator, log *logger.Logger) *SyncHandler {
	return &SyncHandler{
		orchestrator: orch,
		logger:       log,
	}
}

func syncState(sess *model.Session) model.SyncState {
	return model.SyncState{
		CurrentPhase:   sess.Phase,
		EmailConfirmed: sess.EmailConfirmed,
		PhoneConfirmed: sess.PhoneConfirmed,
		IsQualified:    phase.Qualify(sess).IsQualified,
		LeadInfo:       sess.LeadInfo,
	}
}

// Sync handles POST /api/realtime/sync. User transcripts run a full
// turn; assistant transcripts only update history and UI state.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateSessionID(req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(req.Transcript); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	role := req.Role
	if role == "" {
		role = model.RoleUser
	}
	if role != model.RoleUser && role != model.RoleAssistant {
		writeError(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}

	if req.Provider != "" {
		if _, err := h.orchestrator.StartSession(ctx, req.SessionID, req.Provider); err != nil {
			h.logger.Error("failed to start session", "session_id", req.SessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to process transcript")
			return
		}
	}

	res, err := h.orchestrator.ProcessTranscript(ctx, req.SessionID, req.Transcript, role)
	if err != nil {
		if errors.Is(err, phase.ErrInvalidState) {
			writeError(w, http.StatusConflict, "session state is invalid")
			return
		}
		h.logger.Error("transcript turn failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process transcript")
		return
	}

	writeJSON(w, http.StatusOK, &model.SyncResponse{
		Success:            true,
		SessionID:          req.SessionID,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		State:              syncState(res.Session),
		UIAction:           res.UIAction,
		AIResponse:         res.AIResponse,
		LeadData:           res.Lead,
		EmailNotifications: res.Notifications,
	})
}

// State handles GET /api/realtime/sync?sessionId=... for dashboard polls.
func (h *SyncHandler) State(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.orchestrator.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	writeJSON(w, http.StatusOK, &model.SyncResponse{
		Success:   true,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		State:     syncState(sess),
	})
}

// Clear handles DELETE /api/realtime/sync?sessionId=..., removing the
// session. Idempotent.
func (h *SyncHandler) Clear(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.orchestrator.ClearSession(r.Context(), sessionID); err != nil {
		h.logger.Error("failed to clear session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": sessionID,
	})
}
