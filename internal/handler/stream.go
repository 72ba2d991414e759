package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/innovoco-ai/lead-orchestrator/internal/middleware"
	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/internal/orchestrator"
	"github.com/innovoco-ai/lead-orchestrator/pkg/logger"
	"github.com/innovoco-ai/lead-orchestrator/pkg/metrics"
)

// StreamHandler serves the SSE response feed on /api/stream.
type StreamHandler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(orch *orchestrator.Orchestrator, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		orchestrator: orch,
		logger:       log,
	}
}

// Stream handles POST /api/stream. The response is a data-only SSE feed
// of token, partial and complete frames, terminated by "data: [DONE]".
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateSessionID(req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher := sseHeaders(w)
	if flusher == nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	err := h.orchestrator.StreamResponse(ctx, req.SessionID, req.Message, orchestrator.StreamCallbacks{
		OnToken: func(token string, index int) error {
			chunk := index
			return sendSSEData(w, flusher, &model.StreamFrame{
				Type:    model.StreamTypeToken,
				Content: token,
				ChunkID: &chunk,
			})
		},
		OnPartial: func(partial string) error {
			return sendSSEData(w, flusher, &model.StreamFrame{
				Type:    model.StreamTypePartial,
				Content: partial,
			})
		},
		OnComplete: func(full string, meta *model.StreamMetadata) error {
			return sendSSEData(w, flusher, &model.StreamFrame{
				Type:     model.StreamTypeComplete,
				Content:  full,
				Metadata: meta,
			})
		},
		OnError: func(err error) {
			// A disconnected client cannot receive the frame; skip it.
			if ctx.Err() != nil {
				return
			}
			sendSSEData(w, flusher, &model.StreamFrame{
				Type:  model.StreamTypeError,
				Error: "stream processing failed",
			})
		},
	})

	if err != nil {
		if !errors.Is(err, ctx.Err()) {
			h.logger.Error("stream turn failed", "session_id", req.SessionID, "error", err)
		}
		// The widget reads [DONE] as a clean close; an errored turn
		// ends with the error frame instead.
		return
	}

	sendSSEDone(w, flusher)
}

// Capabilities handles GET /api/stream, the widget's feature probe.
func (h *StreamHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &model.StreamCapabilities{
		Supported: true,
		Features: model.StreamFeatures{
			TokenStreaming:   true,
			PartialResponses: true,
			Interruptions:    true,
			VoiceIntegration: true,
		},
		Runtime: "go",
	})
}
