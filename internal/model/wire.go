package model

// Wire types for the public API surfaces. Field names are load-bearing:
// existing voice-widget and dashboard callers depend on them exactly as
// written, so they must not be renamed.

// SyncRequest is the inbound transcript payload on POST /api/realtime/sync.
type SyncRequest struct {
	SessionID  string         `json:"sessionId"`
	Transcript string         `json:"transcript"`
	Role       Role           `json:"role"`
	Timestamp  string         `json:"timestamp,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SyncState is the state block returned by the sync endpoint.
type SyncState struct {
	CurrentPhase   Phase    `json:"currentPhase"`
	EmailConfirmed bool     `json:"emailConfirmed"`
	PhoneConfirmed bool     `json:"phoneConfirmed"`
	IsQualified    bool     `json:"isQualified"`
	LeadInfo       LeadInfo `json:"leadInfo"`
}

// UIAction tells the voice widget to change its input surface.
type UIAction struct {
	Type      string `json:"type"`
	InputType string `json:"inputType,omitempty"`
	DelayMs   int    `json:"delay,omitempty"`
}

// UI action types emitted by the state machine.
const (
	UIShowTextInput   = "show_text_input"
	UIHideTextInput   = "hide_text_input"
	UIScheduleEndCall = "schedule_end_call"
	UIEndCall         = "end_call"
)

// SyncResponse is the full response of POST /api/realtime/sync.
type SyncResponse struct {
	Success            bool                `json:"success"`
	SessionID          string              `json:"sessionId"`
	Timestamp          string              `json:"timestamp"`
	State              SyncState           `json:"state"`
	UIAction           *UIAction           `json:"uiAction,omitempty"`
	AIResponse         string              `json:"aiResponse,omitempty"`
	LeadData           *Lead               `json:"leadData,omitempty"`
	EmailNotifications *NotificationResult `json:"emailNotifications,omitempty"`
}

// StreamRequest is the body of POST /api/stream.
type StreamRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Mode      string `json:"mode,omitempty"`
}

// Stream frame types carried in the SSE data payload.
const (
	StreamTypeToken    = "token"
	StreamTypePartial  = "partial"
	StreamTypeComplete = "complete"
	StreamTypeError    = "error"
)

// StreamFrame is one SSE data payload on /api/stream. The stream is
// terminated by a literal "[DONE]" sentinel frame.
type StreamFrame struct {
	Type     string          `json:"type"`
	Content  string          `json:"content,omitempty"`
	ChunkID  *int            `json:"chunkId,omitempty"`
	Metadata *StreamMetadata `json:"metadata,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// StreamMetadata rides on the terminal "complete" frame.
type StreamMetadata struct {
	Qualification Qualification      `json:"qualification"`
	CustomerInfo  LeadInfo           `json:"customerInfo"`
	Phase         Phase              `json:"phase"`
	Status        ConversationStatus `json:"status"`
}

// StreamCapabilities answers the GET /api/stream probe.
type StreamCapabilities struct {
	Supported bool           `json:"supported"`
	Features  StreamFeatures `json:"features"`
	Runtime   string         `json:"runtime"`
}

type StreamFeatures struct {
	TokenStreaming   bool `json:"tokenStreaming"`
	PartialResponses bool `json:"partialResponses"`
	Interruptions    bool `json:"interruptions"`
	VoiceIntegration bool `json:"voiceIntegration"`
}

// OrchestrateRequest is the body of POST /api/orchestrate.
type OrchestrateRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"sessionId,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// OrchestrateResponse is the one-shot reply of POST /api/orchestrate.
type OrchestrateResponse struct {
	Response  string         `json:"response"`
	SessionID string         `json:"sessionId"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
