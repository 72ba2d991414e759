// Package model defines data structures for the lead qualification service.
package model

import (
	"time"
)

// Role represents the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Phase is a named step in the qualification state machine.
type Phase string

const (
	PhaseGreeting      Phase = "greeting"
	PhaseDiscovery     Phase = "discovery"
	PhaseQualification Phase = "qualification"
	PhaseFollowUp      Phase = "follow-up"
	PhaseCompleted     Phase = "completed"
	PhaseAbandoned     Phase = "abandoned"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseGreeting, PhaseDiscovery, PhaseQualification, PhaseFollowUp, PhaseCompleted, PhaseAbandoned:
		return true
	}
	return false
}

// Terminal reports whether the phase ends the conversation.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAbandoned
}

// ConversationStatus is the lifecycle state of a session.
type ConversationStatus string

const (
	StatusActive    ConversationStatus = "active"
	StatusCompleted ConversationStatus = "completed"
	StatusAbandoned ConversationStatus = "abandoned"
	StatusError     ConversationStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s ConversationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned || s == StatusError
}

// Message is a single conversation turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// LeadInfo holds contact and qualification fields captured from the
// conversation. Fields are optional until extracted; once set they are only
// overwritten through the machine's explicit correction path.
type LeadInfo struct {
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Company      string `json:"company,omitempty"`
	Role         string `json:"role,omitempty"`
	CompanySize  string `json:"companySize,omitempty"`
	Timeline     string `json:"timeline,omitempty"`
	Stakeholders string `json:"stakeholders,omitempty"`
	Budget       string `json:"budget,omitempty"`
	PainPoint    string `json:"painPoint,omitempty"`
}

// Qualification is derived from LeadInfo completeness, never stored.
type Qualification struct {
	IsQualified bool    `json:"isQualified"`
	Score       float64 `json:"score"`
	Tier        string  `json:"tier"`
}

// Session is one end-to-end conversation keyed by a caller-supplied ID.
type Session struct {
	ID       string    `json:"sessionId"`
	Messages []Message `json:"messages"`
	Phase    Phase     `json:"phase"`
	LeadInfo LeadInfo  `json:"leadInfo"`

	EmailConfirmed bool `json:"emailConfirmed"`
	PhoneConfirmed bool `json:"phoneConfirmed"`

	// PendingConfirm names the field awaiting a yes/no from the caller
	// ("email" or "phone"), empty otherwise.
	PendingConfirm string `json:"pendingConfirm,omitempty"`

	Status ConversationStatus `json:"conversationStatus"`

	// UnproductiveTurns counts consecutive user turns that yielded no
	// extractable field; reaching the abandonment threshold moves the
	// session to PhaseAbandoned.
	UnproductiveTurns int `json:"unproductiveTurns"`

	// LastUserTurnFailed marks that the most recent user message was
	// recorded but its assistant turn failed (timeout or upstream error).
	// A retry of the identical message must not append a duplicate.
	LastUserTurnFailed bool `json:"lastUserTurnFailed,omitempty"`

	// LeadNotified is set once the qualified lead has been handed to the
	// outbox, so re-processing cannot enqueue it twice.
	LeadNotified bool `json:"leadNotified,omitempty"`

	Provider  string    `json:"provider,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LastMessage returns the most recent turn, or nil for an empty session.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// Clone returns a deep copy so callers cannot mutate store state in place.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}
