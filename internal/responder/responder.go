// Package responder generates assistant replies. The state machine and
// session logic are decoupled from how replies are produced: the rule
// variant answers from a keyword table, the model variant calls an LLM.
package responder

import (
	"context"
	"strings"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/internal/phase"
)

// TokenFunc receives one response fragment during streaming.
type TokenFunc func(token string, index int) error

// Responder produces an assistant reply for the session's latest user
// message.
type Responder interface {
	// Respond returns the full reply in one shot.
	Respond(ctx context.Context, sess *model.Session, message string) (string, error)

	// RespondStream produces the reply incrementally through onToken and
	// returns the assembled text. Returning onToken's error cancels
	// production.
	RespondStream(ctx context.Context, sess *model.Session, message string, onToken TokenFunc) (string, error)

	// Name identifies the variant for monitoring.
	Name() string
}

// Category labels for the rule table, reported in response metadata.
const (
	CategoryGreeting = "greeting"
	CategoryServices = "services"
	CategoryPricing  = "pricing"
	CategoryContact  = "contact"
	CategoryAbout    = "about"
	CategoryDefault  = "default"
)

var cannedResponses = map[string]string{
	CategoryGreeting: "Hello! I'm your AI assistant from Innovoco. How can I help you transform your business with AI and automation today?",
	CategoryServices: "We offer comprehensive AI and automation solutions including process automation, data analytics, and custom AI development. Would you like to learn more about any specific area?",
	CategoryPricing:  "Our pricing is tailored to your specific needs. I'd be happy to schedule a consultation to discuss your requirements and provide a custom quote. Would you like to schedule a call?",
	CategoryContact:  "You can reach us at info@innovoco.com or schedule a consultation directly through our website.",
	CategoryAbout:    "Innovoco is a leader in enterprise AI and automation solutions. We help businesses transform their operations through cutting-edge AI technology and intelligent automation.",
	CategoryDefault:  "I understand you're interested in learning more. Could you tell me more about your specific business challenges or goals? This will help me provide more relevant information.",
}

// Categorize classifies a user message for the rule table.
func Categorize(message string) string {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "hello") || strings.Contains(lower, "hi ") || lower == "hi" || strings.Contains(lower, "hey"):
		return CategoryGreeting
	case strings.Contains(lower, "service") || strings.Contains(lower, "offer") || strings.Contains(lower, "solution"):
		return CategoryServices
	case strings.Contains(lower, "price") || strings.Contains(lower, "cost") || strings.Contains(lower, "pricing"):
		return CategoryPricing
	case strings.Contains(lower, "contact") || strings.Contains(lower, "reach") || strings.Contains(lower, "call"):
		return CategoryContact
	case strings.Contains(lower, "about") || strings.Contains(lower, "who") || strings.Contains(lower, "company"):
		return CategoryAbout
	}
	return CategoryDefault
}

// Rules answers from the canned table, then steers the conversation
// toward the next missing qualification field.
type Rules struct{}

// NewRules creates the keyword-rule responder.
func NewRules() *Rules {
	return &Rules{}
}

func (r *Rules) Name() string { return "rules" }

func (r *Rules) Respond(ctx context.Context, sess *model.Session, message string) (string, error) {
	reply := cannedResponses[Categorize(message)]

	// After the opener, keep asking for the next missing field so the
	// conversation converges on qualification.
	if next := phase.NextField(sess); next != phase.FieldNone && len(sess.Messages) > 1 {
		reply = reply + " " + phase.Prompt(next)
	}
	return reply, nil
}

func (r *Rules) RespondStream(ctx context.Context, sess *model.Session, message string, onToken TokenFunc) (string, error) {
	reply, err := r.Respond(ctx, sess, message)
	if err != nil {
		return "", err
	}

	for i, word := range splitTokens(reply) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		if err := onToken(word, i); err != nil {
			return "", err
		}
	}
	return reply, nil
}

// splitTokens chunks a canned reply into word-sized fragments so the
// rule variant exercises the same streaming path as the model variant.
func splitTokens(text string) []string {
	words := strings.SplitAfter(text, " ")
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
