package responder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/innovoco-ai/lead-orchestrator/internal/llm"
	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/internal/phase"
	"github.com/innovoco-ai/lead-orchestrator/pkg/metrics"
)

// ErrUpstreamTimeout means the model call exceeded its deadline. The turn
// is a transient failure: the user message stays recorded and an
// identical retry must not duplicate it.
var ErrUpstreamTimeout = errors.New("upstream model timeout")

const systemPromptFmt = `You are a lead qualification assistant for Innovoco, an enterprise AI consultancy.
Be concise and warm. Ask exactly one question per reply.
The next piece of information to collect from the visitor is: %s.
Information collected so far: name=%q company=%q role=%q timeline=%q budget=%q.`

// Model generates replies with an LLM behind an explicit timeout.
type Model struct {
	client  llm.Client
	model   string
	timeout time.Duration
}

// NewModel wraps an LLM client. model may be empty to use the provider
// default.
func NewModel(client llm.Client, modelName string, timeout time.Duration) *Model {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Model{client: client, model: modelName, timeout: timeout}
}

func (m *Model) Name() string { return "model:" + m.client.Name() }

func (m *Model) request(sess *model.Session) *llm.CompletionRequest {
	next := string(phase.NextField(sess))
	if next == "" {
		next = "nothing; wrap up politely"
	}

	history := make([]llm.ChatMessage, 0, len(sess.Messages))
	for _, msg := range sess.Messages {
		history = append(history, llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	return &llm.CompletionRequest{
		Model: m.model,
		System: fmt.Sprintf(systemPromptFmt, next,
			sess.LeadInfo.Name, sess.LeadInfo.Company, sess.LeadInfo.Role,
			sess.LeadInfo.Timeline, sess.LeadInfo.Budget),
		Messages:  history,
		MaxTokens: 512,
	}
}

func (m *Model) Respond(ctx context.Context, sess *model.Session, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.client.Complete(ctx, m.request(sess))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrUpstreamTimeout
		}
		return "", fmt.Errorf("model completion failed: %w", err)
	}

	metrics.RecordLLMStream(resp.Model, "success", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}

func (m *Model) RespondStream(ctx context.Context, sess *model.Session, message string, onToken TokenFunc) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.client.CompleteStream(ctx, m.request(sess), llm.StreamCallback(onToken))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrUpstreamTimeout
		}
		return "", fmt.Errorf("model stream failed: %w", err)
	}

	metrics.RecordLLMStream(resp.Model, "success", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}
