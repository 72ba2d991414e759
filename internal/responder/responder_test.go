package responder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/internal/phase"
)

func TestCategorize(t *testing.T) {
	assert.Equal(t, CategoryGreeting, Categorize("Hello there"))
	assert.Equal(t, CategoryGreeting, Categorize("hi"))
	assert.Equal(t, CategoryServices, Categorize("what services do you offer?"))
	assert.Equal(t, CategoryPricing, Categorize("how much does it cost?"))
	assert.Equal(t, CategoryContact, Categorize("how do I contact you"))
	assert.Equal(t, CategoryAbout, Categorize("tell me about the company"))
	assert.Equal(t, CategoryDefault, Categorize("we sell furniture"))
}

func TestRulesRespondAsksForNextField(t *testing.T) {
	r := NewRules()
	sess := &model.Session{
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "hello"},
			{Role: model.RoleAssistant, Content: "Hello!"},
			{Role: model.RoleUser, Content: "what services do you offer?"},
		},
	}

	reply, err := r.Respond(context.Background(), sess, "what services do you offer?")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(reply, phase.Prompt(phase.FieldEmail)))
}

func TestRulesRespondOpenerHasNoFieldPrompt(t *testing.T) {
	r := NewRules()
	sess := &model.Session{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hello"}},
	}

	reply, err := r.Respond(context.Background(), sess, "hello")
	require.NoError(t, err)
	assert.Equal(t, cannedResponses[CategoryGreeting], reply)
}

func TestRulesRespondStream(t *testing.T) {
	r := NewRules()
	sess := &model.Session{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hello"}},
	}

	var assembled strings.Builder
	var lastIndex int
	full, err := r.RespondStream(context.Background(), sess, "hello", func(token string, index int) error {
		assembled.WriteString(token)
		lastIndex = index
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, full, assembled.String())
	assert.Greater(t, lastIndex, 0)
}

func TestRulesRespondStreamCallbackErrorCancels(t *testing.T) {
	r := NewRules()
	sess := &model.Session{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hello"}},
	}

	boom := errors.New("client went away")
	_, err := r.RespondStream(context.Background(), sess, "hello", func(token string, index int) error {
		if index >= 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestRulesRespondStreamHonorsContext(t *testing.T) {
	r := NewRules()
	sess := &model.Session{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hello"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.RespondStream(ctx, sess, "hello", func(token string, index int) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
