package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
)

func newTestSession() *model.Session {
	now := time.Now()
	return &model.Session{
		ID:        "sess-1",
		Messages:  []model.Message{},
		Phase:     model.PhaseGreeting,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// say mimics a user turn: record the message, then advance.
func say(t *testing.T, m *Machine, sess *model.Session, text string) *Result {
	t.Helper()
	sess.Messages = append(sess.Messages, model.Message{
		Role: model.RoleUser, Content: text, Timestamp: time.Now(),
	})
	res, err := m.Advance(sess, text)
	require.NoError(t, err)
	return res
}

func TestFullWalkToQualified(t *testing.T) {
	m := New()
	sess := newTestSession()

	res := say(t, m, sess, "Hi, I'm Sarah")
	assert.Equal(t, "Sarah", sess.LeadInfo.Name)
	assert.Equal(t, FieldEmail, res.Expecting)
	assert.Equal(t, Prompt(FieldEmail), res.Reply)

	res = say(t, m, sess, "sure, it's sarah@acme.com")
	assert.Equal(t, FieldEmail, res.Captured)
	assert.Equal(t, "sarah@acme.com", sess.LeadInfo.Email)
	assert.Equal(t, string(FieldEmail), sess.PendingConfirm)
	assert.Contains(t, res.Reply, "sarah@acme.com")
	require.NotNil(t, res.UIAction)
	assert.Equal(t, model.UIHideTextInput, res.UIAction.Type)

	res = say(t, m, sess, "yes")
	assert.True(t, sess.EmailConfirmed)
	assert.Empty(t, sess.PendingConfirm)
	assert.Contains(t, res.Reply, Prompt(FieldPhone))

	res = say(t, m, sess, "five five five one two three four five six seven")
	assert.Equal(t, "5551234567", sess.LeadInfo.Phone)
	assert.Contains(t, res.Reply, "(555) 123-4567")

	// Rejecting the read-back clears the field and re-requests it.
	res = say(t, m, sess, "no, that's wrong")
	assert.Empty(t, sess.LeadInfo.Phone)
	require.NotNil(t, res.UIAction)
	assert.Equal(t, model.UIShowTextInput, res.UIAction.Type)
	assert.Equal(t, "phone", res.UIAction.InputType)

	say(t, m, sess, "555-987-6543")
	assert.Equal(t, "5559876543", sess.LeadInfo.Phone)

	res = say(t, m, sess, "yep")
	assert.True(t, sess.PhoneConfirmed)
	assert.Equal(t, FieldCompany, res.Expecting)

	res = say(t, m, sess, "I work at Acme Corp")
	assert.Equal(t, "Acme Corp", sess.LeadInfo.Company)
	assert.Equal(t, model.PhaseQualification, sess.Phase)

	say(t, m, sess, "VP of Engineering")
	assert.Equal(t, "VP of Engineering", sess.LeadInfo.Role)

	say(t, m, sess, "about 200 people")
	assert.Equal(t, "about 200 people", sess.LeadInfo.CompanySize)

	say(t, m, sess, "we need this live within two months")
	assert.NotEmpty(t, sess.LeadInfo.Timeline)
	assert.NotEmpty(t, sess.LeadInfo.PainPoint)

	res = say(t, m, sess, "just me and our CEO")
	assert.Equal(t, "just me and our CEO", sess.LeadInfo.Stakeholders)
	assert.Equal(t, model.PhaseFollowUp, sess.Phase)

	res = say(t, m, sess, "around fifty thousand dollars")
	assert.Equal(t, model.PhaseCompleted, sess.Phase)
	assert.Equal(t, model.StatusCompleted, sess.Status)
	assert.True(t, res.NewlyQualified)
	assert.Contains(t, res.Reply, "Sarah")

	q := Qualify(sess)
	assert.True(t, q.IsQualified)
	assert.InDelta(t, 1.0, q.Score, 0.001)
	assert.Equal(t, model.TierHot, q.Tier)

	// Turns after completion are no-ops.
	res = say(t, m, sess, "anything else?")
	assert.Equal(t, model.PhaseCompleted, res.From)
	assert.Equal(t, model.PhaseCompleted, res.To)
	assert.False(t, res.NewlyQualified)
}

func TestMultiFieldMessageFillsCurrentSlotOnly(t *testing.T) {
	m := New()
	sess := newTestSession()

	res := say(t, m, sess, "john@abccompany.com, phone 555-123-4567")
	assert.Equal(t, FieldEmail, res.Captured)
	assert.Equal(t, "john@abccompany.com", sess.LeadInfo.Email)
	assert.Empty(t, sess.LeadInfo.Phone)
}

func TestAbandonmentAfterUnproductiveTurns(t *testing.T) {
	m := New()
	sess := newTestSession()

	say(t, m, sess, "uh")
	say(t, m, sess, "what is this")
	res := say(t, m, sess, "hm")

	assert.True(t, res.Abandoned)
	assert.Equal(t, model.PhaseAbandoned, sess.Phase)
	assert.Equal(t, model.StatusAbandoned, sess.Status)
}

func TestOnTopicQuestionsDoNotAbandon(t *testing.T) {
	m := New()
	sess := newTestSession()

	say(t, m, sess, "what services do you offer?")
	say(t, m, sess, "how much does it cost?")
	res := say(t, m, sess, "tell me more about the company")

	assert.False(t, res.Abandoned)
	assert.Equal(t, model.PhaseDiscovery, sess.Phase)
	assert.Equal(t, model.StatusActive, sess.Status)
	assert.Zero(t, sess.UnproductiveTurns)
	// No machine override: the responder answers the question.
	assert.Empty(t, res.Reply)

	res = say(t, m, sess, "sure, sarah@acme.com")
	assert.Equal(t, FieldEmail, res.Captured)
}

func TestProductiveTurnResetsAbandonCounter(t *testing.T) {
	m := New()
	sess := newTestSession()

	say(t, m, sess, "uh")
	say(t, m, sess, "what is this")
	res := say(t, m, sess, "ok, sarah@acme.com")

	assert.False(t, res.Abandoned)
	assert.Zero(t, sess.UnproductiveTurns)
}

func TestInvalidPhaseIsFatal(t *testing.T) {
	m := New()
	sess := newTestSession()
	sess.Phase = model.Phase("bogus")

	_, err := m.Advance(sess, "hi")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUnknownPendingConfirmationIsFatal(t *testing.T) {
	m := New()
	sess := newTestSession()
	sess.PendingConfirm = "company"

	_, err := m.Advance(sess, "yes")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAmbiguousConfirmationReasks(t *testing.T) {
	m := New()
	sess := newTestSession()

	say(t, m, sess, "sarah@acme.com")
	res := say(t, m, sess, "hold on a second")

	assert.Equal(t, string(FieldEmail), sess.PendingConfirm)
	assert.Contains(t, res.Reply, "sarah@acme.com")
	assert.Equal(t, 1, sess.UnproductiveTurns)
}

func TestObserveAssistant(t *testing.T) {
	sess := newTestSession()

	ui := ObserveAssistant(sess, "Could you share the best email address to reach you?")
	require.NotNil(t, ui)
	assert.Equal(t, model.UIShowTextInput, ui.Type)
	assert.Equal(t, "email", ui.InputType)

	sess.LeadInfo.Email = "sarah@acme.com"
	ui = ObserveAssistant(sess, "And what's the best phone number for you?")
	require.NotNil(t, ui)
	assert.Equal(t, "phone", ui.InputType)

	ui = ObserveAssistant(sess, "Tell me about your project.")
	assert.Nil(t, ui)
}

func TestQualifyRequiresConfirmations(t *testing.T) {
	sess := newTestSession()
	sess.LeadInfo = model.LeadInfo{
		Email: "a@b.co", Phone: "5551234567", Company: "Acme",
		Role: "CTO", CompanySize: "200", Timeline: "Q3", Budget: "50k",
	}

	assert.False(t, Qualify(sess).IsQualified)

	sess.EmailConfirmed = true
	sess.PhoneConfirmed = true
	assert.True(t, Qualify(sess).IsQualified)
}
