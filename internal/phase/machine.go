// Package phase implements the lead qualification state machine. The
// transition function is pure over the session value: callers own locking
// and persistence.
package phase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
)

// ErrInvalidState means the stored phase or confirmation marker is outside
// the known set. Fatal for the turn; never silently defaulted.
var ErrInvalidState = errors.New("invalid session state")

// DefaultAbandonThreshold is how many consecutive unproductive user turns
// move a session to the abandoned phase.
const DefaultAbandonThreshold = 3

// Field is one slot of lead information the machine collects.
type Field string

const (
	FieldEmail        Field = "email"
	FieldPhone        Field = "phone"
	FieldCompany      Field = "company"
	FieldRole         Field = "role"
	FieldCompanySize  Field = "companySize"
	FieldTimeline     Field = "timeline"
	FieldStakeholders Field = "stakeholders"
	FieldBudget       Field = "budget"

	// FieldNone means every slot is filled.
	FieldNone Field = ""
)

// fieldOrder is the fixed capture priority. One field per turn: a message
// supplying several fields at once only fills the current expected slot,
// keeping the one-question-per-turn conversational cadence.
var fieldOrder = []Field{
	FieldEmail,
	FieldPhone,
	FieldCompany,
	FieldRole,
	FieldCompanySize,
	FieldTimeline,
	FieldStakeholders,
	FieldBudget,
}

// prompts ask for each field, used for re-prompting and by the rule-based
// responder.
var prompts = map[Field]string{
	FieldEmail:        "Could you share the best email address to reach you?",
	FieldPhone:        "Great. And what's the best phone number to reach you?",
	FieldCompany:      "Which company are you with?",
	FieldRole:         "What's your role there?",
	FieldCompanySize:  "Roughly how large is your team or company?",
	FieldTimeline:     "What timeline are you working with for this project?",
	FieldStakeholders: "Who else would be involved in this decision?",
	FieldBudget:       "Do you have a budget range in mind?",
}

// Prompt returns the question that asks for the given field.
func Prompt(f Field) string {
	return prompts[f]
}

// Machine holds the tunable parts of the transition function.
type Machine struct {
	AbandonThreshold int
}

// New returns a machine with default thresholds.
func New() *Machine {
	return &Machine{AbandonThreshold: DefaultAbandonThreshold}
}

// Result describes what one transition did.
type Result struct {
	From model.Phase
	To   model.Phase

	// Captured names the field filled this turn, FieldNone otherwise.
	Captured Field

	// Expecting is the next field the conversation should ask for.
	Expecting Field

	// Reply, when non-empty, overrides the responder's output (used for
	// confirmation read-backs and closings).
	Reply string

	// UIAction, when set, tells the voice widget to change its input.
	UIAction *model.UIAction

	// NewlyQualified is true only on the transition where qualification
	// first became true.
	NewlyQualified bool

	// Abandoned is true on the transition into the abandoned phase.
	Abandoned bool
}

// FieldValue reads the slot value from lead info.
func FieldValue(info *model.LeadInfo, f Field) string {
	switch f {
	case FieldEmail:
		return info.Email
	case FieldPhone:
		return info.Phone
	case FieldCompany:
		return info.Company
	case FieldRole:
		return info.Role
	case FieldCompanySize:
		return info.CompanySize
	case FieldTimeline:
		return info.Timeline
	case FieldStakeholders:
		return info.Stakeholders
	case FieldBudget:
		return info.Budget
	}
	return ""
}

func setFieldValue(info *model.LeadInfo, f Field, v string) {
	switch f {
	case FieldEmail:
		info.Email = v
	case FieldPhone:
		info.Phone = v
	case FieldCompany:
		info.Company = v
	case FieldRole:
		info.Role = v
	case FieldCompanySize:
		info.CompanySize = v
	case FieldTimeline:
		info.Timeline = v
	case FieldStakeholders:
		info.Stakeholders = v
	case FieldBudget:
		info.Budget = v
	}
}

// NextField returns the first missing slot in priority order.
func NextField(sess *model.Session) Field {
	for _, f := range fieldOrder {
		if FieldValue(&sess.LeadInfo, f) == "" {
			return f
		}
	}
	return FieldNone
}

// PhaseFor maps the next expected field to the coarse conversation phase.
func PhaseFor(f Field) model.Phase {
	switch f {
	case FieldEmail, FieldPhone:
		return model.PhaseDiscovery
	case FieldCompany, FieldRole, FieldCompanySize, FieldTimeline:
		return model.PhaseQualification
	case FieldStakeholders, FieldBudget:
		return model.PhaseFollowUp
	case FieldNone:
		return model.PhaseCompleted
	}
	return model.PhaseDiscovery
}

// Qualify computes the derived qualification from field completeness.
// Email, phone, company, role, size, timeline and budget are required;
// name, stakeholders and pain point raise the score and tier.
func Qualify(sess *model.Session) model.Qualification {
	info := &sess.LeadInfo
	required := []string{
		info.Email, info.Phone, info.Company, info.Role,
		info.CompanySize, info.Timeline, info.Budget,
	}
	optional := []string{info.Name, info.Stakeholders, info.PainPoint}

	filled := 0
	for _, v := range required {
		if v != "" {
			filled++
		}
	}
	qualified := filled == len(required) && sess.EmailConfirmed && sess.PhoneConfirmed

	for _, v := range optional {
		if v != "" {
			filled++
		}
	}
	score := float64(filled) / float64(len(required)+len(optional))

	tier := model.TierNurture
	switch {
	case qualified && score >= 0.9:
		tier = model.TierHot
	case qualified || score >= 0.7:
		tier = model.TierWarm
	}

	return model.Qualification{IsQualified: qualified, Score: score, Tier: tier}
}

// ProjectLead builds the notification payload from a qualified session.
func ProjectLead(sess *model.Session, id string) *model.Lead {
	q := Qualify(sess)
	return &model.Lead{
		ID:                 id,
		SessionID:          sess.ID,
		Name:               sess.LeadInfo.Name,
		Email:              sess.LeadInfo.Email,
		Phone:              sess.LeadInfo.Phone,
		Company:            sess.LeadInfo.Company,
		Role:               sess.LeadInfo.Role,
		CompanySize:        sess.LeadInfo.CompanySize,
		Timeline:           sess.LeadInfo.Timeline,
		Budget:             sess.LeadInfo.Budget,
		Stakeholders:       sess.LeadInfo.Stakeholders,
		PainPoint:          sess.LeadInfo.PainPoint,
		QualificationScore: q.Score,
		Tier:               q.Tier,
		QualifiedAt:        time.Now(),
	}
}

// Advance runs one user turn through the machine and mutates sess. The
// returned Result reports what happened; the caller persists sess.
func (m *Machine) Advance(sess *model.Session, text string) (*Result, error) {
	if !sess.Phase.Valid() {
		return nil, fmt.Errorf("%w: unknown phase %q", ErrInvalidState, sess.Phase)
	}

	res := &Result{From: sess.Phase, To: sess.Phase, Expecting: NextField(sess)}

	if sess.Phase.Terminal() || sess.Status.Terminal() {
		return res, nil
	}

	wasQualified := Qualify(sess).IsQualified

	// A pending confirmation intercepts the turn before slot filling.
	if sess.PendingConfirm != "" {
		if err := m.resolveConfirmation(sess, text, res); err != nil {
			return nil, err
		}
	} else {
		m.fillSlot(sess, text, res)
	}

	captureContext(sess, text)

	next := NextField(sess)
	res.Expecting = next

	if sess.PendingConfirm == "" && next == FieldNone && sess.EmailConfirmed && sess.PhoneConfirmed {
		sess.Phase = model.PhaseCompleted
		sess.Status = model.StatusCompleted
	} else if res.Captured != FieldNone || (sess.Phase == model.PhaseGreeting && len(sess.Messages) > 0) {
		sess.Phase = PhaseFor(next)
		if sess.PendingConfirm != "" {
			// Stay in discovery while the contact field awaits a yes/no.
			sess.Phase = model.PhaseDiscovery
		}
	}

	if sess.UnproductiveTurns >= m.AbandonThreshold {
		sess.Phase = model.PhaseAbandoned
		sess.Status = model.StatusAbandoned
		res.Abandoned = true
	}

	res.To = sess.Phase
	res.NewlyQualified = !wasQualified && Qualify(sess).IsQualified
	return res, nil
}

// resolveConfirmation handles the yes/no turn after an email or phone
// capture. A rejection clears the field and re-requests it; anything
// ambiguous re-asks and counts as unproductive.
func (m *Machine) resolveConfirmation(sess *model.Session, text string, res *Result) error {
	pending := sess.PendingConfirm

	switch {
	case IsAffirmative(text):
		switch pending {
		case string(FieldEmail):
			sess.EmailConfirmed = true
		case string(FieldPhone):
			sess.PhoneConfirmed = true
		default:
			return fmt.Errorf("%w: unknown pending confirmation %q", ErrInvalidState, pending)
		}
		sess.PendingConfirm = ""
		sess.UnproductiveTurns = 0
		res.Captured = Field(pending)
		if next := NextField(sess); next != FieldNone {
			res.Reply = "Perfect! " + Prompt(next)
			if next == FieldPhone {
				res.UIAction = &model.UIAction{Type: model.UIShowTextInput, InputType: "phone"}
			}
		} else {
			res.Reply = closingReply(sess)
			res.UIAction = &model.UIAction{Type: model.UIScheduleEndCall, DelayMs: 1500}
		}

	case IsNegative(text):
		f := Field(pending)
		setFieldValue(&sess.LeadInfo, f, "")
		sess.PendingConfirm = ""
		sess.UnproductiveTurns = 0
		inputType := string(f)
		res.Reply = fmt.Sprintf("No problem! Let me get the correct %s. %s", f, Prompt(f))
		res.UIAction = &model.UIAction{Type: model.UIShowTextInput, InputType: inputType}

	default:
		sess.UnproductiveTurns++
		res.Reply = confirmPrompt(sess, Field(pending))
	}
	return nil
}

// fillSlot attempts to extract the current expected field only.
func (m *Machine) fillSlot(sess *model.Session, text string, res *Result) {
	// Name is taken opportunistically before the slot machine engages.
	if sess.LeadInfo.Name == "" {
		if name := ExtractName(text); name != "" {
			sess.LeadInfo.Name = name
		}
	}

	expected := NextField(sess)
	if expected == FieldNone {
		return
	}

	var value string
	switch expected {
	case FieldEmail:
		value = ExtractEmail(text)
	case FieldPhone:
		value = ExtractPhone(text)
	case FieldCompany:
		if value = ExtractCompany(text); value == "" {
			value = freeTextValue(text)
		}
	default:
		value = freeTextValue(text)
	}

	if value == "" {
		if RecognizesIntent(text) {
			// An on-topic question: the responder answers it, and the
			// next prompt re-asks for the slot.
			return
		}
		sess.UnproductiveTurns++
		res.Reply = Prompt(expected)
		return
	}

	setFieldValue(&sess.LeadInfo, expected, value)
	sess.UnproductiveTurns = 0
	res.Captured = expected

	switch expected {
	case FieldEmail:
		sess.PendingConfirm = string(FieldEmail)
		res.Reply = fmt.Sprintf("Awesome! Just to confirm, your email is %s, correct?", value)
		res.UIAction = &model.UIAction{Type: model.UIHideTextInput}
	case FieldPhone:
		sess.PendingConfirm = string(FieldPhone)
		res.Reply = fmt.Sprintf("Just to confirm, your number is %s, correct?", FormatPhone(value))
		res.UIAction = &model.UIAction{Type: model.UIHideTextInput}
	default:
		if next := NextField(sess); next != FieldNone {
			res.Reply = Prompt(next)
		} else {
			res.Reply = closingReply(sess)
		}
	}
}

// ObserveAssistant inspects an assistant transcript (voice channel) and
// returns a UI action when the assistant just asked for a typed field.
func ObserveAssistant(sess *model.Session, text string) *model.UIAction {
	lower := strings.ToLower(text)

	if sess.PendingConfirm != "" || sess.Phase.Terminal() {
		return nil
	}

	switch NextField(sess) {
	case FieldEmail:
		if strings.Contains(lower, "email") || strings.Contains(lower, "e-mail") ||
			strings.Contains(lower, "reach you") || strings.Contains(lower, "contact you") {
			return &model.UIAction{Type: model.UIShowTextInput, InputType: "email"}
		}
	case FieldPhone:
		if strings.Contains(lower, "phone") || strings.Contains(lower, "number") ||
			strings.Contains(lower, "reach you") {
			return &model.UIAction{Type: model.UIShowTextInput, InputType: "phone"}
		}
	}
	return nil
}

// captureContext opportunistically records pain-point language without
// consuming the turn's expected slot.
func captureContext(sess *model.Session, text string) {
	if sess.LeadInfo.PainPoint == "" && MentionsPainPoint(text) {
		sess.LeadInfo.PainPoint = strings.TrimSpace(text)
	}
}

// freeTextValue accepts a short free-text answer as a slot value. Very
// short or clearly non-responsive answers do not count.
func freeTextValue(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 {
		return ""
	}
	lower := strings.ToLower(trimmed)
	switch lower {
	case "i don't know", "dont know", "not sure", "no idea", "um", "uh", "hmm", "what", "huh":
		return ""
	}
	return trimmed
}

func confirmPrompt(sess *model.Session, f Field) string {
	switch f {
	case FieldEmail:
		return fmt.Sprintf("Just to confirm, your email is %s, correct?", sess.LeadInfo.Email)
	case FieldPhone:
		return fmt.Sprintf("Just to confirm, your number is %s, correct?", FormatPhone(sess.LeadInfo.Phone))
	}
	return ""
}

func closingReply(sess *model.Session) string {
	need := "your data and AI needs"
	if sess.LeadInfo.PainPoint != "" {
		need = sess.LeadInfo.PainPoint
	}
	if sess.LeadInfo.Name != "" {
		return fmt.Sprintf("Awesome, thank you for your time %s! Our team will reach out shortly to discuss %s. Have a great day!", sess.LeadInfo.Name, need)
	}
	return fmt.Sprintf("Awesome, thank you for your time! Our team will reach out shortly to discuss %s. Have a great day!", need)
}
