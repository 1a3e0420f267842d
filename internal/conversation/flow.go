package conversation

import (
	"strings"
	"unicode/utf8"

	"github.com/civicmesh/enroll/internal/session"

	apperrors "github.com/civicmesh/enroll/internal/platform/errors"
)

// Supporter flow states.
const (
	StateSupporterName   session.State = "SUPPORTER_NAME"
	StateSupporterCity   session.State = "SUPPORTER_CITY"
	StateSupporterEmail  session.State = "SUPPORTER_EMAIL"
	StateSupporterPhone  session.State = "SUPPORTER_PHONE"
	StateSupporterReason session.State = "SUPPORTER_REASON"
)

// Expert flow states.
const (
	StateExpertName       session.State = "EXPERT_NAME"
	StateExpertField      session.State = "EXPERT_FIELD"
	StateExpertExperience session.State = "EXPERT_EXPERIENCE"
	StateExpertPosition   session.State = "EXPERT_POSITION"
	StateExpertLinks      session.State = "EXPERT_LINKS"
	StateExpertWhy        session.State = "EXPERT_WHY"
)

// Answer field keys.
const (
	FieldSupporterName   = "supporter_name"
	FieldSupporterCity   = "supporter_city"
	FieldSupporterEmail  = "supporter_email"
	FieldSupporterPhone  = "supporter_phone"
	FieldSupporterReason = "supporter_reason"

	FieldExpertFullName   = "expert_full_name"
	FieldExpertField      = "expert_field"
	FieldExpertExperience = "expert_experience"
	FieldExpertPosition   = "expert_position"
	FieldExpertLinks      = "expert_links"
	FieldExpertWhy        = "expert_why"
)

// Choice tokens understood by the engine. They travel as opaque tokens in
// Prompt.Choices and come back verbatim as event payloads.
const (
	TokenSupporter = "supporter"
	TokenExpert    = "expert"
	TokenSkip      = "skip"
	TokenCancel    = "cancel"
)

// startCommand is the conventional first-contact payload from the chat
// transport. It is not a valid role choice but should not be scolded either.
const startCommand = "/start"

// motivationMinRunes is the minimum length for free-text motivation fields.
const motivationMinRunes = 20

// step is one row of a flow's transition table: the state, the answer field
// it fills, the prompt that asks for it, its validator, and the state that
// follows. A step with no next state is terminal.
type step struct {
	state    session.State
	field    string
	prompt   string
	validate func(string) (string, error)
	// position marks the step whose input claims a numbered position; it is
	// validated and reserved through the allocator instead of validate.
	position bool
	next     session.State
}

// supporterSteps is the supporter flow in delivery order.
var supporterSteps = []step{
	{state: StateSupporterName, field: FieldSupporterName, prompt: "supporter_name", validate: nonEmpty, next: StateSupporterCity},
	{state: StateSupporterCity, field: FieldSupporterCity, prompt: "supporter_city", validate: nonEmpty, next: StateSupporterEmail},
	{state: StateSupporterEmail, field: FieldSupporterEmail, prompt: "supporter_email", validate: emailOrSkip, next: StateSupporterPhone},
	{state: StateSupporterPhone, field: FieldSupporterPhone, prompt: "supporter_phone", validate: nonEmpty, next: StateSupporterReason},
	{state: StateSupporterReason, field: FieldSupporterReason, prompt: "supporter_reason", validate: minRunes(motivationMinRunes)},
}

// expertSteps is the expert flow in delivery order.
var expertSteps = []step{
	{state: StateExpertName, field: FieldExpertFullName, prompt: "expert_name", validate: nonEmpty, next: StateExpertField},
	{state: StateExpertField, field: FieldExpertField, prompt: "expert_field", validate: nonEmpty, next: StateExpertExperience},
	{state: StateExpertExperience, field: FieldExpertExperience, prompt: "expert_experience", validate: nonEmpty, next: StateExpertPosition},
	{state: StateExpertPosition, field: FieldExpertPosition, prompt: "expert_position", position: true, next: StateExpertLinks},
	{state: StateExpertLinks, field: FieldExpertLinks, prompt: "expert_links", validate: nonEmpty, next: StateExpertWhy},
	{state: StateExpertWhy, field: FieldExpertWhy, prompt: "expert_why", validate: minRunes(motivationMinRunes)},
}

// flowSteps indexes each flow's transition table by state.
var flowSteps = map[session.Flow]map[session.State]step{
	session.FlowSupporter: indexSteps(supporterSteps),
	session.FlowExpert:    indexSteps(expertSteps),
}

// firstState maps a flow to its opening state.
var firstState = map[session.Flow]session.State{
	session.FlowSupporter: supporterSteps[0].state,
	session.FlowExpert:    expertSteps[0].state,
}

// firstPrompt maps a flow to its opening prompt key.
var firstPrompt = map[session.Flow]string{
	session.FlowSupporter: supporterSteps[0].prompt,
	session.FlowExpert:    expertSteps[0].prompt,
}

func indexSteps(steps []step) map[session.State]step {
	indexed := make(map[session.State]step, len(steps))
	for _, s := range steps {
		indexed[s.state] = s
	}
	return indexed
}

// nonEmpty accepts any input with visible content.
func nonEmpty(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", apperrors.New(apperrors.CodeValidation, "empty answer")
	}
	return trimmed, nil
}

// minRunes accepts input of at least min runes after trimming.
func minRunes(min int) func(string) (string, error) {
	return func(input string) (string, error) {
		trimmed := strings.TrimSpace(input)
		if utf8.RuneCountInString(trimmed) < min {
			return "", apperrors.WithMetadata(apperrors.CodeValidation, "answer too short",
				map[string]string{"kind": "too_short"})
		}
		return trimmed, nil
	}
}

// emailOrSkip accepts a plausible email address or the skip token, which
// normalizes to an empty string.
func emailOrSkip(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if strings.EqualFold(trimmed, TokenSkip) {
		return "", nil
	}
	at := strings.IndexByte(trimmed, '@')
	if at <= 0 || at == len(trimmed)-1 || strings.Count(trimmed, "@") != 1 {
		return "", invalidEmail()
	}
	domain := trimmed[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", invalidEmail()
	}
	return trimmed, nil
}

func invalidEmail() error {
	return apperrors.WithMetadata(apperrors.CodeValidation, "malformed email",
		map[string]string{"kind": "invalid_email"})
}
