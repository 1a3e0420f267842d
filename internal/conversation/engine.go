// Package conversation drives the registration state machines.
//
// The engine consumes one inbound event at a time per user, advances that
// user's flow, and emits the next prompt. Table writes happen only at a
// position selection and at a flow's terminal state.
package conversation

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/civicmesh/enroll/internal/platform/metrics"
	"github.com/civicmesh/enroll/internal/positions"
	"github.com/civicmesh/enroll/internal/session"
	"github.com/civicmesh/enroll/internal/tablestore"

	apperrors "github.com/civicmesh/enroll/internal/platform/errors"
)

// Event is one inbound user message or choice, keyed by a stable user
// identifier and a transport-unique event identifier.
type Event struct {
	UserID      int64  `json:"user_id"`
	EventID     string `json:"event_id"`
	Payload     string `json:"payload"`
	DisplayName string `json:"display_name,omitempty"`
	Username    string `json:"username,omitempty"`
	Deeplink    string `json:"deeplink,omitempty"`
}

// Prompt is the engine's reply to one event.
type Prompt struct {
	UserID  int64    `json:"user_id"`
	Text    string   `json:"text"`
	Choices []string `json:"choices,omitempty"`
}

// ErrDuplicateEvent indicates a redelivered event that was already handled.
// The caller should emit nothing.
var ErrDuplicateEvent = apperrors.New(apperrors.CodeDuplicateEvent, "duplicate event delivery")

// Engine walks users through the supporter and expert registration flows.
type Engine struct {
	sessions  *session.Store
	tables    *tablestore.Store
	allocator *positions.Allocator
	catalog   *Catalog
	metrics   *metrics.Metrics
	clock     func() time.Time
}

// NewEngine creates an Engine with the given collaborators.
func NewEngine(sessions *session.Store, tables *tablestore.Store, allocator *positions.Allocator, catalog *Catalog, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Engine{
		sessions:  sessions,
		tables:    tables,
		allocator: allocator,
		catalog:   catalog,
		metrics:   m,
		clock:     time.Now,
	}
}

// WithClock overrides the engine clock. Intended for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// HandleEvent processes one inbound event and returns the prompt to send.
// Events for the same user are serialized; a redelivery of the last handled
// event returns ErrDuplicateEvent with no side effects.
func (e *Engine) HandleEvent(ctx context.Context, event Event) (Prompt, error) {
	var prompt Prompt
	err := e.sessions.WithUser(event.UserID, func() error {
		record := e.sessions.GetOrCreate(event.UserID, event.DisplayName, event.Username, event.Deeplink)
		if event.EventID != "" && record.LastEventID == event.EventID {
			return ErrDuplicateEvent
		}

		var handleErr error
		prompt, handleErr = e.handle(ctx, record, event)
		e.sessions.Update(event.UserID, func(r *session.Record) {
			r.LastEventID = event.EventID
		})
		return handleErr
	})
	if err != nil {
		return Prompt{}, err
	}
	return prompt, nil
}

// handle dispatches one event against the session's current flow.
func (e *Engine) handle(ctx context.Context, record session.Record, event Event) (Prompt, error) {
	payload := strings.TrimSpace(event.Payload)

	// An explicit cancel ends the flow without any table writes.
	if strings.EqualFold(payload, TokenCancel) {
		e.sessions.ClearFlow(record.UserID)
		return e.prompt(record.UserID, "cancelled"), nil
	}

	if record.Flow == session.FlowNone {
		return e.handleRoleChoice(record, payload), nil
	}

	current, ok := flowSteps[record.Flow][record.State]
	if !ok {
		// A session restored from an incompatible snapshot can land here;
		// restart the conversation rather than wedge the user.
		log.Printf("invalid session state user_id=%d flow=%s state=%s", record.UserID, record.Flow, record.State)
		e.sessions.ClearFlow(record.UserID)
		return e.prompt(record.UserID, "choose_role"), nil
	}

	if current.position {
		return e.handlePosition(ctx, record, current, payload)
	}

	value, err := current.validate(payload)
	if err != nil {
		return e.correction(record.UserID, err, current), nil
	}
	return e.advance(ctx, record, current, value)
}

// handleRoleChoice accepts exactly the two role tokens; anything else
// re-emits the role prompt without a state change.
func (e *Engine) handleRoleChoice(record session.Record, payload string) Prompt {
	var flow session.Flow
	switch strings.ToLower(payload) {
	case TokenSupporter:
		flow = session.FlowSupporter
	case TokenExpert:
		flow = session.FlowExpert
	default:
		text := e.catalog.Text("choose_role")
		if payload != "" && !strings.HasPrefix(payload, startCommand) {
			text = e.catalog.Text("invalid_role") + "\n\n" + text
		}
		return Prompt{UserID: record.UserID, Text: text, Choices: e.catalog.Choices("choose_role")}
	}

	e.sessions.Update(record.UserID, func(r *session.Record) {
		r.Flow = flow
		r.State = firstState[flow]
	})
	return e.prompt(record.UserID, firstPrompt[flow])
}

// handlePosition validates a position number and eagerly reserves it. The
// reservation commits at selection time, before the flow completes; an
// abandoned conversation keeps its position until an explicit admin reset.
func (e *Engine) handlePosition(ctx context.Context, record session.Record, current step, payload string) (Prompt, error) {
	positionID, err := strconv.Atoi(payload)
	if err != nil || positionID <= 0 {
		return e.correctionKey(record.UserID, "invalid_position", current), nil
	}

	if err := e.allocator.Assign(ctx, positionID, record.UserID, e.clock()); err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodePositionNotFound:
			return e.correctionKey(record.UserID, "position_unknown", current), nil
		case apperrors.CodePositionConflict:
			return e.correctionKey(record.UserID, "position_taken", current), nil
		default:
			log.Printf("assign position user_id=%d position=%d err=%v", record.UserID, positionID, err)
			return e.prompt(record.UserID, "remote_retry"), nil
		}
	}
	return e.advance(ctx, record, current, strconv.Itoa(positionID))
}

// advance stores the validated answer, moves to the next state, and emits
// its prompt; the last step of a flow finalizes instead.
func (e *Engine) advance(ctx context.Context, record session.Record, current step, value string) (Prompt, error) {
	e.sessions.Update(record.UserID, func(r *session.Record) {
		r.Answers[current.field] = value
		if current.next != session.StateNone {
			r.State = current.next
		}
	})

	if current.next != session.StateNone {
		next := flowSteps[record.Flow][current.next]
		return e.prompt(record.UserID, next.prompt), nil
	}
	return e.finalize(ctx, record.UserID, record.Flow)
}

// finalize assembles and appends the completed records. The flow is cleared
// only after every required append committed, so a remote failure leaves the
// user able to retry the terminal step.
func (e *Engine) finalize(ctx context.Context, userID int64, flow session.Flow) (Prompt, error) {
	record, ok := e.sessions.Get(userID)
	if !ok {
		return Prompt{}, apperrors.New(apperrors.CodeFlowStateInvalid, "finalize without session")
	}
	now := e.clock().UTC()

	switch flow {
	case session.FlowSupporter:
		user := supporterUserRecord(record, now)
		if prompt, committed := e.appendUserRow(ctx, record, user); !committed {
			return prompt, nil
		}
		e.metrics.Registrations.WithLabelValues(string(session.FlowSupporter)).Inc()
		e.sessions.ClearFlow(userID)
		return e.prompt(userID, "supporter_done"), nil

	case session.FlowExpert:
		user := expertUserRecord(record, now)
		if prompt, committed := e.appendUserRow(ctx, record, user); !committed {
			return prompt, nil
		}
		expert := expertRecord(record, now)
		if err := e.tables.Append(ctx, tablestore.TableExperts, expert.Row()); err != nil {
			log.Printf("append expert row user_id=%d err=%v", userID, err)
			return e.prompt(userID, "remote_retry"), nil
		}
		e.metrics.Registrations.WithLabelValues(string(session.FlowExpert)).Inc()
		e.sessions.ClearFlow(userID)
		return e.prompt(userID, "expert_done"), nil
	}
	return Prompt{}, apperrors.New(apperrors.CodeFlowStateInvalid, "finalize without flow")
}

// appendUserRow commits the user row once per flow. The session marker makes
// a retried terminal step skip an already-committed append, so a failure on
// a later write never duplicates the user row.
func (e *Engine) appendUserRow(ctx context.Context, record session.Record, user tablestore.UserRecord) (Prompt, bool) {
	if record.UserRowAppended {
		return Prompt{}, true
	}
	if err := e.tables.Append(ctx, tablestore.TableUsers, user.Row()); err != nil {
		log.Printf("append user row user_id=%d err=%v", record.UserID, err)
		return e.prompt(record.UserID, "remote_retry"), false
	}
	e.sessions.Update(record.UserID, func(r *session.Record) {
		r.UserRowAppended = true
	})
	return Prompt{}, true
}

// prompt builds the catalog prompt for a key.
func (e *Engine) prompt(userID int64, key string) Prompt {
	return Prompt{UserID: userID, Text: e.catalog.Text(key), Choices: e.catalog.Choices(key)}
}

// correction re-emits the step's prompt prefixed with the validation error's
// correction text.
func (e *Engine) correction(userID int64, err error, current step) Prompt {
	kind := ""
	if appErr, ok := err.(*apperrors.Error); ok {
		kind = appErr.Metadata["kind"]
	}
	if kind == "" {
		return e.prompt(userID, current.prompt)
	}
	return e.correctionKey(userID, kind, current)
}

// correctionKey re-emits the step's prompt prefixed with the named
// correction text.
func (e *Engine) correctionKey(userID int64, key string, current step) Prompt {
	return Prompt{
		UserID:  userID,
		Text:    e.catalog.Text(key) + "\n\n" + e.catalog.Text(current.prompt),
		Choices: e.catalog.Choices(current.prompt),
	}
}

// supporterUserRecord assembles the Users row for a completed supporter flow.
func supporterUserRecord(record session.Record, now time.Time) tablestore.UserRecord {
	return tablestore.UserRecord{
		ID:         record.UserID,
		Name:       record.Answers[FieldSupporterName],
		Username:   record.Username,
		Role:       tablestore.RoleSupporter,
		City:       record.Answers[FieldSupporterCity],
		Email:      record.Answers[FieldSupporterEmail],
		Phone:      record.Answers[FieldSupporterPhone],
		Reason:     record.Answers[FieldSupporterReason],
		ReferrerID: parseReferrer(record.Deeplink),
		CreatedAt:  now,
	}
}

// expertUserRecord assembles the Users row for a completed expert flow.
func expertUserRecord(record session.Record, now time.Time) tablestore.UserRecord {
	return tablestore.UserRecord{
		ID:         record.UserID,
		Name:       record.Answers[FieldExpertFullName],
		Username:   record.Username,
		Role:       tablestore.RoleExpert,
		ReferrerID: parseReferrer(record.Deeplink),
		CreatedAt:  now,
	}
}

// expertRecord assembles the Experts row for a completed expert flow.
func expertRecord(record session.Record, now time.Time) tablestore.ExpertRecord {
	positionID, _ := strconv.Atoi(record.Answers[FieldExpertPosition])
	return tablestore.ExpertRecord{
		UserID:     record.UserID,
		FullName:   record.Answers[FieldExpertFullName],
		Field:      record.Answers[FieldExpertField],
		Experience: record.Answers[FieldExpertExperience],
		PositionID: positionID,
		Links:      record.Answers[FieldExpertLinks],
		Motivation: record.Answers[FieldExpertWhy],
		CreatedAt:  now,
		Status:     tablestore.ExpertStatusPending,
	}
}

// parseReferrer extracts a referrer user id from a deeplink parameter.
// Accepted shapes are a bare integer or one prefixed with "ref_".
func parseReferrer(deeplink string) int64 {
	trimmed := strings.TrimSpace(deeplink)
	trimmed = strings.TrimPrefix(trimmed, "ref_")
	if trimmed == "" {
		return 0
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
