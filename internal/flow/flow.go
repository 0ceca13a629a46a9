// Package flow implements flow definition loading and the step handlers
// that interpret a conversation flow.
//
// A flow is a directed graph of steps (message, question, options, date).
// Each step kind has one Handler implementation; the engine dispatches
// through a Registry built once at startup.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/validators"
)

// StepResult is the outcome of one handler invocation.
type StepResult struct {
	// Messages to send to the user, in order.
	Messages []string
	// WaitForUser indicates the engine should stop and wait for input.
	// When false the engine immediately processes the session's (possibly
	// updated) current step.
	WaitForUser bool
	// KeepInput tells the engine to re-deliver the same input to the next
	// step instead of continuing with no input. Used by waiting message
	// steps that pass the triggering input through to their successor.
	KeepInput bool
}

// Handler processes one step of a conversation. Implementations mutate the
// session (data bag, current step, scheduling selection) and return the
// messages to send.
type Handler interface {
	Process(ctx context.Context, step *models.Step, session *models.Session, input string, hasInput bool) (StepResult, error)
}

// AvailabilityProvider supplies the externally maintained map of date
// (YYYY-MM-DD) to available time strings consumed by date steps.
type AvailabilityProvider interface {
	Availability(ctx context.Context) (map[string][]string, error)
}

// CalendarFilter narrows a date's candidate times to those still free in
// the calendar. Used at the hours resolution.
type CalendarFilter interface {
	FilterAvailableTimes(ctx context.Context, date string, times []string) ([]string, error)
}

// Deps carries the collaborators shared by step handlers.
type Deps struct {
	Loader       *MessageLoader
	Availability AvailabilityProvider
	Calendar     CalendarFilter
	Catalog      *validators.Catalog
}

// Registry maps step kinds to handlers. It is built once at startup; there
// is no runtime registration.
type Registry struct {
	handlers map[models.StepKind]Handler
}

// NewRegistry builds the kind-to-handler table from the given dependencies.
func NewRegistry(deps Deps) *Registry {
	slog.Debug("Building step handler registry")
	return &Registry{handlers: map[models.StepKind]Handler{
		models.StepKindMessage:  &MessageHandler{loader: deps.Loader},
		models.StepKindQuestion: &QuestionHandler{loader: deps.Loader, catalog: deps.Catalog},
		models.StepKindOptions:  &OptionsHandler{loader: deps.Loader},
		models.StepKindDate:     &DateHandler{availability: deps.Availability, calendar: deps.Calendar, loader: deps.Loader},
	}}
}

// Handler returns the handler for a step kind.
func (r *Registry) Handler(kind models.StepKind) (Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for step kind %s", kind)
	}
	return h, nil
}
