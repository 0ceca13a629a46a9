package flow

import (
	"context"
	"fmt"

	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/validators"
)

// QuestionHandler prompts for free-form input and delegates validation to
// the validator catalog.
type QuestionHandler struct {
	loader  *MessageLoader
	catalog *validators.Catalog
}

// Process implements Handler.
func (h *QuestionHandler) Process(ctx context.Context, step *models.Step, session *models.Session, input string, hasInput bool) (StepResult, error) {
	if !hasInput {
		renderCtx := RenderContext(session)
		prompt := composeStepText(step, stepBody(step, h.loader), renderCtx)
		return StepResult{Messages: []string{prompt}, WaitForUser: true}, nil
	}

	// A pending suggestion from the previous turn is confirmed by an
	// affirmative answer.
	if session.PendingSuggestion != "" && validators.IsAffirmative(input) {
		value := session.PendingSuggestion
		session.PendingSuggestion = ""
		return h.accept(step, session, value)
	}

	result, err := h.catalog.Validate(ctx, step.Validator, input, step.ValidatorOpts)
	if err != nil {
		return StepResult{}, fmt.Errorf("question step %s: %w", step.ID, err)
	}
	if !result.IsValid {
		// Remember any suggestion the validator wants confirmed next turn.
		session.PendingSuggestion = result.Suggestion
		return StepResult{Messages: []string{result.Message}, WaitForUser: true}, nil
	}

	session.PendingSuggestion = ""
	return h.accept(step, session, result.Value)
}

// accept stores the validated value and advances to the next step.
func (h *QuestionHandler) accept(step *models.Step, session *models.Session, value string) (StepResult, error) {
	if step.DataKey != "" {
		if session.Data == nil {
			session.Data = make(map[string]string)
		}
		session.Data[step.DataKey] = value
	}
	if step.Next == "" {
		return StepResult{WaitForUser: true}, nil
	}
	session.CurrentStep = step.Next
	return StepResult{WaitForUser: false}, nil
}
