package flow

import (
	"context"

	"github.com/leadflowhq/leadflow/internal/models"
)

// MessageHandler renders static or file-sourced text and either waits or
// signals auto-continuation into the next step.
type MessageHandler struct {
	loader *MessageLoader
}

// Process implements Handler.
func (h *MessageHandler) Process(ctx context.Context, step *models.Step, session *models.Session, input string, hasInput bool) (StepResult, error) {
	// A waiting message step that has already been shown passes the
	// triggering input through to its successor.
	if step.WaitForUser && hasInput {
		if step.Next == "" {
			return StepResult{WaitForUser: true}, nil
		}
		session.CurrentStep = step.Next
		return StepResult{WaitForUser: false, KeepInput: true}, nil
	}

	renderCtx := RenderContext(session)
	text := composeStepText(step, stepBody(step, h.loader), renderCtx)

	result := StepResult{WaitForUser: step.WaitForUser}
	if text != "" {
		result.Messages = append(result.Messages, text)
	}
	if !step.WaitForUser && step.Next != "" {
		session.CurrentStep = step.Next
		result.WaitForUser = false
	} else if step.Next == "" {
		// Terminal step: nothing further to advance into.
		result.WaitForUser = true
	}
	return result, nil
}
