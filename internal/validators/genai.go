// Package validators provides the input validator catalog.
//
// This file implements the optional GenAI-backed free-text validator. It is
// registered only when an OpenAI client is configured.
package validators

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/leadflowhq/leadflow/internal/genai"
)

// IntentValidatorTimeout bounds the model call so a slow integration cannot
// stall a conversation.
const IntentValidatorTimeout = 10 * time.Second

// IntentValidator classifies a free-text answer against an expected intent
// described in the step's validator options ("intent"). The model answers
// with one of:
//
//	VALID: <normalized value>
//	SUGGEST: <candidate value>
//	INVALID
//
// On any model failure the input is accepted as-is; a degraded validator
// must never stall the conversation.
type IntentValidator struct {
	client genai.ClientInterface
}

// NewIntentValidator creates a GenAI-backed validator.
func NewIntentValidator(client genai.ClientInterface) *IntentValidator {
	return &IntentValidator{client: client}
}

const intentSystemPrompt = `You validate a single user answer in a text conversation.
The expected answer intent is described below. Respond with exactly one line:
"VALID: <normalized value>" if the answer matches the intent,
"SUGGEST: <candidate>" if the answer is close to a valid value,
"INVALID" otherwise. No other text.`

// Validate implements Validator.
func (v *IntentValidator) Validate(ctx context.Context, input string, opts map[string]string) Result {
	intent := opts["intent"]
	if intent == "" {
		// Nothing to validate against; accept as-is.
		return Result{IsValid: true, Value: strings.TrimSpace(input)}
	}

	ctx, cancel := context.WithTimeout(ctx, IntentValidatorTimeout)
	defer cancel()

	userPrompt := "Expected intent: " + intent + "\nUser answer: " + input
	reply, err := v.client.GeneratePrompt(ctx, intentSystemPrompt, userPrompt)
	if err != nil {
		slog.Warn("Intent validator degraded, accepting input as-is", "error", err)
		return Result{IsValid: true, Value: strings.TrimSpace(input)}
	}

	reply = strings.TrimSpace(reply)
	switch {
	case strings.HasPrefix(reply, "VALID:"):
		value := strings.TrimSpace(strings.TrimPrefix(reply, "VALID:"))
		if value == "" {
			value = strings.TrimSpace(input)
		}
		return Result{IsValid: true, Value: value}
	case strings.HasPrefix(reply, "SUGGEST:"):
		candidate := strings.TrimSpace(strings.TrimPrefix(reply, "SUGGEST:"))
		return Result{
			Message:    "Did you mean " + candidate + "? Reply yes to confirm.",
			Suggestion: candidate,
		}
	default:
		message := optMessage(opts, "Sorry, that doesn't look like a valid answer. Please try again.")
		return Result{Message: message}
	}
}
