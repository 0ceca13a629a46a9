package flow

import (
	"context"
	"sort"
	"strings"

	"github.com/leadflowhq/leadflow/internal/models"
)

// OptionsHandler matches input against a table of pipe-delimited synonym
// keys and branches to the matched target.
type OptionsHandler struct {
	loader *MessageLoader
}

// Process implements Handler.
func (h *OptionsHandler) Process(ctx context.Context, step *models.Step, session *models.Session, input string, hasInput bool) (StepResult, error) {
	if !hasInput {
		renderCtx := RenderContext(session)
		text := composeStepText(step, stepBody(step, h.loader), renderCtx)
		return StepResult{Messages: []string{text}, WaitForUser: true}, nil
	}

	norm := normalizeChoice(input)
	if key, target, ok := matchOption(step.Options, norm); ok {
		if step.DataKey != "" {
			if session.Data == nil {
				session.Data = make(map[string]string)
			}
			// Store the first synonym as the canonical resolved value.
			session.Data[step.DataKey] = primarySynonym(key)
		}
		session.CurrentStep = target
		return StepResult{WaitForUser: false}, nil
	}

	// No match: compose the valid-choices message, or use the step's
	// override, and re-wait without advancing.
	message := step.InvalidMessage
	if message == "" {
		message = "Please pick one of the following options: " + strings.Join(optionKeys(step.Options), ", ")
	}
	return StepResult{Messages: []string{message}, WaitForUser: true}, nil
}

// normalizeChoice lowercases and trims an input for matching.
func normalizeChoice(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// matchOption finds the branch target for an input: exact synonym match
// first, then substring containment in either direction as a fallback.
func matchOption(options map[string]string, norm string) (key, target string, ok bool) {
	if norm == "" {
		return "", "", false
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic fallback matching

	for _, k := range keys {
		for _, syn := range strings.Split(k, "|") {
			if normalizeChoice(syn) == norm {
				return k, options[k], true
			}
		}
	}
	for _, k := range keys {
		for _, syn := range strings.Split(k, "|") {
			s := normalizeChoice(syn)
			if s == "" {
				continue
			}
			if strings.Contains(s, norm) || strings.Contains(norm, s) {
				return k, options[k], true
			}
		}
	}
	return "", "", false
}

// primarySynonym returns the first synonym of a pipe-delimited key.
func primarySynonym(key string) string {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i]
	}
	return key
}

// optionKeys lists each option's primary synonym in sorted order.
func optionKeys(options map[string]string) []string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, primarySynonym(k))
	}
	sort.Strings(keys)
	return keys
}
