// Package models defines flow definition structures for LeadFlow.
package models

import "fmt"

// StepKind identifies how a step is processed.
type StepKind string

const (
	// StepKindMessage sends rendered text and optionally auto-advances.
	StepKindMessage StepKind = "message"
	// StepKindQuestion prompts and validates free-form input.
	StepKindQuestion StepKind = "question"
	// StepKindOptions presents a branch table of choices.
	StepKindOptions StepKind = "options"
	// StepKindDate drills down over scheduling availability.
	StepKindDate StepKind = "date"
)

// IsValidStepKind checks if the given step kind is supported.
func IsValidStepKind(k StepKind) bool {
	switch k {
	case StepKindMessage, StepKindQuestion, StepKindOptions, StepKindDate:
		return true
	default:
		return false
	}
}

// Resolution is the granularity level used by the date step's drill-down.
type Resolution string

const (
	ResolutionMonths Resolution = "months"
	ResolutionWeeks  Resolution = "weeks"
	ResolutionDays   Resolution = "days"
	ResolutionHours  Resolution = "hours"
)

// IsValidResolution checks if the given resolution is supported.
func IsValidResolution(r Resolution) bool {
	switch r {
	case ResolutionMonths, ResolutionWeeks, ResolutionDays, ResolutionHours:
		return true
	default:
		return false
	}
}

// Step is a single node in a flow definition.
type Step struct {
	ID             string            `json:"-" yaml:"-"` // populated from the map key at load time
	Kind           StepKind          `json:"kind" yaml:"kind"`
	Header         string            `json:"header,omitempty" yaml:"header,omitempty"`
	Body           string            `json:"body,omitempty" yaml:"body,omitempty"`
	Footer         string            `json:"footer,omitempty" yaml:"footer,omitempty"`
	BodyFile       string            `json:"body_file,omitempty" yaml:"body_file,omitempty"` // externally stored text
	Next           string            `json:"next,omitempty" yaml:"next,omitempty"`
	WaitForUser    bool              `json:"wait_for_user,omitempty" yaml:"wait_for_user,omitempty"`
	Block          bool              `json:"block,omitempty" yaml:"block,omitempty"`
	Freeze         bool              `json:"freeze,omitempty" yaml:"freeze,omitempty"`
	SkipIfDisabled string            `json:"skip_if_disabled,omitempty" yaml:"skip_if_disabled,omitempty"`
	DataKey        string            `json:"data_key,omitempty" yaml:"data_key,omitempty"`
	Validator      string            `json:"validator,omitempty" yaml:"validator,omitempty"`
	ValidatorOpts  map[string]string `json:"validator_options,omitempty" yaml:"validator_options,omitempty"`
	InvalidMessage string            `json:"invalid_message,omitempty" yaml:"invalid_message,omitempty"` // step-specific no-match override
	Options        map[string]string `json:"options,omitempty" yaml:"options,omitempty"`                 // pipe-delimited synonyms -> target step
	Resolution     Resolution        `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Limit          int               `json:"limit,omitempty" yaml:"limit,omitempty"`
	StartFromToday bool              `json:"start_from_today,omitempty" yaml:"start_from_today,omitempty"`
	BackTarget     string            `json:"back_target,omitempty" yaml:"back_target,omitempty"`
}

// FlowDefinition is the declarative graph of steps driving a conversation.
// It is read-only at runtime.
type FlowDefinition struct {
	Start string           `json:"start" yaml:"start"`
	Steps map[string]*Step `json:"steps" yaml:"steps"`
}

// Validate checks structural invariants of the flow definition: a start
// step must exist, every step kind must be known, and every next, branch,
// back, and skip target must reference an existing step.
func (f *FlowDefinition) Validate() error {
	if len(f.Steps) == 0 {
		return ErrNoFlowSteps
	}
	if f.Start == "" {
		return ErrEmptyFlowStart
	}
	if _, ok := f.Steps[f.Start]; !ok {
		return fmt.Errorf("%w: start step %q not defined", ErrDanglingTarget, f.Start)
	}
	for id, step := range f.Steps {
		if !IsValidStepKind(step.Kind) {
			return fmt.Errorf("%w: step %q has kind %q", ErrUnknownStepKind, id, step.Kind)
		}
		if step.Kind == StepKindQuestion && step.Validator == "" {
			return fmt.Errorf("%w: step %q", ErrMissingValidator, id)
		}
		if step.Kind == StepKindDate && !IsValidResolution(step.Resolution) {
			return fmt.Errorf("step %q has invalid resolution %q", id, step.Resolution)
		}
		if err := f.checkTarget(id, "next", step.Next); err != nil {
			return err
		}
		if err := f.checkTarget(id, "back_target", step.BackTarget); err != nil {
			return err
		}
		if err := f.checkTarget(id, "skip_if_disabled", step.SkipIfDisabled); err != nil {
			return err
		}
		for key, target := range step.Options {
			if err := f.checkTarget(id, "option "+key, target); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *FlowDefinition) checkTarget(stepID, field, target string) error {
	if target == "" {
		return nil
	}
	if _, ok := f.Steps[target]; !ok {
		return fmt.Errorf("%w: step %q %s -> %q", ErrDanglingTarget, stepID, field, target)
	}
	return nil
}

// Step returns the step with the given identifier, or nil.
func (f *FlowDefinition) Step(id string) *Step {
	return f.Steps[id]
}
