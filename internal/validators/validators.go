// Package validators provides the input validator catalog consumed by
// question steps.
//
// The catalog is an explicit object constructed at startup and injected
// into the engine; question steps reference validators by name and are
// agnostic to which validators exist.
package validators

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Result is the outcome of validating one input.
type Result struct {
	IsValid bool
	// Value is the normalized value to store when IsValid is true.
	Value string
	// Message is the user-facing rejection message when IsValid is false.
	Message string
	// Suggestion, when non-empty on an invalid result, is a candidate value
	// the user can confirm with an affirmative answer on the next turn.
	Suggestion string
}

// Validator validates a single user input against step-supplied options.
type Validator interface {
	Validate(ctx context.Context, input string, opts map[string]string) Result
}

// Func adapts a plain function to the Validator interface.
type Func func(ctx context.Context, input string, opts map[string]string) Result

// Validate implements Validator.
func (f Func) Validate(ctx context.Context, input string, opts map[string]string) Result {
	return f(ctx, input, opts)
}

// Catalog maps validator names to implementations.
type Catalog struct {
	validators map[string]Validator
}

// NewCatalog creates a catalog pre-populated with the built-in validators.
func NewCatalog() *Catalog {
	c := &Catalog{validators: make(map[string]Validator)}
	c.Register("text", Func(validateText))
	c.Register("number", Func(validateNumber))
	c.Register("email", Func(validateEmail))
	c.Register("phone", Func(validatePhone))
	c.Register("yesno", Func(validateYesNo))
	c.Register("choice", Func(validateChoice))
	return c
}

// Register adds or replaces a validator under the given name.
func (c *Catalog) Register(name string, v Validator) {
	c.validators[name] = v
}

// Validate runs the named validator. An unknown validator name is a
// configuration problem and is reported as an error, not a Result.
func (c *Catalog) Validate(ctx context.Context, name, input string, opts map[string]string) (Result, error) {
	v, ok := c.validators[name]
	if !ok {
		slog.Error("Validator not found in catalog", "name", name)
		return Result{}, fmt.Errorf("validator %q not registered", name)
	}
	return v.Validate(ctx, input, opts), nil
}

// Has reports whether a validator is registered under the given name.
func (c *Catalog) Has(name string) bool {
	_, ok := c.validators[name]
	return ok
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func optMessage(opts map[string]string, fallback string) string {
	if m := opts["message"]; m != "" {
		return m
	}
	return fallback
}

func validateText(_ context.Context, input string, opts map[string]string) Result {
	input = strings.TrimSpace(input)
	if input == "" {
		return Result{Message: optMessage(opts, "Please enter a value.")}
	}
	if min := opts["min_length"]; min != "" {
		if n, err := strconv.Atoi(min); err == nil && len([]rune(input)) < n {
			return Result{Message: optMessage(opts, fmt.Sprintf("Please enter at least %d characters.", n))}
		}
	}
	if max := opts["max_length"]; max != "" {
		if n, err := strconv.Atoi(max); err == nil && len([]rune(input)) > n {
			return Result{Message: optMessage(opts, fmt.Sprintf("Please enter at most %d characters.", n))}
		}
	}
	return Result{IsValid: true, Value: input}
}

func validateNumber(_ context.Context, input string, opts map[string]string) Result {
	input = strings.TrimSpace(input)
	n, err := strconv.Atoi(input)
	if err != nil {
		return Result{Message: optMessage(opts, "Please enter a number.")}
	}
	if min := opts["min"]; min != "" {
		if lo, err := strconv.Atoi(min); err == nil && n < lo {
			return Result{Message: optMessage(opts, fmt.Sprintf("Please enter a number of at least %d.", lo))}
		}
	}
	if max := opts["max"]; max != "" {
		if hi, err := strconv.Atoi(max); err == nil && n > hi {
			return Result{Message: optMessage(opts, fmt.Sprintf("Please enter a number of at most %d.", hi))}
		}
	}
	return Result{IsValid: true, Value: strconv.Itoa(n)}
}

func validateEmail(_ context.Context, input string, opts map[string]string) Result {
	input = strings.TrimSpace(input)
	if !emailPattern.MatchString(input) {
		return Result{Message: optMessage(opts, "Please enter a valid email address.")}
	}
	return Result{IsValid: true, Value: strings.ToLower(input)}
}

func validatePhone(_ context.Context, input string, opts map[string]string) Result {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	digits := strings.TrimPrefix(cleaned, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return Result{Message: optMessage(opts, "Please enter a valid phone number.")}
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return Result{Message: optMessage(opts, "Please enter a valid phone number.")}
		}
	}
	return Result{IsValid: true, Value: cleaned}
}

// affirmatives are answers accepted as confirmation of a pending suggestion.
var affirmatives = []string{"yes", "y", "yeah", "yep", "sure", "ok", "okay", "כן"}

// IsAffirmative reports whether an input confirms a pending suggestion.
func IsAffirmative(input string) bool {
	input = strings.ToLower(strings.TrimSpace(input))
	for _, a := range affirmatives {
		if input == a {
			return true
		}
	}
	return false
}

func validateYesNo(_ context.Context, input string, opts map[string]string) Result {
	norm := strings.ToLower(strings.TrimSpace(input))
	if IsAffirmative(norm) {
		return Result{IsValid: true, Value: "yes"}
	}
	switch norm {
	case "no", "n", "nope", "לא":
		return Result{IsValid: true, Value: "no"}
	}
	return Result{Message: optMessage(opts, "Please answer yes or no.")}
}

// validateChoice matches input against a comma-separated list in
// opts["choices"]. A near miss (edit distance 1-2) is returned as a
// suggestion the user can confirm on the next turn.
func validateChoice(_ context.Context, input string, opts map[string]string) Result {
	choices := strings.Split(opts["choices"], ",")
	norm := strings.ToLower(strings.TrimSpace(input))
	if norm == "" || len(choices) == 0 {
		return Result{Message: optMessage(opts, "Please pick one of the available choices.")}
	}

	best := ""
	bestDist := -1
	for _, raw := range choices {
		choice := strings.TrimSpace(raw)
		if choice == "" {
			continue
		}
		lower := strings.ToLower(choice)
		if lower == norm {
			return Result{IsValid: true, Value: choice}
		}
		d := editDistance(norm, lower)
		if bestDist == -1 || d < bestDist {
			best, bestDist = choice, d
		}
	}
	if bestDist >= 1 && bestDist <= 2 {
		return Result{
			Message:    fmt.Sprintf("Did you mean %q? Reply yes to confirm.", best),
			Suggestion: best,
		}
	}
	valid := make([]string, 0, len(choices))
	for _, raw := range choices {
		if c := strings.TrimSpace(raw); c != "" {
			valid = append(valid, c)
		}
	}
	return Result{Message: optMessage(opts, "Valid choices are: "+strings.Join(valid, ", "))}
}

// editDistance computes the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func minInt(nums ...int) int {
	m := nums[0]
	for _, n := range nums[1:] {
		if n < m {
			m = n
		}
	}
	return m
}
