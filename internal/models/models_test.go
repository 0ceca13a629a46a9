package models

import (
	"errors"
	"testing"
)

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain digits", "15551234567", "15551234567", nil},
		{"leading plus", "+15551234567", "15551234567", nil},
		{"whatsapp jid suffix", "15551234567@s.whatsapp.net", "15551234567", nil},
		{"surrounding whitespace", "  15551234567 ", "15551234567", nil},
		{"broadcast pseudo-address", "status@broadcast", "", ErrBroadcastSender},
		{"other broadcast", "1234567890@broadcast", "", ErrBroadcastSender},
		{"empty", "", "", ErrInvalidIdentity},
		{"too short", "123456", "", ErrInvalidIdentity},
		{"too long", "1234567890123456", "", ErrInvalidIdentity},
		{"letters", "call-me-maybe", "", ErrInvalidIdentity},
		{"digits with letters", "555phone", "", ErrInvalidIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateIdentity(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateIdentity(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ValidateIdentity(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func validDefinition() *FlowDefinition {
	return &FlowDefinition{
		Start: "intro",
		Steps: map[string]*Step{
			"intro": {ID: "intro", Kind: StepKindMessage, Body: "hi", Next: "ask"},
			"ask": {
				ID: "ask", Kind: StepKindQuestion, Body: "name?",
				Validator: "text", DataKey: "name", Next: "menu", WaitForUser: true,
			},
			"menu": {
				ID: "menu", Kind: StepKindOptions, Body: "pick",
				Options: map[string]string{"1|book": "slot"}, WaitForUser: true,
			},
			"slot": {
				ID: "slot", Kind: StepKindDate, Body: "when?",
				Resolution: ResolutionDays, WaitForUser: true,
			},
		},
	}
}

func TestFlowDefinitionValidate(t *testing.T) {
	if err := validDefinition().Validate(); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}

	t.Run("missing start", func(t *testing.T) {
		def := validDefinition()
		def.Start = "nowhere"
		if err := def.Validate(); err == nil {
			t.Error("expected error for missing start step")
		}
	})

	t.Run("empty steps", func(t *testing.T) {
		def := &FlowDefinition{Start: "intro"}
		if err := def.Validate(); err == nil {
			t.Error("expected error for empty step table")
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		def := validDefinition()
		def.Steps["intro"].Kind = "teleport"
		if err := def.Validate(); !errors.Is(err, ErrUnknownStepKind) {
			t.Errorf("expected ErrUnknownStepKind, got %v", err)
		}
	})

	t.Run("dangling next", func(t *testing.T) {
		def := validDefinition()
		def.Steps["intro"].Next = "nowhere"
		if err := def.Validate(); !errors.Is(err, ErrDanglingTarget) {
			t.Errorf("expected ErrDanglingTarget, got %v", err)
		}
	})

	t.Run("dangling branch target", func(t *testing.T) {
		def := validDefinition()
		def.Steps["menu"].Options["2|other"] = "nowhere"
		if err := def.Validate(); !errors.Is(err, ErrDanglingTarget) {
			t.Errorf("expected ErrDanglingTarget, got %v", err)
		}
	})

	t.Run("question without validator", func(t *testing.T) {
		def := validDefinition()
		def.Steps["ask"].Validator = ""
		if err := def.Validate(); err == nil {
			t.Error("expected error for question step without validator")
		}
	})

	t.Run("date with bad resolution", func(t *testing.T) {
		def := validDefinition()
		def.Steps["slot"].Resolution = "centuries"
		if err := def.Validate(); err == nil {
			t.Error("expected error for invalid resolution")
		}
	})
}

func TestSessionResetData(t *testing.T) {
	s := NewSession("15551234567")
	s.Data["name"] = "Dana"
	s.PendingSuggestion = "Coffee"
	s.Selection.SelectedDate = "2026-09-02"
	s.Scheduled = true
	s.MeetingNotified = true

	s.ResetData()

	if len(s.Data) != 0 {
		t.Errorf("expected empty data bag, got %v", s.Data)
	}
	if s.PendingSuggestion != "" || s.Selection.SelectedDate != "" || s.Scheduled || s.MeetingNotified {
		t.Error("expected all transient scheduling state cleared")
	}
}
