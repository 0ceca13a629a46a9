package flow

import (
	"testing"

	"github.com/leadflowhq/leadflow/internal/models"
)

func TestRender(t *testing.T) {
	ctx := map[string]string{"name": "Dana", "topic": "pricing"}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"no placeholders", "Hello there", "Hello there"},
		{"single placeholder", "Hello {name}!", "Hello Dana!"},
		{"multiple placeholders", "{name} asked about {topic}", "Dana asked about pricing"},
		{"unknown placeholder left intact", "Hello {stranger}", "Hello {stranger}"},
		{"unclosed brace left intact", "Hello {name", "Hello {name"},
		{"adjacent placeholders", "{name}{topic}", "Danapricing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.text, ctx); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestRenderSinglePass(t *testing.T) {
	// A substituted value containing braces must not be expanded again.
	ctx := map[string]string{"a": "{b}", "b": "boom"}
	if got := Render("{a}", ctx); got != "{b}" {
		t.Errorf("Render substituted recursively: got %q, want %q", got, "{b}")
	}
}

func TestRenderContextMeetingFields(t *testing.T) {
	s := models.NewSession("15551234567")
	s.Data["name"] = "Dana"
	s.Selection.SelectedDate = "2026-09-07"
	s.Selection.SelectedTime = "14:00"

	ctx := RenderContext(s)
	if ctx["name"] != "Dana" {
		t.Errorf("expected data bag copied, got %q", ctx["name"])
	}
	if ctx["meeting_date"] != "07/09/2026" {
		t.Errorf("expected display-formatted meeting_date, got %q", ctx["meeting_date"])
	}
	if ctx["meeting_day"] != "Monday" {
		t.Errorf("expected weekday name, got %q", ctx["meeting_day"])
	}
	if ctx["meeting_time"] != "14:00" {
		t.Errorf("expected meeting_time, got %q", ctx["meeting_time"])
	}
}

func TestDisplayDate(t *testing.T) {
	if got := DisplayDate("2026-09-07"); got != "07/09/2026" {
		t.Errorf("DisplayDate = %q, want 07/09/2026", got)
	}
	// Unparseable input passes through unchanged.
	if got := DisplayDate("soon"); got != "soon" {
		t.Errorf("DisplayDate passthrough = %q, want soon", got)
	}
}

func TestComposeStepText(t *testing.T) {
	step := &models.Step{Header: "Hi {name},", Footer: "Reply 'back' to go back."}
	ctx := map[string]string{"name": "Dana"}

	got := composeStepText(step, "Pick a slot:", ctx)
	want := "Hi Dana,\nPick a slot:\nReply 'back' to go back."
	if got != want {
		t.Errorf("composeStepText = %q, want %q", got, want)
	}

	// Empty parts are skipped, not joined as blank lines.
	if got := composeStepText(&models.Step{}, "Just a body", nil); got != "Just a body" {
		t.Errorf("composeStepText = %q, want body only", got)
	}
}
