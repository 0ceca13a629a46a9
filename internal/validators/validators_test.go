package validators

import (
	"context"
	"strings"
	"testing"
)

func runValidator(t *testing.T, c *Catalog, name, input string, opts map[string]string) Result {
	t.Helper()
	res, err := c.Validate(context.Background(), name, input, opts)
	if err != nil {
		t.Fatalf("Validate(%s, %q) failed: %v", name, input, err)
	}
	return res
}

func TestCatalogUnknownValidator(t *testing.T) {
	c := NewCatalog()
	if _, err := c.Validate(context.Background(), "mind-reader", "x", nil); err == nil {
		t.Error("expected error for unregistered validator")
	}
	if c.Has("mind-reader") {
		t.Error("expected Has to be false for unregistered validator")
	}
	if !c.Has("text") {
		t.Error("expected Has to be true for built-in validator")
	}
}

func TestTextValidator(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  map[string]string
		valid bool
		value string
	}{
		{"plain value", " Dana ", nil, true, "Dana"},
		{"empty rejected", "   ", nil, false, ""},
		{"below min length", "ab", map[string]string{"min_length": "3"}, false, ""},
		{"at min length", "abc", map[string]string{"min_length": "3"}, true, "abc"},
		{"above max length", "abcdef", map[string]string{"max_length": "5"}, false, ""},
	}
	c := NewCatalog()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runValidator(t, c, "text", tt.input, tt.opts)
			if res.IsValid != tt.valid {
				t.Fatalf("IsValid = %v, want %v (message %q)", res.IsValid, tt.valid, res.Message)
			}
			if tt.valid && res.Value != tt.value {
				t.Errorf("Value = %q, want %q", res.Value, tt.value)
			}
			if !tt.valid && res.Message == "" {
				t.Error("expected a rejection message")
			}
		})
	}
}

func TestTextValidatorCustomMessage(t *testing.T) {
	c := NewCatalog()
	res := runValidator(t, c, "text", "", map[string]string{"message": "Name, please."})
	if res.Message != "Name, please." {
		t.Errorf("expected custom message, got %q", res.Message)
	}
}

func TestNumberValidator(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  map[string]string
		valid bool
		value string
	}{
		{"plain number", " 42 ", nil, true, "42"},
		{"not a number", "forty-two", nil, false, ""},
		{"below min", "3", map[string]string{"min": "5"}, false, ""},
		{"above max", "11", map[string]string{"max": "10"}, false, ""},
		{"inside range", "7", map[string]string{"min": "5", "max": "10"}, true, "7"},
	}
	c := NewCatalog()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runValidator(t, c, "number", tt.input, tt.opts)
			if res.IsValid != tt.valid {
				t.Fatalf("IsValid = %v, want %v", res.IsValid, tt.valid)
			}
			if tt.valid && res.Value != tt.value {
				t.Errorf("Value = %q, want %q", res.Value, tt.value)
			}
		})
	}
}

func TestEmailValidator(t *testing.T) {
	c := NewCatalog()

	res := runValidator(t, c, "email", " Dana@Example.COM ", nil)
	if !res.IsValid || res.Value != "dana@example.com" {
		t.Errorf("expected normalized email, got valid=%v value=%q", res.IsValid, res.Value)
	}

	for _, bad := range []string{"dana", "dana@", "@example.com", "dana@example", "a b@example.com"} {
		if res := runValidator(t, c, "email", bad, nil); res.IsValid {
			t.Errorf("expected %q rejected", bad)
		}
	}
}

func TestPhoneValidator(t *testing.T) {
	c := NewCatalog()

	res := runValidator(t, c, "phone", "+1 (555) 123-4567", nil)
	if !res.IsValid || res.Value != "+15551234567" {
		t.Errorf("expected cleaned phone, got valid=%v value=%q", res.IsValid, res.Value)
	}

	for _, bad := range []string{"12345", "phone me", "12345678901234567"} {
		if res := runValidator(t, c, "phone", bad, nil); res.IsValid {
			t.Errorf("expected %q rejected", bad)
		}
	}
}

func TestYesNoValidator(t *testing.T) {
	tests := []struct {
		input string
		valid bool
		value string
	}{
		{"Yes", true, "yes"},
		{"y", true, "yes"},
		{"OKAY", true, "yes"},
		{"כן", true, "yes"},
		{"no", true, "no"},
		{"Nope", true, "no"},
		{"לא", true, "no"},
		{"maybe", false, ""},
	}
	c := NewCatalog()
	for _, tt := range tests {
		res := runValidator(t, c, "yesno", tt.input, nil)
		if res.IsValid != tt.valid {
			t.Errorf("yesno(%q) valid = %v, want %v", tt.input, res.IsValid, tt.valid)
			continue
		}
		if tt.valid && res.Value != tt.value {
			t.Errorf("yesno(%q) value = %q, want %q", tt.input, res.Value, tt.value)
		}
	}
}

func TestChoiceValidator(t *testing.T) {
	opts := map[string]string{"choices": "Coffee, Tea, Water"}
	c := NewCatalog()

	t.Run("exact match ignores case", func(t *testing.T) {
		res := runValidator(t, c, "choice", "coffee", opts)
		if !res.IsValid || res.Value != "Coffee" {
			t.Errorf("expected canonical choice, got valid=%v value=%q", res.IsValid, res.Value)
		}
	})

	t.Run("near miss yields suggestion", func(t *testing.T) {
		res := runValidator(t, c, "choice", "cofee", opts)
		if res.IsValid {
			t.Fatal("expected near miss rejected")
		}
		if res.Suggestion != "Coffee" {
			t.Errorf("expected suggestion Coffee, got %q", res.Suggestion)
		}
		if !strings.Contains(res.Message, "Did you mean") {
			t.Errorf("expected confirmation prompt, got %q", res.Message)
		}
	})

	t.Run("far miss lists choices", func(t *testing.T) {
		res := runValidator(t, c, "choice", "lemonade", opts)
		if res.IsValid || res.Suggestion != "" {
			t.Fatalf("expected plain rejection, got valid=%v suggestion=%q", res.IsValid, res.Suggestion)
		}
		if !strings.Contains(res.Message, "Coffee, Tea, Water") {
			t.Errorf("expected choices listed, got %q", res.Message)
		}
	})
}

func TestIsAffirmative(t *testing.T) {
	for _, yes := range []string{"yes", " Y ", "Sure", "ok", "כן"} {
		if !IsAffirmative(yes) {
			t.Errorf("expected %q affirmative", yes)
		}
	}
	for _, no := range []string{"no", "yess", "", "fine"} {
		if IsAffirmative(no) {
			t.Errorf("expected %q not affirmative", no)
		}
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"a", "", 1},
		{"coffee", "cofee", 1},
		{"tea", "sea", 1},
		{"water", "otter", 2},
	}
	for _, tt := range tests {
		if got := editDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
