package flow

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

const flowJSON = `{
  "start": "greeting",
  "steps": {
    "greeting": {"kind": "message", "body": "Welcome!", "next": "ask_name"},
    "ask_name": {
      "kind": "question", "body": "What is your name?",
      "validator": "text", "data_key": "name", "wait_for_user": true
    }
  }
}`

const flowYAML = `start: greeting
steps:
  greeting:
    kind: message
    body: Welcome!
    next: ask_name
  ask_name:
    kind: question
    body: What is your name?
    validator: text
    data_key: name
    wait_for_user: true
`

func TestLoadDefinitionJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "flow.json", flowJSON)

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("LoadDefinition failed: %v", err)
	}
	if def.Start != "greeting" {
		t.Errorf("expected start greeting, got %q", def.Start)
	}
	if len(def.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(def.Steps))
	}
	// Step IDs are backfilled from the map keys.
	if def.Steps["ask_name"].ID != "ask_name" {
		t.Errorf("expected step ID set from key, got %q", def.Steps["ask_name"].ID)
	}
}

func TestLoadDefinitionYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "flow.yaml", flowYAML)

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("LoadDefinition failed: %v", err)
	}
	if def.Steps["greeting"].Next != "ask_name" {
		t.Errorf("expected greeting to link to ask_name, got %q", def.Steps["greeting"].Next)
	}
}

func TestLoadDefinitionRejectsDanglingTarget(t *testing.T) {
	bad := `{"start": "greeting", "steps": {"greeting": {"kind": "message", "body": "hi", "next": "nowhere"}}}`
	path := writeFile(t, t.TempDir(), "flow.json", bad)

	if _, err := LoadDefinition(path); err == nil {
		t.Error("expected error for dangling next target")
	}
}

func TestLoadDefinitionRejectsMissingMessageFile(t *testing.T) {
	bad := `{"start": "greeting", "steps": {"greeting": {"kind": "message", "body_file": "missing.txt"}}}`
	path := writeFile(t, t.TempDir(), "flow.json", bad)

	if _, err := LoadDefinition(path); err == nil {
		t.Error("expected error for missing referenced message file")
	}
}

func TestLoadDefinitionMissingFile(t *testing.T) {
	if _, err := LoadDefinition(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing definition file")
	}
}

func TestMessageLoader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "welcome.txt", "Hello from a file.\n")
	loader := NewMessageLoader(dir)

	if got := loader.Load("welcome.txt"); got != "Hello from a file." {
		t.Errorf("Load = %q, want trimmed file content", got)
	}
	if got := loader.Load("absent.txt"); got != DefaultApologyMessage {
		t.Errorf("expected apology fallback, got %q", got)
	}

	loader.SetApology("We hit a snag.")
	if got := loader.Load("absent.txt"); got != "We hit a snag." {
		t.Errorf("expected overridden apology, got %q", got)
	}
}
