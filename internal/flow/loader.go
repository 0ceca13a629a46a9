package flow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leadflowhq/leadflow/internal/models"
)

// DefaultApologyMessage is returned by the message loader when an external
// text file cannot be read.
const DefaultApologyMessage = "Sorry, something went wrong on our side. Please try again in a moment."

// LoadDefinition reads and validates a flow definition from a JSON or YAML
// file. Any structural problem (missing start, unknown kind, dangling
// target, missing referenced message file) is fatal.
func LoadDefinition(path string) (*models.FlowDefinition, error) {
	slog.Debug("Loading flow definition", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow definition: %w", err)
	}

	var def models.FlowDefinition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse flow definition: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse flow definition: %w", err)
		}
	}

	for id, step := range def.Steps {
		step.ID = id
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow definition %s: %w", path, err)
	}

	// Referenced message files must exist at load time, relative to the
	// definition's own directory.
	baseDir := filepath.Dir(path)
	for id, step := range def.Steps {
		if step.BodyFile == "" {
			continue
		}
		ref := filepath.Join(baseDir, step.BodyFile)
		if _, err := os.Stat(ref); err != nil {
			return nil, fmt.Errorf("step %q references missing message file %s: %w", id, step.BodyFile, err)
		}
	}

	slog.Info("Flow definition loaded", "path", path, "steps", len(def.Steps), "start", def.Start)
	return &def, nil
}

// MessageLoader loads externally stored message text with a built-in
// apology fallback so a missing file degrades instead of failing the step.
type MessageLoader struct {
	baseDir string
	apology string
}

// NewMessageLoader creates a loader rooted at the given directory.
func NewMessageLoader(baseDir string) *MessageLoader {
	return &MessageLoader{baseDir: baseDir, apology: DefaultApologyMessage}
}

// SetApology overrides the fallback text.
func (l *MessageLoader) SetApology(text string) {
	l.apology = text
}

// Apology returns the fallback text.
func (l *MessageLoader) Apology() string {
	return l.apology
}

// Load returns the text of a file reference, or the apology fallback if the
// file cannot be read.
func (l *MessageLoader) Load(ref string) string {
	if l == nil {
		return DefaultApologyMessage
	}
	path := ref
	if l.baseDir != "" && !filepath.IsAbs(ref) {
		path = filepath.Join(l.baseDir, ref)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("Message file load failed, using apology fallback", "error", err, "ref", ref)
		return l.apology
	}
	return strings.TrimSpace(string(data))
}

// stepBody resolves a step's body text, preferring inline body over the
// external file reference.
func stepBody(step *models.Step, loader *MessageLoader) string {
	if step.Body != "" {
		return step.Body
	}
	if step.BodyFile != "" {
		return loader.Load(step.BodyFile)
	}
	return ""
}
