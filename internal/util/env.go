// Package util holds small helpers shared across LeadFlow components:
// environment flag parsing and event ID generation.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean flag from the environment. Unset or
// unrecognized values fall back to def. Recognized forms, after trimming
// and lowercasing: true/1/yes/on and false/0/no/off.
func ParseBoolEnv(key string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return def
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("Ignoring unrecognized boolean environment value", "key", key, "value", raw, "default", def)
	return def
}
