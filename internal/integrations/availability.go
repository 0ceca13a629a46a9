package integrations

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadAvailabilityFile reads a JSON file mapping dates (YYYY-MM-DD) to open
// time strings into a StaticAvailability.
func LoadAvailabilityFile(path string) (StaticAvailability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read availability file: %w", err)
	}
	var avail StaticAvailability
	if err := json.Unmarshal(data, &avail); err != nil {
		return nil, fmt.Errorf("failed to parse availability file %s: %w", path, err)
	}
	return avail, nil
}
