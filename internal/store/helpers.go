package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leadflowhq/leadflow/internal/models"
)

// DetectDSNType classifies a DSN string as "postgres" or "sqlite" based on
// its shape. File paths are assumed to be SQLite databases.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// leadArgs flattens a lead record into the column order shared by both SQL
// backends.
func leadArgs(lead *models.Lead) ([]interface{}, error) {
	dataJSON, err := json.Marshal(lead.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lead data: %w", err)
	}
	var meetingDate, meetingTime interface{}
	if lead.Meeting != nil {
		meetingDate = lead.Meeting.Date
		meetingTime = lead.Meeting.Time
	}
	var freezeUntil, unfrozenAt interface{}
	if lead.FreezeUntil != nil {
		freezeUntil = *lead.FreezeUntil
	}
	if lead.UnfrozenAt != nil {
		unfrozenAt = *lead.UnfrozenAt
	}
	return []interface{}{
		lead.ID, nilIfEmpty(lead.Name), nilIfEmpty(lead.CurrentStep), string(dataJSON),
		lead.Blocked, nilIfEmpty(lead.BlockedReason), freezeUntil, lead.FreezeCount,
		unfrozenAt, string(lead.LastDirection), nilIfEmpty(lead.LastClientMessage),
		lead.IsScheduled, meetingDate, meetingTime, lead.CreatedAt, lead.LastInteraction,
	}, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the shared lead scanner.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanLead reads a lead record from a row in the shared column order.
func scanLead(row rowScanner) (*models.Lead, error) {
	var lead models.Lead
	var name, currentStep, dataJSON, blockedReason, lastClientMessage, meetingDate, meetingTime sql.NullString
	var freezeUntil, unfrozenAt sql.NullTime
	var direction string
	err := row.Scan(
		&lead.ID, &name, &currentStep, &dataJSON,
		&lead.Blocked, &blockedReason, &freezeUntil, &lead.FreezeCount,
		&unfrozenAt, &direction, &lastClientMessage,
		&lead.IsScheduled, &meetingDate, &meetingTime, &lead.CreatedAt, &lead.LastInteraction,
	)
	if err != nil {
		return nil, err
	}
	lead.Name = name.String
	lead.CurrentStep = currentStep.String
	lead.BlockedReason = blockedReason.String
	lead.LastClientMessage = lastClientMessage.String
	lead.LastDirection = models.Direction(direction)
	if freezeUntil.Valid {
		t := freezeUntil.Time
		lead.FreezeUntil = &t
	}
	if unfrozenAt.Valid {
		t := unfrozenAt.Time
		lead.UnfrozenAt = &t
	}
	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &lead.Data); err != nil {
			return nil, fmt.Errorf("failed to parse lead data for %s: %w", lead.ID, err)
		}
	}
	if lead.Data == nil {
		lead.Data = make(map[string]string)
	}
	if meetingDate.Valid || meetingTime.Valid {
		lead.Meeting = &models.Meeting{Date: meetingDate.String, Time: meetingTime.String}
	}
	return &lead, nil
}

// leadColumns is the shared SELECT column list for both SQL backends.
const leadColumns = `id, name, current_step, data, blocked, blocked_reason, freeze_until, freeze_count,
	unfrozen_at, last_direction, last_client_message, is_schedule, meeting_date, meeting_time,
	created_at, last_interaction`
