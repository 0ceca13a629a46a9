// Package models defines the core data structures for LeadFlow.
//
// It includes the durable lead record, the partial-update type consumed by
// the lead store's merge operation, and inbound channel events. These types
// are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Direction indicates who sent the most recent message on a conversation.
type Direction string

const (
	// DirectionBot indicates the last message was sent by the bot.
	DirectionBot Direction = "bot"
	// DirectionClient indicates the last message was sent by the client.
	DirectionClient Direction = "client"
	// DirectionNone indicates no message has been exchanged yet.
	DirectionNone Direction = "none"
)

// BroadcastJID is the WhatsApp status broadcast pseudo-address. Events from
// it are never real leads and are rejected at the boundary.
const BroadcastJID = "status@broadcast"

// Identity shape limits for phone-number validation.
const (
	MinIdentityDigits = 7
	MaxIdentityDigits = 15
)

// Error variables for better error handling and testability
var (
	ErrInvalidIdentity  = errors.New("identity is not a valid phone number")
	ErrBroadcastSender  = errors.New("broadcast pseudo-address is not a lead identity")
	ErrLeadNotFound     = errors.New("lead not found")
	ErrEmptyFlowStart   = errors.New("flow definition missing start step")
	ErrNoFlowSteps      = errors.New("flow definition has no steps")
	ErrUnknownStepKind  = errors.New("unknown step kind")
	ErrDanglingTarget   = errors.New("step references a non-existent target")
	ErrMissingValidator = errors.New("question step missing validator reference")
)

// Meeting holds the finalized date and time of a scheduled meeting.
type Meeting struct {
	Date string `json:"date"` // YYYY-MM-DD
	Time string `json:"time"` // HH:MM
}

// Lead is the durable record of a user's conversation history and status.
// It is mutated only through the lead store's merge operation.
type Lead struct {
	ID                string            `json:"id"` // canonical phone identity
	Name              string            `json:"name,omitempty"`
	CurrentStep       string            `json:"current_step,omitempty"`
	Data              map[string]string `json:"data,omitempty"`
	Blocked           bool              `json:"blocked"`
	BlockedReason     string            `json:"blocked_reason,omitempty"`
	FreezeUntil       *time.Time        `json:"freeze_until,omitempty"`
	FreezeCount       int               `json:"freeze_count,omitempty"`
	UnfrozenAt        *time.Time        `json:"unfrozen_at,omitempty"`
	LastDirection     Direction         `json:"last_direction"`
	LastClientMessage string            `json:"last_client_message,omitempty"`
	IsScheduled       bool              `json:"is_schedule"`
	Meeting           *Meeting          `json:"meeting,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	LastInteraction   time.Time         `json:"last_interaction"`
}

// LeadUpdate is a partial lead record for merge operations. Nil pointer
// fields are preserved from the stored record; the Data bag is merged
// key-wise rather than replaced.
type LeadUpdate struct {
	Name              *string           `json:"name,omitempty"`
	CurrentStep       *string           `json:"current_step,omitempty"`
	Data              map[string]string `json:"data,omitempty"`
	Blocked           *bool             `json:"blocked,omitempty"`
	BlockedReason     *string           `json:"blocked_reason,omitempty"`
	FreezeUntil       *time.Time        `json:"freeze_until,omitempty"`
	ClearFreeze       bool              `json:"clear_freeze,omitempty"`
	FreezeCount       *int              `json:"freeze_count,omitempty"`
	UnfrozenAt        *time.Time        `json:"unfrozen_at,omitempty"`
	LastDirection     Direction         `json:"last_direction,omitempty"`
	LastClientMessage *string           `json:"last_client_message,omitempty"`
	IsScheduled       *bool             `json:"is_schedule,omitempty"`
	Meeting           *Meeting          `json:"meeting,omitempty"`
}

// Event represents an inbound message event from the messaging channel.
type Event struct {
	From string `json:"from"`
	Body string `json:"body"`
	ID   string `json:"id"` // channel-assigned message ID, used for dedup
	Time int64  `json:"time"`
}

// ValidateIdentity checks that an identity is a plausible phone-number
// identity and not the broadcast pseudo-address. Returns the canonical form
// (digits only, no leading +).
func ValidateIdentity(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidIdentity
	}
	if strings.EqualFold(id, BroadcastJID) || strings.HasSuffix(id, "@broadcast") {
		return "", ErrBroadcastSender
	}
	// Strip a channel suffix such as @s.whatsapp.net if present.
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	id = strings.TrimPrefix(id, "+")
	if len(id) < MinIdentityDigits || len(id) > MaxIdentityDigits {
		return "", ErrInvalidIdentity
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", ErrInvalidIdentity
		}
	}
	return id, nil
}

// Helper constructors for pointer fields in LeadUpdate.

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to the given int.
func IntPtr(i int) *int { return &i }

// TimePtr returns a pointer to the given time.
func TimePtr(t time.Time) *time.Time { return &t }
