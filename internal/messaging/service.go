// Package messaging provides the channel services that connect LeadFlow to
// WhatsApp, and the dispatcher that routes inbound events through the rule
// evaluator into the conversation engine.
package messaging

import (
	"context"

	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/rules"
)

// Inbound is one inbound channel event together with the channel-derived
// facts about its sender that the rule evaluator consumes.
type Inbound struct {
	Event models.Event
	Chat  rules.ChatInfo
}

// Service defines a pluggable message channel abstraction. It supports
// sending messages and exposes a channel of inbound events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient identifier and
	// returns its canonical form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing (e.g., listening for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Events returns a channel of inbound events.
	Events() <-chan Inbound
}
