package messaging

import (
	"context"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/rules"
	"github.com/leadflowhq/leadflow/internal/whatsapp"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize is the buffer size of the inbound event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel sends
	DefaultChannelTimeout = 1 * time.Second
)

// WhatsAppService implements Service over the Whatsmeow-based client.
type WhatsAppService struct {
	sender   whatsapp.Sender
	waClient *whatsapp.Client // full client for event handling; nil with a mock sender
	events   chan Inbound
	done     chan struct{}
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
func NewWhatsAppService(sender whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		sender: sender,
		events: make(chan Inbound, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
	if waClient, ok := sender.(*whatsapp.Client); ok {
		service.waClient = waClient
	} else {
		slog.Debug("WhatsAppService created with interface sender, event handling disabled")
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates a phone identity.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return models.ValidateIdentity(recipient)
}

// Start registers the event handler on the underlying client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService Start: no full client available, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(ctx, msg)
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop stops background processing and closes the event channel.
func (s *WhatsAppService) Stop() error {
	close(s.done)
	close(s.events)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendMessage sends a message through the underlying client.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	return s.sender.SendMessage(ctx, to, body)
}

// Events returns the inbound event channel.
func (s *WhatsAppService) Events() <-chan Inbound {
	return s.events
}

// handleIncomingMessage converts a Whatsmeow message event into an Inbound
// and forwards it without blocking the Whatsmeow event loop.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	default:
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	inbound := Inbound{
		Event: models.Event{
			From: evt.Info.Sender.User,
			Body: text,
			ID:   evt.Info.ID,
			Time: evt.Info.Timestamp.Unix(),
		},
		Chat: s.chatInfo(ctx, evt),
	}

	select {
	case s.events <- inbound:
		slog.Debug("WhatsAppService inbound message forwarded", "from", inbound.Event.From, "id", inbound.Event.ID)
	case <-s.done:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService event channel blocked, dropping message", "from", inbound.Event.From)
	}
}

// chatInfo derives the sender facts the rule evaluator checks. Archived
// state is not exposed by Whatsmeow message events and stays false here.
func (s *WhatsAppService) chatInfo(ctx context.Context, evt *events.Message) rules.ChatInfo {
	info := rules.ChatInfo{
		IsGroupChat:    evt.Info.IsGroup,
		IsStatusUpdate: evt.Info.Chat == types.StatusBroadcastJID,
	}
	if s.waClient != nil {
		info.IsPersonalContact = s.waClient.IsSavedContact(ctx, evt.Info.Sender)
	}
	return info
}
