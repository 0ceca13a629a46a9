package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/rules"
)

// TwilioOpts holds configuration options for the Twilio WhatsApp service.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string // WhatsApp number, with or without the "whatsapp:" prefix
}

// TwilioOption defines a configuration option for the Twilio service.
type TwilioOption func(*TwilioOpts)

// WithTwilioAccountSID sets the Twilio account SID.
func WithTwilioAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithTwilioAuthToken sets the Twilio auth token.
func WithTwilioAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithTwilioFromNumber sets the sending WhatsApp number.
func WithTwilioFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromNumber = from }
}

// TwilioService implements Service over the Twilio WhatsApp Business API.
// Inbound messages arrive through the webhook handler rather than a
// persistent connection.
type TwilioService struct {
	client *twilio.RestClient
	from   string
	events chan Inbound
	done   chan struct{}
}

// NewTwilioService creates a TwilioService from the given options.
func NewTwilioService(opts ...TwilioOption) (*TwilioService, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioService{
		client: client,
		from:   ensureWhatsAppPrefix(cfg.FromNumber),
		events: make(chan Inbound, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}, nil
}

// ValidateAndCanonicalizeRecipient validates a phone identity, accepting the
// Twilio "whatsapp:+1234" addressing form.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return models.ValidateIdentity(strings.TrimPrefix(recipient, "whatsapp:"))
}

// Start is a no-op; inbound traffic arrives via WebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	slog.Debug("TwilioService started, awaiting webhook deliveries")
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	close(s.done)
	close(s.events)
	slog.Info("TwilioService stopped")
	return nil
}

// SendMessage sends a WhatsApp message through the Twilio REST API.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(ensureWhatsAppPrefix(to))
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioService send failed", "error", err, "to", to)
		return fmt.Errorf("failed to send twilio message to %s: %w", to, err)
	}
	if resp.Sid != nil {
		slog.Debug("TwilioService message sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// Events returns the inbound event channel.
func (s *TwilioService) Events() <-chan Inbound {
	return s.events
}

// WebhookHandler returns an http.Handler for Twilio inbound message
// webhooks. Twilio posts form-encoded From, Body and MessageSid fields.
func (s *TwilioService) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			slog.Error("TwilioService webhook form parse failed", "error", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
		body := r.FormValue("Body")
		sid := r.FormValue("MessageSid")
		if from == "" || body == "" {
			slog.Debug("TwilioService webhook missing From or Body, ignoring")
			w.WriteHeader(http.StatusOK)
			return
		}

		inbound := Inbound{
			Event: models.Event{From: from, Body: body, ID: sid, Time: time.Now().Unix()},
			// Twilio delivers one-to-one business chats only, so the group and
			// status toggles never apply on this channel.
			Chat: rules.ChatInfo{},
		}

		select {
		case s.events <- inbound:
			slog.Debug("TwilioService inbound message forwarded", "from", from, "sid", sid)
		case <-s.done:
		case <-time.After(DefaultChannelTimeout):
			slog.Warn("TwilioService event channel blocked, dropping message", "from", from)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func ensureWhatsAppPrefix(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return "whatsapp:" + number
}
