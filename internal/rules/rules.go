// Package rules implements the gatekeeping evaluator that decides whether
// an inbound event should be processed at all.
//
// Checks are ordered and short-circuiting; any panic during evaluation is
// treated as a rejection (fail closed).
package rules

import (
	"log/slog"
	"strings"
	"time"

	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/store"
)

// Block reasons recorded when a configured toggle rejects a sender.
const (
	ReasonPersonalContact = "personal contact"
	ReasonGroupChat       = "group chat"
	ReasonStatusUpdate    = "status update"
	ReasonArchivedChat    = "archived chat"
)

// ChatInfo carries channel-derived facts about the sender of an event.
type ChatInfo struct {
	IsPersonalContact bool
	IsGroupChat       bool
	IsStatusUpdate    bool
	IsArchived        bool
}

// Opts holds configuration options for the evaluator.
type Opts struct {
	// Block* toggles reject (and block) matching senders.
	BlockPersonalContacts bool
	BlockGroupChats       bool
	BlockStatusUpdates    bool
	BlockArchivedChats    bool
	// ActivationKeywords, when non-empty, gate brand-new conversations: the
	// first inbound text must contain at least one keyword.
	ActivationKeywords []string
	// ResetKeyword bypasses all further checks on an ongoing conversation.
	ResetKeyword string
}

// Option defines a configuration option for the evaluator.
type Option func(*Opts)

// WithBlockPersonalContacts rejects known personal contacts.
func WithBlockPersonalContacts() Option {
	return func(o *Opts) { o.BlockPersonalContacts = true }
}

// WithBlockGroupChats rejects group chats.
func WithBlockGroupChats() Option {
	return func(o *Opts) { o.BlockGroupChats = true }
}

// WithBlockStatusUpdates rejects status updates.
func WithBlockStatusUpdates() Option {
	return func(o *Opts) { o.BlockStatusUpdates = true }
}

// WithBlockArchivedChats rejects archived chats.
func WithBlockArchivedChats() Option {
	return func(o *Opts) { o.BlockArchivedChats = true }
}

// WithActivationKeywords enables activation-keyword gating for new
// conversations.
func WithActivationKeywords(keywords ...string) Option {
	return func(o *Opts) { o.ActivationKeywords = keywords }
}

// WithResetKeyword sets the reset keyword.
func WithResetKeyword(keyword string) Option {
	return func(o *Opts) { o.ResetKeyword = keyword }
}

// Evaluator is the stateless-per-call gatekeeper consulting the lead store.
type Evaluator struct {
	leads store.LeadStore
	cfg   Opts
}

// NewEvaluator creates an evaluator over the given lead store.
func NewEvaluator(leads store.LeadStore, opts ...Option) *Evaluator {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Evaluator{leads: leads, cfg: cfg}
}

// ShouldProcess reports whether an inbound event should be handed to the
// conversation engine. First matching check wins.
func (e *Evaluator) ShouldProcess(event models.Event, chat ChatInfo) (accept bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Rule evaluation panicked, rejecting event", "panic", r, "from", event.From)
			accept = false
		}
	}()

	id, err := models.ValidateIdentity(event.From)
	if err != nil {
		slog.Debug("Rejecting event: invalid sender", "error", err, "from", event.From)
		return false
	}

	lead, err := e.leads.Get(id)
	if err != nil && err != models.ErrLeadNotFound {
		slog.Error("Rejecting event: lead lookup failed", "error", err, "id", id)
		return false
	}

	if lead != nil && lead.Blocked {
		slog.Debug("Rejecting event: lead blocked", "id", id, "reason", lead.BlockedReason)
		return false
	}

	if reason := e.toggleReason(chat); reason != "" {
		slog.Info("Rejecting and blocking sender", "id", id, "reason", reason)
		if _, err := e.leads.Merge(id, models.LeadUpdate{
			Blocked:       models.BoolPtr(true),
			BlockedReason: models.StringPtr(reason),
		}); err != nil {
			slog.Error("Failed to record block", "error", err, "id", id)
		}
		return false
	}

	newConversation := e.isNewConversation(id, lead)

	if newConversation {
		if len(e.cfg.ActivationKeywords) > 0 && !containsKeyword(event.Body, e.cfg.ActivationKeywords) {
			slog.Debug("Rejecting event: activation keyword missing", "id", id)
			return false
		}
	} else if e.cfg.ResetKeyword != "" && strings.TrimSpace(event.Body) == e.cfg.ResetKeyword {
		// Reset bypasses the freeze check on an ongoing conversation.
		return true
	}

	if lead != nil && lead.FreezeUntil != nil {
		if time.Now().Before(*lead.FreezeUntil) {
			slog.Debug("Rejecting event: lead frozen", "id", id, "until", lead.FreezeUntil)
			return false
		}
		// Freeze has lapsed: clear it and record when.
		if _, err := e.leads.Merge(id, models.LeadUpdate{
			ClearFreeze: true,
			UnfrozenAt:  models.TimePtr(time.Now()),
		}); err != nil {
			slog.Error("Failed to clear lapsed freeze", "error", err, "id", id)
		}
	}

	return true
}

// toggleReason returns the block reason for the first matching configured
// toggle, or empty.
func (e *Evaluator) toggleReason(chat ChatInfo) string {
	switch {
	case e.cfg.BlockPersonalContacts && chat.IsPersonalContact:
		return ReasonPersonalContact
	case e.cfg.BlockGroupChats && chat.IsGroupChat:
		return ReasonGroupChat
	case e.cfg.BlockStatusUpdates && chat.IsStatusUpdate:
		return ReasonStatusUpdate
	case e.cfg.BlockArchivedChats && chat.IsArchived:
		return ReasonArchivedChat
	default:
		return ""
	}
}

// isNewConversation reports whether this event opens a brand-new
// conversation: no stored step, or the lead has gone stale.
func (e *Evaluator) isNewConversation(id string, lead *models.Lead) bool {
	if lead == nil || lead.CurrentStep == "" {
		return true
	}
	active, err := e.leads.IsActive(id)
	if err != nil {
		slog.Error("IsActive check failed, treating conversation as new", "error", err, "id", id)
		return true
	}
	return !active
}

// containsKeyword reports whether text contains any keyword,
// case-insensitively.
func containsKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
