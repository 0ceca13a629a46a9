// Package testutil provides common test fixtures and helpers for LeadFlow
// tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leadflowhq/leadflow/internal/messaging"
	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/rules"
	"github.com/leadflowhq/leadflow/internal/store"
	"github.com/leadflowhq/leadflow/internal/util"
)

// TestIdentity is the canonical phone identity used across test fixtures.
const TestIdentity = "15551234567"

// BookingFlow builds a small but complete flow definition exercising every
// step kind: greeting, menu, a name question, a date cascade and a terminal
// confirmation.
func BookingFlow() *models.FlowDefinition {
	return &models.FlowDefinition{
		Start: "greeting",
		Steps: map[string]*models.Step{
			"greeting": {
				ID:   "greeting",
				Kind: models.StepKindMessage,
				Body: "Welcome!",
				Next: "menu",
			},
			"menu": {
				ID:          "menu",
				Kind:        models.StepKindOptions,
				Body:        "1. Book a meeting\n2. Talk to us",
				WaitForUser: true,
				Options: map[string]string{
					"1|book|meeting": "ask_name",
					"2|talk":         "contact",
				},
			},
			"ask_name": {
				ID:          "ask_name",
				Kind:        models.StepKindQuestion,
				Body:        "What is your name?",
				WaitForUser: true,
				DataKey:     "name",
				Validator:   "text",
				Next:        "pick_slot",
			},
			"pick_slot": {
				ID:          "pick_slot",
				Kind:        models.StepKindDate,
				Body:        "Pick a day:",
				WaitForUser: true,
				Resolution:  models.ResolutionDays,
				Next:        "pick_time",
			},
			"pick_time": {
				ID:          "pick_time",
				Kind:        models.StepKindDate,
				Body:        "Pick a time:",
				WaitForUser: true,
				Resolution:  models.ResolutionHours,
				Next:        "confirmed",
			},
			"confirmed": {
				ID:   "confirmed",
				Kind: models.StepKindMessage,
				Body: "See you on {meeting_date} at {meeting_time}, {name}!",
			},
			"contact": {
				ID:   "contact",
				Kind: models.StepKindMessage,
				Body: "We will reach out shortly.",
			},
		},
	}
}

// Availability returns a deterministic availability map spanning the next
// three days.
func Availability() map[string][]string {
	avail := make(map[string][]string)
	for i := 1; i <= 3; i++ {
		date := time.Now().AddDate(0, 0, i).Format("2006-01-02")
		avail[date] = []string{"10:00", "14:00"}
	}
	return avail
}

// SeedLead merges a lead into the store and fails the test on error.
func SeedLead(t *testing.T, leads store.LeadStore, id string, update models.LeadUpdate) *models.Lead {
	t.Helper()
	lead, err := leads.Merge(id, update)
	if err != nil {
		t.Fatalf("failed to seed lead %s: %v", id, err)
	}
	return lead
}

// Event builds an inbound event with a generated ID.
func Event(from, body string) models.Event {
	return models.Event{
		From: from,
		Body: body,
		ID:   util.GenerateEventID(),
		Time: time.Now().Unix(),
	}
}

// FakeChannel implements messaging.Service in memory for dispatcher and
// engine tests: pushed events appear on Events(), sent messages are
// recorded.
type FakeChannel struct {
	mu     sync.Mutex
	sent   map[string][]string
	events chan messaging.Inbound
}

// NewFakeChannel creates a fake channel with the given event buffer size.
func NewFakeChannel(buffer int) *FakeChannel {
	return &FakeChannel{
		sent:   make(map[string][]string),
		events: make(chan messaging.Inbound, buffer),
	}
}

func (f *FakeChannel) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return models.ValidateIdentity(recipient)
}

func (f *FakeChannel) SendMessage(ctx context.Context, to string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[to] = append(f.sent[to], body)
	return nil
}

func (f *FakeChannel) Start(ctx context.Context) error { return nil }

func (f *FakeChannel) Stop() error {
	close(f.events)
	return nil
}

func (f *FakeChannel) Events() <-chan messaging.Inbound { return f.events }

// Push delivers an inbound event to the channel.
func (f *FakeChannel) Push(event models.Event, chat rules.ChatInfo) {
	f.events <- messaging.Inbound{Event: event, Chat: chat}
}

// Sent returns the messages sent to an identity so far.
func (f *FakeChannel) Sent(to string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent[to]))
	copy(out, f.sent[to])
	return out
}

// WaitForSent polls until at least n messages were sent to the identity or
// the timeout expires.
func (f *FakeChannel) WaitForSent(t *testing.T, to string, n int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msgs := f.Sent(to); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages to %s, got %v", n, to, f.Sent(to))
	return nil
}
