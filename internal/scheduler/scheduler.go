// Package scheduler provides cron-based background maintenance for LeadFlow:
// idle session eviction and meeting reminder dispatch.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leadflowhq/leadflow/internal/flow"
	"github.com/leadflowhq/leadflow/internal/store"
)

// Default cron expressions for the maintenance jobs.
const (
	// DefaultEvictionSpec runs the idle session sweep every ten minutes.
	DefaultEvictionSpec = "*/10 * * * *"
	// DefaultReminderSpec dispatches meeting reminders daily at 09:00.
	DefaultReminderSpec = "0 9 * * *"
	// DefaultReminderMessage is sent the day before a scheduled meeting.
	DefaultReminderMessage = "Reminder: you have a meeting scheduled tomorrow, {meeting_day} {meeting_date} at {meeting_time}."
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic
	// recovery around jobs.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// SessionEvictor is the engine surface the eviction job needs.
type SessionEvictor interface {
	EvictIdleSessions() int
}

// Sender delivers a reminder message to a lead.
type Sender func(ctx context.Context, to, body string) error

// Maintenance wires the recurring LeadFlow jobs onto a scheduler.
type Maintenance struct {
	leads    store.LeadStore
	evictor  SessionEvictor
	send     Sender
	message  string
	mu       sync.Mutex
	reminded map[string]string // lead ID -> meeting date already reminded for
}

// NewMaintenance creates the maintenance job set. The sender may be nil, in
// which case reminders are skipped.
func NewMaintenance(leads store.LeadStore, evictor SessionEvictor, send Sender) *Maintenance {
	return &Maintenance{
		leads:    leads,
		evictor:  evictor,
		send:     send,
		message:  DefaultReminderMessage,
		reminded: make(map[string]string),
	}
}

// SetReminderMessage overrides the reminder template. The template accepts
// the {meeting_day}, {meeting_date} and {meeting_time} placeholders.
func (m *Maintenance) SetReminderMessage(message string) {
	m.message = message
}

// Register adds the eviction and reminder jobs to the scheduler using the
// default specs.
func (m *Maintenance) Register(s *Scheduler) error {
	if err := s.AddJob(DefaultEvictionSpec, m.EvictSessions); err != nil {
		return err
	}
	return s.AddJob(DefaultReminderSpec, func() {
		m.SendReminders(context.Background())
	})
}

// EvictSessions drops idle sessions from the engine cache.
func (m *Maintenance) EvictSessions() {
	if m.evictor == nil {
		return
	}
	if n := m.evictor.EvictIdleSessions(); n > 0 {
		slog.Info("Session eviction sweep completed", "evicted", n)
	}
}

// SendReminders messages every lead whose meeting is tomorrow, once per
// meeting date.
func (m *Maintenance) SendReminders(ctx context.Context) {
	if m.send == nil {
		return
	}
	leads, err := m.leads.List()
	if err != nil {
		slog.Error("Reminder sweep failed to list leads", "error", err)
		return
	}

	tomorrow := time.Now().AddDate(0, 0, 1).Format(flow.DateLayout)
	for _, lead := range leads {
		if !lead.IsScheduled || lead.Meeting == nil || lead.Meeting.Date != tomorrow || lead.Blocked {
			continue
		}
		m.mu.Lock()
		already := m.reminded[lead.ID] == lead.Meeting.Date
		if !already {
			m.reminded[lead.ID] = lead.Meeting.Date
		}
		m.mu.Unlock()
		if already {
			continue
		}

		rc := make(map[string]string, len(lead.Data)+3)
		for k, v := range lead.Data {
			rc[k] = v
		}
		rc["meeting_date"] = flow.DisplayDate(lead.Meeting.Date)
		rc["meeting_time"] = lead.Meeting.Time
		if d, err := time.Parse(flow.DateLayout, lead.Meeting.Date); err == nil {
			rc["meeting_day"] = d.Weekday().String()
		}
		body := flow.Render(m.message, rc)
		if err := m.send(ctx, lead.ID, body); err != nil {
			slog.Error("Reminder send failed", "error", err, "id", lead.ID)
			m.mu.Lock()
			delete(m.reminded, lead.ID)
			m.mu.Unlock()
			continue
		}
		slog.Info("Meeting reminder sent", "id", lead.ID, "date", lead.Meeting.Date)
	}
}
