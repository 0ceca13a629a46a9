// Package integrations defines the external collaborator interfaces the
// conversation core consumes, and the meeting notifier that fans a
// finalized meeting out to them.
//
// Concrete calendar/spreadsheet/CRM clients live outside this repository;
// every call here is bounded by a timeout and degrades safely so a failing
// integration never surfaces to the user.
package integrations

import (
	"context"
	"log/slog"
	"time"

	"github.com/leadflowhq/leadflow/internal/models"
)

// DefaultCallTimeout bounds every outbound integration call.
const DefaultCallTimeout = 10 * time.Second

// MeetingData carries the details of a finalized meeting.
type MeetingData struct {
	LeadID   string
	LeadName string
	Date     string // YYYY-MM-DD
	Time     string // HH:MM
	Notes    string
}

// Calendar is the calendar collaborator.
type Calendar interface {
	// FilterAvailableTimes narrows a date's candidate times to those still
	// free.
	FilterAvailableTimes(ctx context.Context, date string, times []string) ([]string, error)
	// CreateEvent books the meeting and returns its event ID.
	CreateEvent(ctx context.Context, meeting MeetingData) (string, error)
	// FindExistingEvent returns the event ID of an already-booked meeting,
	// or empty.
	FindExistingEvent(ctx context.Context, meeting MeetingData) (string, error)
}

// Spreadsheet is the spreadsheet collaborator recording booked meetings.
type Spreadsheet interface {
	AddMeeting(ctx context.Context, meeting MeetingData) error
	FindExistingMeeting(ctx context.Context, meeting MeetingData) (bool, error)
}

// CRM is the CRM collaborator.
type CRM interface {
	CreateContact(ctx context.Context, leadID, name string) error
	CreateMeeting(ctx context.Context, meeting MeetingData) error
}

// Availability supplies the externally maintained map of date to open time
// strings consumed by date steps.
type Availability interface {
	Availability(ctx context.Context) (map[string][]string, error)
}

// StaticAvailability is a fixed in-memory availability map, useful for
// tests and simple deployments.
type StaticAvailability map[string][]string

// Availability implements Availability.
func (s StaticAvailability) Availability(ctx context.Context) (map[string][]string, error) {
	return s, nil
}

// Notifier fans a finalized meeting out to the configured collaborators.
// Nil collaborators are skipped; failures are logged, never propagated.
type Notifier struct {
	calendar    Calendar
	spreadsheet Spreadsheet
	crm         CRM
	timeout     time.Duration
}

// NewNotifier creates a notifier over the given collaborators; any of them
// may be nil.
func NewNotifier(calendar Calendar, spreadsheet Spreadsheet, crm CRM) *Notifier {
	return &Notifier{
		calendar:    calendar,
		spreadsheet: spreadsheet,
		crm:         crm,
		timeout:     DefaultCallTimeout,
	}
}

// MeetingScheduled records a finalized meeting with every collaborator.
func (n *Notifier) MeetingScheduled(ctx context.Context, meeting MeetingData) {
	if n == nil {
		return
	}
	slog.Info("Recording scheduled meeting", "lead", meeting.LeadID, "date", meeting.Date, "time", meeting.Time)

	if n.calendar != nil {
		n.recordCalendar(ctx, meeting)
	}
	if n.spreadsheet != nil {
		n.recordSpreadsheet(ctx, meeting)
	}
	if n.crm != nil {
		n.recordCRM(ctx, meeting)
	}
}

func (n *Notifier) recordCalendar(ctx context.Context, meeting MeetingData) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	existing, err := n.calendar.FindExistingEvent(ctx, meeting)
	if err != nil {
		slog.Error("Calendar lookup failed, skipping event creation", "error", err, "lead", meeting.LeadID)
		return
	}
	if existing != "" {
		slog.Debug("Calendar event already exists", "lead", meeting.LeadID, "event", existing)
		return
	}
	eventID, err := n.calendar.CreateEvent(ctx, meeting)
	if err != nil {
		slog.Error("Calendar event creation failed", "error", err, "lead", meeting.LeadID)
		return
	}
	slog.Info("Calendar event created", "lead", meeting.LeadID, "event", eventID)
}

func (n *Notifier) recordSpreadsheet(ctx context.Context, meeting MeetingData) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	exists, err := n.spreadsheet.FindExistingMeeting(ctx, meeting)
	if err != nil {
		slog.Error("Spreadsheet lookup failed, adding meeting anyway", "error", err, "lead", meeting.LeadID)
	} else if exists {
		slog.Debug("Meeting already recorded in spreadsheet", "lead", meeting.LeadID)
		return
	}
	if err := n.spreadsheet.AddMeeting(ctx, meeting); err != nil {
		slog.Error("Spreadsheet meeting record failed", "error", err, "lead", meeting.LeadID)
	}
}

func (n *Notifier) recordCRM(ctx context.Context, meeting MeetingData) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.crm.CreateContact(ctx, meeting.LeadID, meeting.LeadName); err != nil {
		slog.Error("CRM contact creation failed", "error", err, "lead", meeting.LeadID)
	}
	if err := n.crm.CreateMeeting(ctx, meeting); err != nil {
		slog.Error("CRM meeting creation failed", "error", err, "lead", meeting.LeadID)
	}
}

// models.Meeting is the persisted form; ToMeetingData lifts it with lead
// identity for collaborator calls.
func ToMeetingData(lead *models.Lead) MeetingData {
	data := MeetingData{LeadID: lead.ID, LeadName: lead.Name}
	if lead.Meeting != nil {
		data.Date = lead.Meeting.Date
		data.Time = lead.Meeting.Time
	}
	return data
}
