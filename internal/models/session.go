// Package models defines session state structures for LeadFlow conversations.
package models

import "time"

// SlotGroup is one displayed choice at a date-step resolution level: the
// label shown to the user and the candidate dates it covers.
type SlotGroup struct {
	Label string   `json:"label"`
	Dates []string `json:"dates"` // YYYY-MM-DD
}

// ScheduleSelection carries the transient drill-down state of a date-step
// cascade so a later resolution level can narrow the previous one without
// recomputing availability.
type ScheduleSelection struct {
	MonthGroups   []SlotGroup `json:"month_groups,omitempty"` // displayed months, in order
	SelectedMonth string      `json:"selected_month,omitempty"`
	MonthDates    []string    `json:"month_dates,omitempty"` // dates of the selected month
	WeekGroups    []SlotGroup `json:"week_groups,omitempty"` // displayed weeks, in order
	SelectedWeek  string      `json:"selected_week,omitempty"`
	WeekDates     []string    `json:"week_dates,omitempty"` // dates of the selected week
	DayDates      []string    `json:"day_dates,omitempty"`  // dates displayed at the days level
	SelectedDate  string      `json:"selected_date,omitempty"`
	ShownTimes    []string    `json:"shown_times,omitempty"` // times displayed at the hours level
	SelectedTime  string      `json:"selected_time,omitempty"`
}

// Session is the transient in-memory state of one user's in-progress
// conversation. It is created on the first inbound event or restored from
// the lead store, and evicted after an idle timeout independent of the
// persisted lead.
type Session struct {
	UserID            string            `json:"user_id"`
	CurrentStep       string            `json:"current_step"`
	Data              map[string]string `json:"data,omitempty"`
	LastInteraction   time.Time         `json:"last_interaction"`
	FirstMessage      bool              `json:"first_message"`
	NewConversation   bool              `json:"new_conversation"`
	PendingSuggestion string            `json:"pending_suggestion,omitempty"` // "did you mean X?" confirmations
	Selection         ScheduleSelection `json:"selection"`
	Scheduled         bool              `json:"scheduled"`
	MeetingNotified   bool              `json:"meeting_notified"`
}

// NewSession creates a fresh session for a user identity.
func NewSession(userID string) *Session {
	return &Session{
		UserID:          userID,
		Data:            make(map[string]string),
		LastInteraction: time.Now(),
		FirstMessage:    true,
		NewConversation: true,
	}
}

// ResetData clears the data bag and all transient scheduling state.
func (s *Session) ResetData() {
	s.Data = make(map[string]string)
	s.PendingSuggestion = ""
	s.Selection = ScheduleSelection{}
	s.Scheduled = false
	s.MeetingNotified = false
}

// Touch refreshes the last-interaction timestamp.
func (s *Session) Touch() {
	s.LastInteraction = time.Now()
}
