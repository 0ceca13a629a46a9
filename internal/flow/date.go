package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/leadflowhq/leadflow/internal/models"
)

// Timeouts for the date handler's external calls. Both calls degrade to a
// safe default on failure so a failing integration cannot stall the
// conversation.
const (
	AvailabilityTimeout = 5 * time.Second
	CalendarTimeout     = 5 * time.Second
)

// User-facing messages for the date drill-down.
const (
	msgNoMonths     = "There are no open dates at the moment. Please check back later."
	msgNoWeeks      = "There are no open dates in that month. Please pick another month."
	msgNoDays       = "There are no open days in that week. Please pick another week."
	msgNoHours      = "There are no hours available for this day. Please pick another day."
	msgPickDayFirst = "Please pick a day before choosing a time."
)

// backKeyword navigates to the step's back-branch instead of being read as
// a numeric choice.
const backKeyword = "back"

// DateHandler implements the cascading time-slot resolution algorithm:
// month, week, day and hour steps drill down over externally sourced
// availability without re-querying the full set at every level.
type DateHandler struct {
	availability AvailabilityProvider
	calendar     CalendarFilter
	loader       *MessageLoader
}

// Process implements Handler.
func (h *DateHandler) Process(ctx context.Context, step *models.Step, session *models.Session, input string, hasInput bool) (StepResult, error) {
	if hasInput && step.BackTarget != "" && strings.EqualFold(strings.TrimSpace(input), backKeyword) {
		session.CurrentStep = step.BackTarget
		return StepResult{WaitForUser: false}, nil
	}

	switch step.Resolution {
	case models.ResolutionMonths:
		return h.processMonths(ctx, step, session, input, hasInput)
	case models.ResolutionWeeks:
		return h.processWeeks(step, session, input, hasInput)
	case models.ResolutionDays:
		return h.processDays(ctx, step, session, input, hasInput)
	case models.ResolutionHours:
		return h.processHours(ctx, step, session, input, hasInput)
	default:
		return StepResult{}, fmt.Errorf("date step %s: invalid resolution %q", step.ID, step.Resolution)
	}
}

// processMonths groups candidate dates by month and presents the first
// `limit` groups; the full grouping is remembered in the session so later
// levels narrow it without recomputation.
func (h *DateHandler) processMonths(ctx context.Context, step *models.Step, session *models.Session, input string, hasInput bool) (StepResult, error) {
	if hasInput && len(session.Selection.MonthGroups) > 0 {
		idx, ok := parseSelection(input, len(session.Selection.MonthGroups))
		if !ok {
			return reprompt(len(session.Selection.MonthGroups)), nil
		}
		chosen := session.Selection.MonthGroups[idx]
		session.Selection.SelectedMonth = chosen.Label
		session.Selection.MonthDates = chosen.Dates
		// Invalidate any stale downstream selection.
		session.Selection.WeekGroups = nil
		session.Selection.SelectedWeek = ""
		session.Selection.WeekDates = nil
		session.Selection.DayDates = nil
		session.Selection.SelectedDate = ""
		session.Selection.ShownTimes = nil
		session.Selection.SelectedTime = ""
		return h.advance(step, session)
	}

	dates := h.candidateDates(ctx, step)
	groups := groupByMonth(dates)
	if step.Limit > 0 && len(groups) > step.Limit {
		groups = groups[:step.Limit]
	}
	if len(groups) == 0 {
		return StepResult{Messages: []string{msgNoMonths}, WaitForUser: true}, nil
	}
	session.Selection.MonthGroups = groups
	labels := make([]string, len(groups))
	for i, g := range groups {
		labels[i] = g.Label
	}
	return h.present(step, session, labels), nil
}

// processWeeks partitions the selected month's days into calendar weeks
// (week boundary: Sunday), clipping each week's span to the month itself.
func (h *DateHandler) processWeeks(step *models.Step, session *models.Session, input string, hasInput bool) (StepResult, error) {
	if hasInput && len(session.Selection.WeekGroups) > 0 {
		idx, ok := parseSelection(input, len(session.Selection.WeekGroups))
		if !ok {
			return reprompt(len(session.Selection.WeekGroups)), nil
		}
		chosen := session.Selection.WeekGroups[idx]
		session.Selection.SelectedWeek = chosen.Label
		session.Selection.WeekDates = chosen.Dates
		session.Selection.DayDates = nil
		session.Selection.SelectedDate = ""
		session.Selection.ShownTimes = nil
		session.Selection.SelectedTime = ""
		return h.advance(step, session)
	}

	dates := session.Selection.MonthDates
	if len(dates) == 0 {
		// No month was selected upstream; the month-keyed grouping is
		// unavailable, so there is nothing to partition.
		return StepResult{Messages: []string{msgNoWeeks}, WaitForUser: true}, nil
	}
	groups := groupByWeek(dates)
	if step.Limit > 0 && len(groups) > step.Limit {
		groups = groups[:step.Limit]
	}
	if len(groups) == 0 {
		return StepResult{Messages: []string{msgNoWeeks}, WaitForUser: true}, nil
	}
	session.Selection.WeekGroups = groups
	labels := make([]string, len(groups))
	for i, g := range groups {
		labels[i] = g.Label
	}
	return h.present(step, session, labels), nil
}

// processDays presents the selected week's days, falling back to the
// undivided month list if no week was chosen, or to the full candidate list
// when this is the first resolution level in the cascade.
func (h *DateHandler) processDays(ctx context.Context, step *models.Step, session *models.Session, input string, hasInput bool) (StepResult, error) {
	if hasInput && len(session.Selection.DayDates) > 0 {
		idx, ok := parseSelection(input, len(session.Selection.DayDates))
		if !ok {
			return reprompt(len(session.Selection.DayDates)), nil
		}
		session.Selection.SelectedDate = session.Selection.DayDates[idx]
		session.Selection.ShownTimes = nil
		session.Selection.SelectedTime = ""
		return h.advance(step, session)
	}

	dates := session.Selection.WeekDates
	if len(dates) == 0 {
		dates = session.Selection.MonthDates
	}
	if len(dates) == 0 {
		dates = h.candidateDates(ctx, step)
	}
	if month := session.Selection.SelectedMonth; month != "" {
		dates = filterToMonth(dates, month)
	}
	if step.Limit > 0 && len(dates) > step.Limit {
		dates = dates[:step.Limit]
	}
	if len(dates) == 0 {
		return StepResult{Messages: []string{msgNoDays}, WaitForUser: true}, nil
	}
	session.Selection.DayDates = dates
	labels := make([]string, len(dates))
	for i, d := range dates {
		labels[i] = dayLabel(d)
	}
	return h.present(step, session, labels), nil
}

// processHours presents the selected date's times after narrowing them
// through the calendar collaborator, and finalizes the meeting candidate on
// selection.
func (h *DateHandler) processHours(ctx context.Context, step *models.Step, session *models.Session, input string, hasInput bool) (StepResult, error) {
	if hasInput && len(session.Selection.ShownTimes) > 0 {
		idx, ok := parseSelection(input, len(session.Selection.ShownTimes))
		if !ok {
			return reprompt(len(session.Selection.ShownTimes)), nil
		}
		session.Selection.SelectedTime = session.Selection.ShownTimes[idx]
		session.Scheduled = true
		return h.advance(step, session)
	}

	date := session.Selection.SelectedDate
	if date == "" {
		return StepResult{Messages: []string{msgPickDayFirst}, WaitForUser: true}, nil
	}

	availability := h.loadAvailability(ctx)
	times := availability[date]
	times = h.filterTimes(ctx, date, times)
	if step.Limit > 0 && len(times) > step.Limit {
		times = times[:step.Limit]
	}
	if len(times) == 0 {
		return StepResult{Messages: []string{msgNoHours}, WaitForUser: true}, nil
	}
	session.Selection.ShownTimes = times
	return h.present(step, session, times), nil
}

// advance moves to the step's next target and signals auto-continuation.
func (h *DateHandler) advance(step *models.Step, session *models.Session) (StepResult, error) {
	if step.Next == "" {
		return StepResult{WaitForUser: true}, nil
	}
	session.CurrentStep = step.Next
	return StepResult{WaitForUser: false}, nil
}

// present renders the step text followed by the numbered option labels.
func (h *DateHandler) present(step *models.Step, session *models.Session, labels []string) StepResult {
	renderCtx := RenderContext(session)
	var sb strings.Builder
	if text := composeStepText(step, stepBody(step, h.loader), renderCtx); text != "" {
		sb.WriteString(text)
	}
	for i, label := range labels {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, label)
	}
	return StepResult{Messages: []string{sb.String()}, WaitForUser: true}
}

// candidateDates loads the availability map and returns its dates filtered
// and sorted chronologically.
func (h *DateHandler) candidateDates(ctx context.Context, step *models.Step) []string {
	availability := h.loadAvailability(ctx)
	today := time.Now().Format(DateLayout)
	dates := make([]string, 0, len(availability))
	for date, times := range availability {
		if len(times) == 0 {
			continue
		}
		if _, err := time.Parse(DateLayout, date); err != nil {
			slog.Warn("Skipping malformed availability date", "date", date)
			continue
		}
		if step.StartFromToday && date < today {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// loadAvailability fetches the availability map with a bounded timeout; a
// failing provider yields an empty map rather than an error.
func (h *DateHandler) loadAvailability(ctx context.Context) map[string][]string {
	if h.availability == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, AvailabilityTimeout)
	defer cancel()
	availability, err := h.availability.Availability(ctx)
	if err != nil {
		slog.Error("Availability provider failed", "error", err)
		return nil
	}
	return availability
}

// filterTimes narrows times through the calendar collaborator. On failure
// every candidate is treated as available.
func (h *DateHandler) filterTimes(ctx context.Context, date string, times []string) []string {
	if h.calendar == nil || len(times) == 0 {
		return times
	}
	ctx, cancel := context.WithTimeout(ctx, CalendarTimeout)
	defer cancel()
	filtered, err := h.calendar.FilterAvailableTimes(ctx, date, times)
	if err != nil {
		slog.Error("Calendar filter failed, treating all times as available", "error", err, "date", date)
		return times
	}
	return filtered
}

// parseSelection validates a numeric selection within [1, count], returning
// a zero-based index.
func parseSelection(input string, count int) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < 1 || n > count {
		return 0, false
	}
	return n - 1, true
}

// reprompt restates the valid range after an out-of-range or non-numeric
// selection.
func reprompt(count int) StepResult {
	return StepResult{
		Messages:    []string{fmt.Sprintf("Please reply with a number between 1 and %d.", count)},
		WaitForUser: true,
	}
}

// groupByMonth groups sorted dates by (month, year) in chronological order.
func groupByMonth(dates []string) []models.SlotGroup {
	var groups []models.SlotGroup
	index := make(map[string]int)
	for _, date := range dates {
		d, err := time.Parse(DateLayout, date)
		if err != nil {
			continue
		}
		label := d.Format("January 2006")
		i, ok := index[label]
		if !ok {
			index[label] = len(groups)
			groups = append(groups, models.SlotGroup{Label: label})
			i = len(groups) - 1
		}
		groups[i].Dates = append(groups[i].Dates, date)
	}
	return groups
}

// groupByWeek partitions one month's sorted dates into calendar weeks with
// Sunday boundaries. Each week's displayed span is clipped to the month's
// own first and last day.
func groupByWeek(dates []string) []models.SlotGroup {
	var groups []models.SlotGroup
	index := make(map[string]int)
	for _, date := range dates {
		d, err := time.Parse(DateLayout, date)
		if err != nil {
			continue
		}
		weekStart := d.AddDate(0, 0, -int(d.Weekday()))
		weekEnd := weekStart.AddDate(0, 0, 6)
		monthStart := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location())
		monthEnd := monthStart.AddDate(0, 1, -1)
		if weekStart.Before(monthStart) {
			weekStart = monthStart
		}
		if weekEnd.After(monthEnd) {
			weekEnd = monthEnd
		}
		label := weekStart.Format("02/01") + " - " + weekEnd.Format("02/01")
		i, ok := index[label]
		if !ok {
			index[label] = len(groups)
			groups = append(groups, models.SlotGroup{Label: label})
			i = len(groups) - 1
		}
		groups[i].Dates = append(groups[i].Dates, date)
	}
	return groups
}

// filterToMonth keeps only dates in the month named by a "January 2006"
// label.
func filterToMonth(dates []string, monthLabel string) []string {
	month, err := time.Parse("January 2006", monthLabel)
	if err != nil {
		return dates
	}
	filtered := dates[:0:0]
	for _, date := range dates {
		d, err := time.Parse(DateLayout, date)
		if err != nil {
			continue
		}
		if d.Year() == month.Year() && d.Month() == month.Month() {
			filtered = append(filtered, date)
		}
	}
	return filtered
}

// dayLabel formats a date as "Monday 02/01/2006".
func dayLabel(date string) string {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return d.Weekday().String() + " " + d.Format("02/01/2006")
}
