package flow

import (
	"strings"
	"time"

	"github.com/leadflowhq/leadflow/internal/models"
)

// DateLayout is the internal date format used across the flow package.
const DateLayout = "2006-01-02"

// RenderContext builds the placeholder substitution map for one render
// call: the session data bag plus contextual extras such as the scheduled
// meeting's day name, date and time.
func RenderContext(session *models.Session) map[string]string {
	ctx := make(map[string]string, len(session.Data)+4)
	for k, v := range session.Data {
		ctx[k] = v
	}
	sel := session.Selection
	if sel.SelectedDate != "" {
		ctx["meeting_date"] = DisplayDate(sel.SelectedDate)
		if d, err := time.Parse(DateLayout, sel.SelectedDate); err == nil {
			ctx["meeting_day"] = d.Weekday().String()
		}
	}
	if sel.SelectedTime != "" {
		ctx["meeting_time"] = sel.SelectedTime
	}
	return ctx
}

// Render substitutes {placeholder} references in text from the given map in
// a single pass. Unknown placeholders are left untouched.
func Render(text string, ctx map[string]string) string {
	if len(ctx) == 0 || !strings.ContainsRune(text, '{') {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	for {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			sb.WriteString(text)
			break
		}
		close := strings.IndexByte(text[open:], '}')
		if close < 0 {
			sb.WriteString(text)
			break
		}
		close += open
		key := text[open+1 : close]
		if value, ok := ctx[key]; ok {
			sb.WriteString(text[:open])
			sb.WriteString(value)
		} else {
			sb.WriteString(text[:close+1])
		}
		text = text[close+1:]
	}
	return sb.String()
}

// DisplayDate formats an internal date as DD/MM/YYYY for user-facing text.
func DisplayDate(date string) string {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("02/01/2006")
}

// composeStepText renders header, body and footer into one message,
// skipping empty parts.
func composeStepText(step *models.Step, body string, ctx map[string]string) string {
	parts := make([]string, 0, 3)
	if step.Header != "" {
		parts = append(parts, Render(step.Header, ctx))
	}
	if body != "" {
		parts = append(parts, Render(body, ctx))
	}
	if step.Footer != "" {
		parts = append(parts, Render(step.Footer, ctx))
	}
	return strings.Join(parts, "\n")
}
