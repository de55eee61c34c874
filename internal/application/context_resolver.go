package application

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
)

// calendarDefaultHour is used when a calendar expression names a day only.
const calendarDefaultHour = 9

type ContextResolver struct {
	clock    ports.Clock
	location *time.Location
}

func NewContextResolver(clock ports.Clock, location *time.Location) *ContextResolver {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if location == nil {
		location = time.Local
	}

	return &ContextResolver{clock: clock, location: location}
}

// Reference captures "now" once so every expression in an extraction run
// resolves against the same date.
func (r *ContextResolver) Reference() domain.ReferenceContext {
	return domain.NewReferenceContext(r.clock.Now(), r.location)
}

// At pins the reference date, for replays of older transcripts.
func (r *ContextResolver) At(date time.Time) domain.ReferenceContext {
	return domain.NewReferenceContext(date, r.location)
}

// PromptBlock is the context block handed to the reasoning call.
func PromptBlock(ref domain.ReferenceContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reference date: %s (%s)\n", ref.Date().Format(domain.DateLayout), ref.Now.Weekday())
	fmt.Fprintf(&b, "Reference time: %s\n", ref.Now.Format("15:04"))
	fmt.Fprintf(&b, "Timezone: %s\n", ref.Location.String())
	b.WriteString("A weekday name means its first occurrence strictly after the reference date:\n")
	for _, line := range ref.UpcomingWeekdays() {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// ResolveCandidateDates rewrites relative expressions left in a candidate's
// date fields into ISO values. Fields that do not parse are left untouched
// so schema validation reports them.
func ResolveCandidateDates(ref domain.ReferenceContext, toolType domain.ToolType, raw json.RawMessage) json.RawMessage {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return raw
	}

	changed := false
	switch toolType {
	case domain.ToolTypeTicket:
		if value, ok := fields["due_date"].(string); ok && value != "" {
			if resolved, err := ref.ResolveDate(value); err == nil {
				fields["due_date"] = resolved.Format(domain.DateLayout)
				changed = true
			}
		}
	case domain.ToolTypeCalendarEvent:
		for _, key := range []string{"start", "end"} {
			value, ok := fields[key].(string)
			if !ok || value == "" {
				continue
			}
			if resolved, err := ref.ResolveDateTime(value, calendarDefaultHour); err == nil {
				fields[key] = resolved.Format(time.RFC3339)
				changed = true
			}
		}
		if _, ok := fields["timezone"]; !ok && ref.Location != nil && ref.Location != time.Local {
			fields["timezone"] = ref.Location.String()
			changed = true
		}
	}

	if !changed {
		return raw
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return encoded
}
