package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ReferenceContext anchors relative time expressions.
type ReferenceContext struct {
	Now      time.Time
	Location *time.Location
}

func NewReferenceContext(now time.Time, loc *time.Location) ReferenceContext {
	if loc == nil {
		loc = time.UTC
	}
	return ReferenceContext{Now: now.In(loc), Location: loc}
}

// Date is midnight of the reference day in the reference location.
func (r ReferenceContext) Date() time.Time {
	y, m, d := r.Now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.location())
}

func (r ReferenceContext) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// NextWeekday returns the first date strictly after ref that falls on target.
// When ref already is target the result is one week later.
func NextWeekday(ref time.Time, target time.Weekday) time.Time {
	days := (int(target) - int(ref.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return ref.AddDate(0, 0, days)
}

// ThisWeekday returns the first date on or after ref that falls on target.
func ThisWeekday(ref time.Time, target time.Weekday) time.Time {
	days := (int(target) - int(ref.Weekday()) + 7) % 7
	return ref.AddDate(0, 0, days)
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var smallNumbers = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

var (
	reInOffset  = regexp.MustCompile(`^in (\w+) (day|days|week|weeks)$`)
	reTimeOfDay = regexp.MustCompile(`(?:^|\s)(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

// ResolveDate turns a relative or ISO day expression into a calendar date.
func (r ReferenceContext) ResolveDate(expr string) (time.Time, error) {
	text := normalizeExpr(expr)
	ref := r.Date()

	if parsed, err := time.ParseInLocation(DateLayout, text, r.location()); err == nil {
		return parsed, nil
	}

	switch text {
	case "today", "tonight", "this evening", "this afternoon", "this morning":
		return ref, nil
	case "tomorrow":
		return ref.AddDate(0, 0, 1), nil
	case "day after tomorrow", "the day after tomorrow":
		return ref.AddDate(0, 0, 2), nil
	case "next week":
		return ref.AddDate(0, 0, 7), nil
	}

	if m := reInOffset.FindStringSubmatch(text); m != nil {
		n, ok := smallNumbers[m[1]]
		if !ok {
			parsed, err := strconv.Atoi(m[1])
			if err != nil || parsed < 0 {
				return time.Time{}, fmt.Errorf("unsupported offset %q", m[1])
			}
			n = parsed
		}
		if strings.HasPrefix(m[2], "week") {
			n *= 7
		}
		return ref.AddDate(0, 0, n), nil
	}

	words := strings.Fields(text)
	switch {
	case len(words) == 2 && words[0] == "next":
		if wd, ok := weekdays[words[1]]; ok {
			return NextWeekday(ref, wd), nil
		}
	case len(words) == 2 && words[0] == "this":
		if wd, ok := weekdays[words[1]]; ok {
			return ThisWeekday(ref, wd), nil
		}
	case len(words) == 2 && words[0] == "on":
		if wd, ok := weekdays[words[1]]; ok {
			return NextWeekday(ref, wd), nil
		}
	case len(words) == 1:
		if wd, ok := weekdays[words[0]]; ok {
			return NextWeekday(ref, wd), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date expression %q", expr)
}

// ResolveDateTime turns "next friday at 3pm", "tomorrow 09:30" or an RFC3339
// value into an instant in the reference location. A missing time of day
// resolves to defaultHour:00.
func (r ReferenceContext) ResolveDateTime(expr string, defaultHour int) (time.Time, error) {
	trimmed := strings.TrimSpace(expr)
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed, nil
	}
	if parsed, err := time.ParseInLocation("2006-01-02T15:04:05", trimmed, r.location()); err == nil {
		return parsed, nil
	}
	if parsed, err := time.ParseInLocation("2006-01-02 15:04", trimmed, r.location()); err == nil {
		return parsed, nil
	}

	text := normalizeExpr(trimmed)
	hour, minute := defaultHour, 0
	datePart := text

	switch {
	case strings.HasSuffix(text, " at noon") || strings.HasSuffix(text, " noon"):
		hour = 12
		datePart = strings.TrimSpace(strings.TrimSuffix(text, "noon"))
		datePart = strings.TrimSpace(strings.TrimSuffix(datePart, " at"))
	default:
		if m := reTimeOfDay.FindStringSubmatchIndex(text); m != nil && m[0] > 0 {
			h, _ := strconv.Atoi(text[m[2]:m[3]])
			min := 0
			if m[4] >= 0 {
				min, _ = strconv.Atoi(text[m[4]:m[5]])
			}
			if m[6] >= 0 {
				switch text[m[6]:m[7]] {
				case "pm":
					if h < 12 {
						h += 12
					}
				case "am":
					if h == 12 {
						h = 0
					}
				}
			}
			if h > 23 || min > 59 {
				return time.Time{}, fmt.Errorf("invalid time of day in %q", expr)
			}
			hour, minute = h, min
			datePart = strings.TrimSpace(text[:m[0]])
		}
	}

	day, err := r.ResolveDate(datePart)
	if err != nil {
		return time.Time{}, err
	}

	y, mo, d := day.Date()
	return time.Date(y, mo, d, hour, minute, 0, 0, r.location()), nil
}

// UpcomingWeekdays lists what "next <weekday>" means for every weekday,
// starting from the day after the reference date.
func (r ReferenceContext) UpcomingWeekdays() []string {
	ref := r.Date()
	lines := make([]string, 0, 7)
	for i := 1; i <= 7; i++ {
		day := ref.AddDate(0, 0, i)
		lines = append(lines, fmt.Sprintf("next %s = %s", day.Weekday(), day.Format(DateLayout)))
	}
	return lines
}

func normalizeExpr(expr string) string {
	text := strings.ToLower(strings.TrimSpace(expr))
	text = strings.TrimSuffix(text, ".")
	return strings.Join(strings.Fields(text), " ")
}
