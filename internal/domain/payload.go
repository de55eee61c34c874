package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

type TicketFields struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority"`
	IssueType   string `json:"issue_type"`
	DueDate     string `json:"due_date,omitempty"`
}

type CalendarFields struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Timezone    string   `json:"timezone,omitempty"`
	Location    string   `json:"location,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
}

// SchemaSet holds the per tool_type payload rules.
type SchemaSet struct {
	TicketPriorities     []string
	TicketIssueTypes     []string
	DefaultPriority      string
	DefaultIssueType     string
	DefaultEventDuration time.Duration
}

func DefaultSchemas() SchemaSet {
	return SchemaSet{
		TicketPriorities:     []string{"low", "medium", "high", "urgent"},
		TicketIssueTypes:     []string{"bug", "task", "story"},
		DefaultPriority:      "medium",
		DefaultIssueType:     "task",
		DefaultEventDuration: 30 * time.Minute,
	}
}

// ValidationError lists every problem found in one payload.
type ValidationError struct {
	ToolType ToolType
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.ToolType, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPayload
}

// Normalize validates raw against the schema for toolType and returns the
// canonical encoding with defaults applied.
func (s SchemaSet) Normalize(toolType ToolType, raw json.RawMessage) (json.RawMessage, error) {
	switch toolType {
	case ToolTypeTicket:
		fields, err := DecodeTicket(raw)
		if err != nil {
			return nil, &ValidationError{ToolType: toolType, Problems: []string{err.Error()}}
		}
		fields, problems := s.normalizeTicket(fields)
		if len(problems) > 0 {
			return nil, &ValidationError{ToolType: toolType, Problems: problems}
		}
		return json.Marshal(fields)
	case ToolTypeCalendarEvent:
		fields, err := DecodeCalendar(raw)
		if err != nil {
			return nil, &ValidationError{ToolType: toolType, Problems: []string{err.Error()}}
		}
		fields, problems := s.normalizeCalendar(fields)
		if len(problems) > 0 {
			return nil, &ValidationError{ToolType: toolType, Problems: problems}
		}
		return json.Marshal(fields)
	default:
		return nil, &ValidationError{ToolType: toolType, Problems: []string{fmt.Sprintf("unsupported tool_type %q", toolType)}}
	}
}

func (s SchemaSet) normalizeTicket(f TicketFields) (TicketFields, []string) {
	var problems []string

	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	if f.Title == "" {
		problems = append(problems, "title is required")
	}
	if len(f.Title) > 255 {
		problems = append(problems, "title must be at most 255 characters")
	}

	f.Priority = strings.ToLower(strings.TrimSpace(f.Priority))
	if f.Priority == "" {
		f.Priority = s.DefaultPriority
	}
	if !slices.Contains(s.TicketPriorities, f.Priority) {
		problems = append(problems, fmt.Sprintf("priority must be one of %s", strings.Join(s.TicketPriorities, ", ")))
	}

	f.IssueType = strings.ToLower(strings.TrimSpace(f.IssueType))
	if f.IssueType == "" {
		f.IssueType = s.DefaultIssueType
	}
	if !slices.Contains(s.TicketIssueTypes, f.IssueType) {
		problems = append(problems, fmt.Sprintf("issue_type must be one of %s", strings.Join(s.TicketIssueTypes, ", ")))
	}

	f.DueDate = strings.TrimSpace(f.DueDate)
	if f.DueDate != "" {
		if _, err := time.Parse(DateLayout, f.DueDate); err != nil {
			problems = append(problems, fmt.Sprintf("due_date %q must be an ISO date (YYYY-MM-DD)", f.DueDate))
		}
	}

	return f, problems
}

func (s SchemaSet) normalizeCalendar(f CalendarFields) (CalendarFields, []string) {
	var problems []string

	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	f.Location = strings.TrimSpace(f.Location)
	if f.Title == "" {
		problems = append(problems, "title is required")
	}

	f.Timezone = strings.TrimSpace(f.Timezone)
	if f.Timezone != "" {
		if _, err := time.LoadLocation(f.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("timezone %q is not a known IANA zone", f.Timezone))
		}
	}

	var start time.Time
	f.Start = strings.TrimSpace(f.Start)
	if f.Start == "" {
		problems = append(problems, "start is required")
	} else {
		parsed, err := time.Parse(time.RFC3339, f.Start)
		if err != nil {
			problems = append(problems, fmt.Sprintf("start %q must be an RFC3339 timestamp", f.Start))
		}
		start = parsed
	}

	f.End = strings.TrimSpace(f.End)
	if f.End == "" && !start.IsZero() {
		f.End = start.Add(s.DefaultEventDuration).Format(time.RFC3339)
	} else if f.End != "" {
		end, err := time.Parse(time.RFC3339, f.End)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("end %q must be an RFC3339 timestamp", f.End))
		case !start.IsZero() && !end.After(start):
			problems = append(problems, "end must be after start")
		}
	}

	attendees := make([]string, 0, len(f.Attendees))
	for _, attendee := range f.Attendees {
		attendee = strings.TrimSpace(attendee)
		if attendee == "" {
			continue
		}
		if _, err := mail.ParseAddress(attendee); err != nil {
			problems = append(problems, fmt.Sprintf("attendee %q is not an email address", attendee))
			continue
		}
		attendees = append(attendees, attendee)
	}
	f.Attendees = attendees

	return f, problems
}

func DecodeTicket(raw json.RawMessage) (TicketFields, error) {
	var fields TicketFields
	if err := decodeStrict(raw, &fields); err != nil {
		return TicketFields{}, err
	}
	return fields, nil
}

func DecodeCalendar(raw json.RawMessage) (CalendarFields, error) {
	var fields CalendarFields
	if err := decodeStrict(raw, &fields); err != nil {
		return CalendarFields{}, err
	}
	return fields, nil
}

func decodeStrict(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("payload is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("decode payload: trailing data after object")
	}
	return nil
}
