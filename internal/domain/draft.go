package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type DraftID string
type ToolType string
type DraftStatus string

const (
	ToolTypeTicket        ToolType = "TICKET"
	ToolTypeCalendarEvent ToolType = "CALENDAR_EVENT"
)

const (
	StatusPending   DraftStatus = "PENDING"
	StatusApproved  DraftStatus = "APPROVED"
	StatusRejected  DraftStatus = "REJECTED"
	StatusExecuting DraftStatus = "EXECUTING"
	StatusExecuted  DraftStatus = "EXECUTED"
	StatusError     DraftStatus = "ERROR"
)

var AllStatuses = []DraftStatus{
	StatusPending,
	StatusApproved,
	StatusRejected,
	StatusExecuting,
	StatusExecuted,
	StatusError,
}

// ActionDraft is a staged candidate action awaiting a human decision.
type ActionDraft struct {
	ID           DraftID         `json:"id"`
	ToolType     ToolType        `json:"tool_type"`
	AIPayload    json.RawMessage `json:"ai_payload"`
	FinalPayload json.RawMessage `json:"final_payload,omitempty"`
	Status       DraftStatus     `json:"status"`
	ErrorDetail  string          `json:"error_detail,omitempty"`
	ExternalRef  string          `json:"external_ref,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StatusUpdate carries the fields written atomically with a status transition.
type StatusUpdate struct {
	FinalPayload json.RawMessage
	ErrorDetail  string
	ExternalRef  string
	At           time.Time
}

// DraftFilter selects drafts by status. An empty filter matches every draft.
type DraftFilter struct {
	Statuses []DraftStatus
}

func (f DraftFilter) Matches(status DraftStatus) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

var transitions = map[DraftStatus][]DraftStatus{
	StatusPending:   {StatusApproved, StatusRejected},
	StatusApproved:  {StatusExecuting},
	StatusExecuting: {StatusExecuted, StatusError},
	StatusError:     {StatusApproved},
}

func CanTransition(from, to DraftStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s DraftStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further command can change the draft.
func (s DraftStatus) Terminal() bool {
	return s == StatusRejected || s == StatusExecuted
}

func ParseStatus(raw string) (DraftStatus, error) {
	status := DraftStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown draft status %q", raw)
	}
	return status, nil
}

func (t ToolType) Valid() bool {
	return t == ToolTypeTicket || t == ToolTypeCalendarEvent
}

func ParseToolType(raw string) (ToolType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case string(ToolTypeTicket), "ISSUE":
		return ToolTypeTicket, nil
	case string(ToolTypeCalendarEvent), "CALENDAR", "EVENT", "MEETING":
		return ToolTypeCalendarEvent, nil
	default:
		return "", fmt.Errorf("%w: unknown tool_type %q", ErrInvalidPayload, raw)
	}
}

// EffectivePayload is what execution sends: the edited payload when present.
func (d ActionDraft) EffectivePayload() json.RawMessage {
	if len(d.FinalPayload) > 0 {
		return d.FinalPayload
	}
	return d.AIPayload
}

func (d ActionDraft) Validate() error {
	if strings.TrimSpace(string(d.ID)) == "" {
		return fmt.Errorf("id is required")
	}
	if !d.ToolType.Valid() {
		return fmt.Errorf("unsupported tool type %q", d.ToolType)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("unsupported status %q", d.Status)
	}
	if len(d.AIPayload) == 0 {
		return fmt.Errorf("ai payload is required")
	}
	if d.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Title returns the payload title for display, or the empty string.
func (d ActionDraft) Title() string {
	var fields struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(d.EffectivePayload(), &fields); err != nil {
		return ""
	}
	return fields.Title
}

// ApplyTransition performs a checked status change in memory. It fails with
// ErrInvalidState for a transition outside the lifecycle and with
// ErrStatusConflict when the draft is no longer in from.
func (d *ActionDraft) ApplyTransition(from, to DraftStatus, update StatusUpdate) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidState, from, to)
	}
	if d.Status != from {
		return fmt.Errorf("%w: draft %s is %s, expected %s", ErrStatusConflict, d.ID, d.Status, from)
	}

	d.Status = to
	d.ErrorDetail = update.ErrorDetail
	if len(update.FinalPayload) > 0 {
		d.FinalPayload = update.FinalPayload
	}
	if update.ExternalRef != "" {
		d.ExternalRef = update.ExternalRef
	}
	if !update.At.IsZero() {
		d.UpdatedAt = update.At
	}
	return nil
}
