package gcal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bnema/meetjot/internal/adapters/httpclient"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
)

type Config struct {
	BaseURL    string
	CalendarID string
	TokenRef   string
	Timeout    time.Duration
}

// Client inserts CALENDAR_EVENT drafts through the Google Calendar v3 events
// API. The event id is derived from the draft id, so inserting the same draft
// twice answers 409 and resolves to the existing event.
type Client struct {
	endpoint   httpclient.Endpoint
	calendarID string
	tokenRef   string
	secrets    ports.SecretStore
}

var _ ports.Integration = (*Client)(nil)

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type attendee struct {
	Email string `json:"email"`
}

type eventRequest struct {
	ID          string     `json:"id"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       eventTime  `json:"start"`
	End         eventTime  `json:"end"`
	Attendees   []attendee `json:"attendees,omitempty"`
}

type eventResponse struct {
	ID       string `json:"id"`
	HTMLLink string `json:"htmlLink"`
}

func NewClient(cfg Config, secrets ports.SecretStore, httpClient *http.Client) *Client {
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	return &Client{
		endpoint: httpclient.Endpoint{
			BaseURL:        cfg.BaseURL,
			HTTPClient:     httpClient,
			RequestTimeout: cfg.Timeout,
		},
		calendarID: calendarID,
		tokenRef:   cfg.TokenRef,
		secrets:    secrets,
	}
}

func (c *Client) ToolType() domain.ToolType {
	return domain.ToolTypeCalendarEvent
}

func (c *Client) Commit(ctx context.Context, id domain.DraftID, payload json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	event, err := domain.DecodeCalendar(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidPayload, err)
	}

	token, err := httpclient.ResolveSecret(ctx, c.secrets, c.tokenRef)
	if err != nil {
		return "", err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	eventID := EventID(id)
	path := "calendars/" + url.PathEscape(c.calendarID) + "/events"

	var resp eventResponse
	err = c.endpoint.DoJSON(ctx, "insert event", http.MethodPost, path, header, toRequest(eventID, event), &resp)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
			return eventID, nil
		}
		return "", httpclient.RejectedByTarget(err)
	}

	if resp.ID != "" {
		return resp.ID, nil
	}
	return eventID, nil
}

func toRequest(eventID string, event domain.CalendarFields) eventRequest {
	req := eventRequest{
		ID:          eventID,
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		Start:       eventTime{DateTime: event.Start, TimeZone: event.Timezone},
		End:         eventTime{DateTime: event.End, TimeZone: event.Timezone},
	}
	for _, email := range event.Attendees {
		req.Attendees = append(req.Attendees, attendee{Email: email})
	}
	return req
}

// EventID maps a draft id onto the base32hex alphabet the events API accepts
// for client-chosen ids.
func EventID(id domain.DraftID) string {
	return "mj" + hex.EncodeToString([]byte(id))
}
