package jira

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/meetjot/internal/adapters/httpclient"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
)

const (
	issuePath  = "rest/api/2/issue"
	searchPath = "rest/api/2/search"
)

type Config struct {
	BaseURL  string
	Project  string
	User     string
	TokenRef string
	Label    string
	Timeout  time.Duration
}

// Client files TICKET drafts as issues through the Jira REST API v2. Each
// issue carries a draft label so it can be traced back, and Commit looks
// that label up before creating so a retried commit returns the issue an
// earlier attempt already filed.
type Client struct {
	endpoint httpclient.Endpoint
	project  string
	user     string
	tokenRef string
	label    string
	secrets  ports.SecretStore
}

var _ ports.Integration = (*Client)(nil)

type issueRequest struct {
	Fields issueFields `json:"fields"`
}

type named struct {
	Name string `json:"name,omitempty"`
	Key  string `json:"key,omitempty"`
}

type issueFields struct {
	Project     named    `json:"project"`
	Summary     string   `json:"summary"`
	Description string   `json:"description,omitempty"`
	IssueType   named    `json:"issuetype"`
	Priority    *named   `json:"priority,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	DueDate     string   `json:"duedate,omitempty"`
}

type issueResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

func (r issueResponse) ref() string {
	if r.Key != "" {
		return r.Key
	}
	return r.ID
}

type searchResponse struct {
	Issues []issueResponse `json:"issues"`
}

var priorityNames = map[string]string{
	"low":    "Low",
	"medium": "Medium",
	"high":   "High",
	"urgent": "Highest",
}

func NewClient(cfg Config, secrets ports.SecretStore, httpClient *http.Client) *Client {
	return &Client{
		endpoint: httpclient.Endpoint{
			BaseURL:        cfg.BaseURL,
			HTTPClient:     httpClient,
			RequestTimeout: cfg.Timeout,
		},
		project:  cfg.Project,
		user:     cfg.User,
		tokenRef: cfg.TokenRef,
		label:    cfg.Label,
		secrets:  secrets,
	}
}

func (c *Client) ToolType() domain.ToolType {
	return domain.ToolTypeTicket
}

func (c *Client) Commit(ctx context.Context, id domain.DraftID, payload json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.project == "" {
		return "", errors.New("ticket.project is not configured")
	}

	ticket, err := domain.DecodeTicket(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidPayload, err)
	}

	token, err := httpclient.ResolveSecret(ctx, c.secrets, c.tokenRef)
	if err != nil {
		return "", err
	}

	header := c.authHeader(token)
	existing, err := c.findIssue(ctx, id, header)
	if err != nil {
		return "", httpclient.RejectedByTarget(err)
	}
	if existing != "" {
		return existing, nil
	}

	var resp issueResponse
	err = c.endpoint.DoJSON(ctx, "create issue", http.MethodPost, issuePath, header, issueRequest{Fields: c.fields(id, ticket)}, &resp)
	if err != nil {
		return "", httpclient.RejectedByTarget(err)
	}

	if ref := resp.ref(); ref != "" {
		return ref, nil
	}
	return "", fmt.Errorf("create issue: response carries no issue key")
}

// findIssue returns the key of the issue already labeled for draft id, or ""
// when there is none.
func (c *Client) findIssue(ctx context.Context, id domain.DraftID, header http.Header) (string, error) {
	query := url.Values{
		"jql":        {fmt.Sprintf("labels = %q", DraftLabel(id))},
		"fields":     {"key"},
		"maxResults": {"1"},
	}

	var resp searchResponse
	err := c.endpoint.DoJSON(ctx, "search issues", http.MethodGet, searchPath+"?"+query.Encode(), header, nil, &resp)
	if err != nil {
		return "", err
	}
	for _, issue := range resp.Issues {
		if ref := issue.ref(); ref != "" {
			return ref, nil
		}
	}
	return "", nil
}

func (c *Client) fields(id domain.DraftID, ticket domain.TicketFields) issueFields {
	fields := issueFields{
		Project:     named{Key: c.project},
		Summary:     ticket.Title,
		Description: ticket.Description,
		IssueType:   named{Name: capitalize(ticket.IssueType)},
		Labels:      []string{DraftLabel(id)},
		DueDate:     ticket.DueDate,
	}
	if c.label != "" {
		fields.Labels = append([]string{c.label}, fields.Labels...)
	}
	if name, ok := priorityNames[ticket.Priority]; ok {
		fields.Priority = &named{Name: name}
	} else if ticket.Priority != "" {
		fields.Priority = &named{Name: capitalize(ticket.Priority)}
	}
	return fields
}

func (c *Client) authHeader(token string) http.Header {
	header := http.Header{}
	switch {
	case token == "":
	case c.user != "":
		credentials := base64.StdEncoding.EncodeToString([]byte(c.user + ":" + token))
		header.Set("Authorization", "Basic "+credentials)
	default:
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

// DraftLabel is the label that ties an issue to the draft it came from.
func DraftLabel(id domain.DraftID) string {
	return "meetjot-" + strings.ReplaceAll(string(id), " ", "-")
}

func capitalize(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
