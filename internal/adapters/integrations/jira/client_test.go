package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/meetjot/internal/application"
	"github.com/bnema/meetjot/internal/domain"
	portmocks "github.com/bnema/meetjot/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const ticketPayload = `{"title":"Fix login page failure","description":"Users see a 500","priority":"urgent","issue_type":"bug","due_date":"2025-12-26"}`

func newTestClient(t *testing.T, server *httptest.Server, user string) *Client {
	t.Helper()

	secrets := portmocks.NewMockSecretStore(t)
	secrets.EXPECT().Get(mock.Anything, "ticket/token").Return("api-token", nil).Maybe()
	return NewClient(Config{
		BaseURL:  server.URL + "/jira",
		Project:  "OPS",
		User:     user,
		TokenRef: "ticket/token",
		Label:    "meetjot",
	}, secrets, server.Client())
}

// fakeJira keeps created issues in memory and answers label searches from
// them. failCreates makes the first n creates answer 502 after the issue was
// stored, the way a gateway timeout in front of Jira does.
type fakeJira struct {
	mu          sync.Mutex
	issues      map[string]string
	creates     int
	searches    int
	failCreates int
}

func newFakeJira(t *testing.T, failCreates int) (*fakeJira, *httptest.Server) {
	t.Helper()

	fake := &fakeJira{issues: map[string]string{}, failCreates: failCreates}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return fake, server
}

func (f *fakeJira) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/jira/rest/api/2/search":
		f.searches++
		issues := []issueResponse{}
		for label, key := range f.issues {
			if r.URL.Query().Get("jql") == `labels = "`+label+`"` {
				issues = append(issues, issueResponse{ID: "1", Key: key})
			}
		}
		_ = json.NewEncoder(w).Encode(searchResponse{Issues: issues})
	case r.Method == http.MethodPost && r.URL.Path == "/jira/rest/api/2/issue":
		f.creates++
		var req issueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		key := "OPS-" + string(rune('0'+len(f.issues)+1))
		for _, label := range req.Fields.Labels {
			if strings.HasPrefix(label, "meetjot-") {
				f.issues[label] = key
			}
		}
		if f.creates <= f.failCreates {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(issueResponse{ID: "1", Key: key})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeJira) counts() (issues, creates, searches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.issues), f.creates, f.searches
}

func TestCommitCreatesIssue(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			assert.Equal(t, "/jira/rest/api/2/search", r.URL.Path)
			assert.Equal(t, `labels = "meetjot-d-1"`, r.URL.Query().Get("jql"))
			_, _ = w.Write([]byte(`{"startAt":0,"maxResults":1,"total":0,"issues":[]}`))
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/jira/rest/api/2/issue", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "api-token", pass)

		var req issueRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "OPS", req.Fields.Project.Key)
		assert.Equal(t, "Fix login page failure", req.Fields.Summary)
		assert.Equal(t, "Users see a 500", req.Fields.Description)
		assert.Equal(t, "Bug", req.Fields.IssueType.Name)
		require.NotNil(t, req.Fields.Priority)
		assert.Equal(t, "Highest", req.Fields.Priority.Name)
		assert.Equal(t, "2025-12-26", req.Fields.DueDate)
		assert.Equal(t, []string{"meetjot", "meetjot-d-1"}, req.Fields.Labels)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"10001","key":"OPS-101","self":"https://jira/rest/api/2/issue/10001"}`))
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server, "bot@example.com")
	ref, err := client.Commit(context.Background(), "d-1", json.RawMessage(ticketPayload))

	require.NoError(t, err)
	assert.Equal(t, "OPS-101", ref)
	assert.Equal(t, domain.ToolTypeTicket, client.ToolType())
}

func TestCommitUsesBearerTokenWithoutUser(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer api-token", r.Header.Get("Authorization"))
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"issues":[]}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"10002","key":"OPS-102"}`))
	}))
	t.Cleanup(server.Close)

	ref, err := newTestClient(t, server, "").Commit(context.Background(), "d-2", json.RawMessage(ticketPayload))

	require.NoError(t, err)
	assert.Equal(t, "OPS-102", ref)
}

func TestCommitClassifiesFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		failMethod    string
		status        int
		wantRejected  bool
		wantTransient bool
	}{
		{name: "validation", failMethod: http.MethodPost, status: http.StatusBadRequest, wantRejected: true},
		{name: "forbidden", failMethod: http.MethodPost, status: http.StatusForbidden, wantRejected: true},
		{name: "unavailable", failMethod: http.MethodPost, status: http.StatusServiceUnavailable, wantTransient: true},
		{name: "throttled", failMethod: http.MethodPost, status: http.StatusTooManyRequests, wantTransient: true},
		{name: "search forbidden", failMethod: http.MethodGet, status: http.StatusForbidden, wantRejected: true},
		{name: "search unavailable", failMethod: http.MethodGet, status: http.StatusServiceUnavailable, wantTransient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != tt.failMethod {
					_, _ = w.Write([]byte(`{"issues":[]}`))
					return
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"errorMessages":[],"errors":{"project":"project is required"}}`))
			}))
			t.Cleanup(server.Close)

			_, err := newTestClient(t, server, "bot@example.com").Commit(context.Background(), "d-1", json.RawMessage(ticketPayload))

			require.Error(t, err)
			assert.Equal(t, tt.wantRejected, errorIs(err, domain.ErrRejectedByTarget))
			assert.Equal(t, tt.wantTransient, errorIs(err, domain.ErrTransient))
			assert.ErrorContains(t, err, "project is required")
		})
	}
}

func TestCommitRetriedAfterLostResponseFilesOneIssue(t *testing.T) {
	t.Parallel()

	fake, server := newFakeJira(t, 1)
	client := newTestClient(t, server, "bot@example.com")

	var ref string
	policy := application.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	attempts, err := policy.Do(context.Background(), func(ctx context.Context) error {
		var err error
		ref, err = client.Commit(ctx, "d-1", json.RawMessage(ticketPayload))
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, "OPS-1", ref)
	issues, creates, searches := fake.counts()
	assert.Equal(t, 1, issues)
	assert.Equal(t, 1, creates)
	assert.Equal(t, 2, searches)
}

func TestCommitReturnsIssueAlreadyLabeledForDraft(t *testing.T) {
	t.Parallel()

	fake, server := newFakeJira(t, 0)
	fake.issues["meetjot-d-1"] = "OPS-42"

	ref, err := newTestClient(t, server, "").Commit(context.Background(), "d-1", json.RawMessage(ticketPayload))

	require.NoError(t, err)
	assert.Equal(t, "OPS-42", ref)
	_, creates, _ := fake.counts()
	assert.Zero(t, creates)

	ref, err = newTestClient(t, server, "").Commit(context.Background(), "d-2", json.RawMessage(ticketPayload))

	require.NoError(t, err)
	assert.Equal(t, "OPS-2", ref)
	issues, creates, _ := fake.counts()
	assert.Equal(t, 2, issues)
	assert.Equal(t, 1, creates)
}

func TestCommitRejectsInvalidPayloadWithoutCalling(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(server.Close)

	_, err := newTestClient(t, server, "").Commit(context.Background(), "d-1", json.RawMessage(`{"title":"x","unknown":true}`))

	require.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.Zero(t, calls.Load())
}

func TestDraftLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "meetjot-7f0c1f0e-0000-4000-8000-000000000001", DraftLabel("7f0c1f0e-0000-4000-8000-000000000001"))
}

func errorIs(err, target error) bool {
	return errors.Is(err, target)
}
