package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bnema/meetjot/internal/adapters/audio/wavfile"
	sqliterepo "github.com/bnema/meetjot/internal/adapters/repo/sqlite"
	"github.com/bnema/meetjot/internal/application"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/logging"
	"github.com/bnema/meetjot/internal/metrics"
	"github.com/bnema/meetjot/internal/ports"
	"github.com/bnema/meetjot/internal/ports/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	server      *Server
	repo        ports.DraftRepository
	integration *mocks.MockIntegration
}

func setupTestServer(t *testing.T, autoDispatch bool) testAPI {
	t.Helper()

	repo, err := sqliterepo.Open(context.Background(), filepath.Join(t.TempDir(), "drafts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	integration := mocks.NewMockIntegration(t)
	integration.EXPECT().ToolType().Return(domain.ToolTypeTicket)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	logger := logging.NewTestLogger().Logger
	staging := application.NewStagingService(repo, nil, domain.DefaultSchemas(), nil, logger, m)
	dispatcher := application.NewExecutionDispatcher(repo, []ports.Integration{integration}, nil,
		application.RetryPolicy{MaxAttempts: 1}, time.Second, nil, logger, m)
	t.Cleanup(dispatcher.Close)

	server := NewServer(Options{
		Staging:      staging,
		Dispatcher:   dispatcher,
		Gatherer:     registry,
		AutoDispatch: autoDispatch,
	}, logger)
	return testAPI{server: server, repo: repo, integration: integration}
}

func (a testAPI) stage(t *testing.T, id string) domain.ActionDraft {
	t.Helper()
	created := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	draft := domain.ActionDraft{
		ID:        domain.DraftID(id),
		ToolType:  domain.ToolTypeTicket,
		AIPayload: json.RawMessage(`{"title":"Fix login page failure","priority":"high","issue_type":"bug"}`),
		Status:    domain.StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, a.repo.Insert(context.Background(), draft))
	return draft
}

func (a testAPI) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) application.CommandResult {
	t.Helper()
	var result application.CommandResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

func TestHandleHealth(t *testing.T) {
	api := setupTestServer(t, false)

	rec := api.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestListDrafts(t *testing.T) {
	api := setupTestServer(t, false)
	api.stage(t, "d-1")
	api.stage(t, "d-2")
	api.do(t, http.MethodPost, "/api/v1/drafts/d-2/reject", "")

	tests := []struct {
		name    string
		target  string
		code    int
		wantIDs []domain.DraftID
	}{
		{name: "all", target: "/api/v1/drafts", code: http.StatusOK, wantIDs: []domain.DraftID{"d-1", "d-2"}},
		{name: "pending", target: "/api/v1/drafts?status=pending", code: http.StatusOK, wantIDs: []domain.DraftID{"d-1"}},
		{name: "comma separated", target: "/api/v1/drafts?status=PENDING,REJECTED", code: http.StatusOK, wantIDs: []domain.DraftID{"d-1", "d-2"}},
		{name: "none match", target: "/api/v1/drafts?status=executed", code: http.StatusOK, wantIDs: []domain.DraftID{}},
		{name: "unknown status", target: "/api/v1/drafts?status=done", code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodGet, tt.target, "")
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}

			var drafts []domain.ActionDraft
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drafts))
			ids := make([]domain.DraftID, 0, len(drafts))
			for _, draft := range drafts {
				ids = append(ids, draft.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestGetDraftNotFound(t *testing.T) {
	api := setupTestServer(t, false)

	rec := api.do(t, http.MethodGet, "/api/v1/drafts/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "draft not found")
}

func TestEditDraft(t *testing.T) {
	api := setupTestServer(t, false)
	api.stage(t, "d-1")

	rec := api.do(t, http.MethodPut, "/api/v1/drafts/d-1/payload", `{"payload":{"title":"Fix login page","priority":"urgent"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeResult(t, rec)
	assert.Equal(t, application.OutcomeApplied, result.Outcome)
	assert.Contains(t, string(result.Draft.FinalPayload), `"priority":"urgent"`)

	rec = api.do(t, http.MethodPut, "/api/v1/drafts/d-1/payload", `{"payload":{"priority":"urgent"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Problems)

	rec = api.do(t, http.MethodPut, "/api/v1/drafts/d-1/payload", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveThenDuplicateApproveIsNoop(t *testing.T) {
	api := setupTestServer(t, false)
	api.stage(t, "d-1")

	rec := api.do(t, http.MethodPost, "/api/v1/drafts/d-1/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeResult(t, rec)
	assert.Equal(t, application.OutcomeApplied, first.Outcome)
	assert.Equal(t, domain.StatusApproved, first.Draft.Status)

	rec = api.do(t, http.MethodPost, "/api/v1/drafts/d-1/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, application.OutcomeNoop, decodeResult(t, rec).Outcome)

	rec = api.do(t, http.MethodPost, "/api/v1/drafts/d-1/reject", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveWithAutoDispatchExecutes(t *testing.T) {
	api := setupTestServer(t, true)
	api.stage(t, "d-1")
	api.integration.EXPECT().Commit(mock.Anything, domain.DraftID("d-1"), mock.MatchedBy(func(payload json.RawMessage) bool {
		return bytes.Contains(payload, []byte(`"title":"Fix login now"`))
	})).Return("OPS-7", nil).Once()

	rec := api.do(t, http.MethodPost, "/api/v1/drafts/d-1/approve", `{"payload":{"title":"Fix login now"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		draft, err := api.repo.GetByID(context.Background(), "d-1")
		return err == nil && draft.Status == domain.StatusExecuted
	}, 5*time.Second, 10*time.Millisecond)

	rec = api.do(t, http.MethodGet, "/api/v1/drafts/d-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var draft domain.ActionDraft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	assert.Equal(t, "OPS-7", draft.ExternalRef)
}

func TestExecuteFailureThenRetry(t *testing.T) {
	api := setupTestServer(t, false)
	api.stage(t, "d-1")
	api.integration.EXPECT().Commit(mock.Anything, domain.DraftID("d-1"), mock.Anything).
		Return("", assert.AnError).Once()

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/v1/drafts/d-1/approve", "").Code)

	rec := api.do(t, http.MethodPost, "/api/v1/drafts/d-1/execute", "")
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decodeResult(t, rec)
	assert.Equal(t, domain.StatusError, failed.Draft.Status)
	assert.NotEmpty(t, failed.Draft.ErrorDetail)

	rec = api.do(t, http.MethodPost, "/api/v1/drafts/d-1/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusApproved, decodeResult(t, rec).Draft.Status)

	rec = api.do(t, http.MethodPost, "/api/v1/drafts/d-1/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	api := setupTestServer(t, false)
	api.stage(t, "d-1")
	api.do(t, http.MethodPost, "/api/v1/drafts/d-1/reject", "")

	rec := api.do(t, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `meetjot_draft_transitions_total{from="PENDING",to="REJECTED"} 1`)
}

func TestSessionRoutesWithoutCapture(t *testing.T) {
	api := setupTestServer(t, false)

	rec := api.do(t, http.MethodPost, "/api/v1/session/start", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSessionStartStop(t *testing.T) {
	api := setupTestServer(t, false)

	segment := domain.AudioSegment{
		Format:  domain.AudioFormat{SampleRate: 10, Channels: 1},
		Samples: make([]int16, 5),
	}
	recording := filepath.Join(t.TempDir(), "mic.wav")
	require.NoError(t, os.WriteFile(recording, segment.WAV(), 0o600))

	stt := mocks.NewMockSpeechToText(t)
	stt.EXPECT().Transcribe(mock.Anything, mock.Anything).Return("", nil).Once()
	reasoner := mocks.NewMockReasoner(t)

	retry := application.RetryPolicy{MaxAttempts: 1}
	sessions := application.NewSessionService(
		wavfile.NewFactory(map[domain.Channel]string{domain.ChannelMic: recording}),
		application.SessionOptions{
			Capture: application.CaptureOptions{
				SegmentDuration: time.Second,
				Channels:        []domain.Channel{domain.ChannelMic},
			},
			DrainTimeout: time.Second,
		},
		application.NewTranscriptionClient(stt, retry, nil, nil, nil),
		application.NewExtractionEngine(reasoner, api.repo, nil, domain.DefaultSchemas(), retry, nil, nil, nil),
		application.NewContextResolver(nil, time.UTC),
		nil, nil, nil,
	)
	api.server.opts.Sessions = sessions

	rec := api.do(t, http.MethodPost, "/api/v1/session/start", `{"channels":["mic"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var info application.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.NotEmpty(t, info.ID)

	rec = api.do(t, http.MethodPost, "/api/v1/session/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/health", "")
	assert.Contains(t, rec.Body.String(), info.ID)

	active, ok := sessions.ActiveSession()
	require.True(t, ok)
	select {
	case <-active.Ended():
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not finish")
	}

	rec = api.do(t, http.MethodPost, "/api/v1/session/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary application.SessionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, info.ID, summary.SessionID)
	assert.Equal(t, 1, summary.Segments)

	rec = api.do(t, http.MethodPost, "/api/v1/session/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/session/start", `{"channels":["tape"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
