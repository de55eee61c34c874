package drafts

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDrafts(now time.Time) []domain.ActionDraft {
	return []domain.ActionDraft{
		{
			ID:        "d-1",
			ToolType:  domain.ToolTypeTicket,
			AIPayload: json.RawMessage(`{"title":"Fix login page failure","priority":"high"}`),
			Status:    domain.StatusPending,
			SessionID: "session-1",
			CreatedAt: now.Add(-3 * time.Hour),
			UpdatedAt: now.Add(-3 * time.Hour),
		},
		{
			ID:          "d-2",
			ToolType:    domain.ToolTypeCalendarEvent,
			AIPayload:   json.RawMessage(`{"title":"Release sync","start":"2025-12-22T15:00:00Z"}`),
			Status:      domain.StatusExecuted,
			ExternalRef: "mj642d32",
			CreatedAt:   now.Add(-2 * time.Hour),
			UpdatedAt:   now.Add(-90 * time.Second),
		},
		{
			ID:           "d-3",
			ToolType:     domain.ToolTypeTicket,
			AIPayload:    json.RawMessage(`{"title":"Old title"}`),
			FinalPayload: json.RawMessage(`{"title":"Write release notes"}`),
			Status:       domain.StatusError,
			ErrorDetail:  "rejected by external system: project does not exist",
			CreatedAt:    now.Add(-49 * time.Hour),
			UpdatedAt:    now.Add(-49 * time.Hour),
		},
	}
}

func TestRenderDraftList(t *testing.T) {
	now := time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC)

	output, err := Render(sampleDrafts(now), RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "Staged Drafts")
	assert.Contains(t, output, "drafts: 3  pending: 1  executed: 1  error: 1")
	assert.Contains(t, output, "Fix login page failure")
	assert.Contains(t, output, "3 hours ago")
	assert.Contains(t, output, "1 minute ago")
	assert.Contains(t, output, "2 days ago")
	assert.Contains(t, output, "-> mj642d32")
	assert.Contains(t, output, "[rejected by external system")
	assert.Contains(t, output, "Write release notes")
	assert.NotContains(t, output, "Old title")
}

func TestRenderEmptyList(t *testing.T) {
	output, err := Render(nil, RenderOptions{})

	require.NoError(t, err)
	assert.Contains(t, output, "drafts: 0")
	assert.Contains(t, output, "No drafts staged.")
}

func TestRenderDetailShowsPayloads(t *testing.T) {
	now := time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC)
	drafts := sampleDrafts(now)

	output, err := Render(drafts[2:], RenderOptions{Now: now, Detail: true})

	require.NoError(t, err)
	assert.Contains(t, output, "d-3")
	assert.Contains(t, output, "ERROR")
	assert.Contains(t, output, "title: Write release notes")
	assert.Contains(t, output, "ai payload:")
	assert.Contains(t, output, `"title": "Old title"`)
	assert.Contains(t, output, "final payload:")
	assert.Contains(t, output, "error: rejected by external system")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		value string
		width int
		want  string
	}{
		{name: "short", value: "Fix login", width: 10, want: "Fix login"},
		{name: "collapses whitespace", value: "Fix\n  login", width: 10, want: "Fix login"},
		{name: "long", value: strings.Repeat("a", 12), width: 5, want: "aaaa…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.value, tt.width))
		})
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "just now", formatAge(now.Add(-10*time.Second), now))
	assert.Equal(t, "5 minutes ago", formatAge(now.Add(-5*time.Minute), now))
	assert.Equal(t, "1 hour ago", formatAge(now.Add(-time.Hour), now))
	assert.Equal(t, "unknown", formatAge(time.Time{}, now))
	assert.Equal(t, "2025-12-20T11:00:00Z", formatAge(now.Add(-time.Hour), time.Time{}))
}

func TestTitleColumn(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		idWidth int
		want    int
	}{
		{name: "no terminal", width: 0, idWidth: 36, want: titleWidth},
		{name: "wide terminal is capped", width: 400, idWidth: 36, want: maxTitleWidth},
		{name: "narrow terminal keeps a floor", width: 40, idWidth: 36, want: minTitleWidth},
		{name: "fits remaining columns", width: 120, idWidth: 36, want: 120 - 36 - fixedRowWidth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, titleColumn(tt.width, tt.idWidth))
		})
	}
}

func TestModelReflowsOnWindowSize(t *testing.T) {
	now := time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC)
	drafts := []domain.ActionDraft{{
		ID:        "d-1",
		ToolType:  domain.ToolTypeTicket,
		AIPayload: json.RawMessage(`{"title":"` + strings.Repeat("long title ", 5) + `"}`),
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	wide, err := Render(drafts, RenderOptions{Now: now, Width: 200})
	require.NoError(t, err)
	assert.NotContains(t, wide, "…")

	updated, _ := newModel(drafts, RenderOptions{Now: now, Width: 200}).Update(tea.WindowSizeMsg{Width: 60, Height: 20})
	narrow := updated.(model).View()
	assert.Contains(t, narrow, "…")
}
