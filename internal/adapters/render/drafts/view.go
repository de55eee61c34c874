package drafts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

const (
	titleWidth    = 48
	minTitleWidth = 16
	maxTitleWidth = 96
	// status, tool and age columns plus separators
	fixedRowWidth = 9 + 2 + 8 + 2 + 1 + 16 + 2
)

type RenderOptions struct {
	Now    time.Time
	Detail bool
	// Width is the terminal width in columns; 0 keeps the default title
	// column.
	Width int
}

func titleColumn(width, idWidth int) int {
	if width <= 0 {
		return titleWidth
	}
	return min(max(width-idWidth-fixedRowWidth, minTitleWidth), maxTitleWidth)
}

func renderList(drafts []domain.ActionDraft, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Staged Drafts"),
		s.header.Render(countsLine(drafts)),
	}

	if len(drafts) == 0 {
		lines = append(lines, s.empty.Render("No drafts staged."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	idWidth := 0
	for _, draft := range drafts {
		idWidth = max(idWidth, len(draft.ID))
	}

	titleCols := titleColumn(opts.Width, idWidth)
	rows := make([]string, 0, len(drafts))
	for _, draft := range drafts {
		rows = append(rows, draftRow(draft, idWidth, titleCols, opts, s))
	}
	lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func draftRow(draft domain.ActionDraft, idWidth, titleCols int, opts RenderOptions, s styles) string {
	row := lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.id.Render(fmt.Sprintf("%-*s", idWidth, draft.ID)),
		"  ",
		s.forStatus(draft.Status).Render(fmt.Sprintf("%-9s", draft.Status)),
		"  ",
		s.kind.Render(fmt.Sprintf("%-8s", toolLabel(draft.ToolType))),
		"  ",
		s.detail.Render(truncate(draft.Title(), titleCols)),
		" ",
		s.meta.Render(fmt.Sprintf("(%s)", formatAge(draft.UpdatedAt, opts.Now))),
	)

	switch {
	case draft.ExternalRef != "":
		row += " " + s.meta.Render("-> "+draft.ExternalRef)
	case draft.Status == domain.StatusError && draft.ErrorDetail != "":
		row += " " + s.warning.Render("["+truncate(draft.ErrorDetail, titleCols)+"]")
	}
	return row
}

func renderDetail(drafts []domain.ActionDraft, opts RenderOptions, s styles) string {
	sections := make([]string, 0, len(drafts))
	for i, draft := range drafts {
		lines := []string{
			s.id.Render(string(draft.ID)) + " " + s.forStatus(draft.Status).Render(string(draft.Status)),
			s.detail.Render("type: " + toolLabel(draft.ToolType)),
			s.detail.Render("title: " + draft.Title()),
		}
		if draft.SessionID != "" {
			lines = append(lines, s.meta.Render("session: "+draft.SessionID))
		}
		lines = append(lines,
			s.meta.Render("created: "+formatTimestamp(draft.CreatedAt, opts.Now)),
			s.meta.Render("updated: "+formatTimestamp(draft.UpdatedAt, opts.Now)),
		)
		if draft.ExternalRef != "" {
			lines = append(lines, s.detail.Render("external ref: "+draft.ExternalRef))
		}
		if draft.ErrorDetail != "" {
			lines = append(lines, s.warning.Render("error: "+draft.ErrorDetail))
		}

		lines = append(lines, s.header.Render("ai payload:"), indentJSON(draft.AIPayload))
		if len(draft.FinalPayload) > 0 {
			lines = append(lines, s.header.Render("final payload:"), indentJSON(draft.FinalPayload))
		}

		section := lipgloss.JoinVertical(lipgloss.Left, lines...)
		if i > 0 {
			section = s.section.Render(section)
		}
		sections = append(sections, section)
	}

	if len(sections) == 0 {
		return s.empty.Render("No drafts staged.")
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func countsLine(drafts []domain.ActionDraft) string {
	counts := map[domain.DraftStatus]int{}
	for _, draft := range drafts {
		counts[draft.Status]++
	}

	parts := []string{fmt.Sprintf("drafts: %d", len(drafts))}
	for _, status := range domain.AllStatuses {
		if counts[status] > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", strings.ToLower(string(status)), counts[status]))
		}
	}
	return strings.Join(parts, "  ")
}

func toolLabel(toolType domain.ToolType) string {
	switch toolType {
	case domain.ToolTypeTicket:
		return "ticket"
	case domain.ToolTypeCalendarEvent:
		return "calendar"
	default:
		return strings.ToLower(string(toolType))
	}
}

func truncate(value string, width int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-1]) + "…"
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "  {}"
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "  ", "  "); err != nil {
		return "  " + string(raw)
	}
	return "  " + out.String()
}

func formatTimestamp(at, now time.Time) string {
	if at.IsZero() {
		return "unknown"
	}
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s (%s)", at.Format("15:04 on 02 Jan"), formatAge(at, now))
}

func formatAge(at, now time.Time) string {
	if at.IsZero() {
		return "unknown"
	}
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}

	elapsed := now.Sub(at)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return plural(int(elapsed.Minutes()), "minute") + " ago"
	case elapsed < 24*time.Hour:
		return plural(int(math.Floor(elapsed.Hours())), "hour") + " ago"
	default:
		return plural(int(math.Floor(elapsed.Hours()/24)), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
