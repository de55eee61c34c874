package drafts

import (
	"github.com/bnema/meetjot/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	id      lipgloss.Style
	kind    lipgloss.Style
	detail  lipgloss.Style
	meta    lipgloss.Style
	warning lipgloss.Style
	section lipgloss.Style
	empty   lipgloss.Style
	status  map[domain.DraftStatus]lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		id:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		kind:    lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		detail:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		meta:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		warning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section: lipgloss.NewStyle().MarginTop(1),
		empty:   lipgloss.NewStyle().Faint(true),
		status: map[domain.DraftStatus]lipgloss.Style{
			domain.StatusPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("221")),
			domain.StatusApproved:  lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
			domain.StatusExecuting: lipgloss.NewStyle().Foreground(lipgloss.Color("69")),
			domain.StatusExecuted:  lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
			domain.StatusRejected:  lipgloss.NewStyle().Faint(true),
			domain.StatusError:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		},
	}
}

func (s styles) forStatus(status domain.DraftStatus) lipgloss.Style {
	if style, ok := s.status[status]; ok {
		return style
	}
	return s.detail
}
