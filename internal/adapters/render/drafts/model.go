package drafts

import (
	"errors"
	"fmt"
	"io"

	"github.com/bnema/meetjot/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

type layoutMsg struct{}

// model lays the drafts out once and quits. A WindowSizeMsg received before
// that reflows the table to the new width.
type model struct {
	drafts []domain.ActionDraft
	opts   RenderOptions
	styles styles
	output string
}

func newModel(drafts []domain.ActionDraft, opts RenderOptions) model {
	return model{drafts: drafts, opts: opts, styles: newStyles()}
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg { return layoutMsg{} }
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.opts.Width = msg.Width
		m.output = m.layout()
		return m, nil
	case layoutMsg:
		m.output = m.layout()
		return m, tea.Quit
	}
	return m, nil
}

func (m model) layout() string {
	if m.opts.Detail {
		return renderDetail(m.drafts, m.opts, m.styles)
	}
	return renderList(m.drafts, m.opts, m.styles)
}

func (m model) View() string {
	return m.output
}

// Render lays out drafts as a table, or as full records when opts.Detail is
// set.
func Render(drafts []domain.ActionDraft, opts RenderOptions) (string, error) {
	p := tea.NewProgram(
		newModel(drafts, opts),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("render drafts: %w", err)
	}

	rendered, ok := final.(model)
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrUnexpectedRenderModel, final)
	}
	return rendered.View(), nil
}
