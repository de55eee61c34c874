package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/stopwatch"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

var (
	progressSpinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	progressElapsedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	progressDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	progressFailedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

type progressDoneMsg struct {
	err error
}

// progressModel spins next to a label and the time spent so far on a
// pipeline step (extraction, session drain).
type progressModel struct {
	spinner spinner.Model
	elapsed stopwatch.Model
	label   string
	work    tea.Cmd
	err     error
	done    bool
}

func newProgressModel(label string, work tea.Cmd) progressModel {
	return progressModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(progressSpinnerStyle)),
		elapsed: stopwatch.NewWithInterval(100 * time.Millisecond),
		label:   label,
		work:    work,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.elapsed.Init(), m.work)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case progressDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	default:
		var cmd tea.Cmd
		m.elapsed, cmd = m.elapsed.Update(msg)
		return m, cmd
	}
}

func (m progressModel) View() string {
	elapsed := m.elapsed.Elapsed().Round(100 * time.Millisecond)
	if m.done {
		if m.err != nil {
			return progressFailedStyle.Render("✗") + " " + m.label + " " + progressElapsedStyle.Render(elapsed.String()) + "\n"
		}
		return progressDoneStyle.Render("✓") + " " + m.label + " " + progressElapsedStyle.Render(elapsed.String()) + "\n"
	}

	return fmt.Sprintf("%s %s %s", m.spinner.View(), m.label, progressElapsedStyle.Render(elapsed.String()))
}

// runWithSpinner shows label on output until work returns. When output is
// not a terminal the work runs without any rendering.
func runWithSpinner(ctx context.Context, output io.Writer, label string, work func(context.Context) error) error {
	if !isTerminal(output) {
		return work(ctx)
	}

	workCmd := func() tea.Msg {
		return progressDoneMsg{err: work(ctx)}
	}

	p := tea.NewProgram(
		newProgressModel(label, workCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := finalModel.(progressModel)
	if !ok {
		return fmt.Errorf("unexpected final progress model type %T", finalModel)
	}

	return result.err
}

func isTerminal(output io.Writer) bool {
	f, ok := output.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// terminalWidth is the column count of output, or 0 when it is not a
// terminal.
func terminalWidth(output io.Writer) int {
	f, ok := output.(*os.File)
	if !ok || !term.IsTerminal(f.Fd()) {
		return 0
	}
	width, _, err := term.GetSize(f.Fd())
	if err != nil {
		return 0
	}
	return width
}
