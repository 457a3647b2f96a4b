// Package prompt asks the operator yes/no questions on a terminal.
package prompt

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	questionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFF00"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// Confirmer asks a yes/no question. A Confirmer that cannot ask answers no.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Decline is a Confirmer for non-interactive callers: every answer is no.
type Decline struct{}

// Confirm always returns false.
func (Decline) Confirm(context.Context, string) (bool, error) {
	return false, nil
}

// Affirmative reports whether an answer means yes. Only "y" and "Y" do.
func Affirmative(answer string) bool {
	a := strings.TrimSpace(answer)
	return a == "y" || a == "Y"
}

// TerminalConfirmer prompts on a terminal with a y/N text input.
type TerminalConfirmer struct {
	in  io.Reader
	out io.Writer
}

// NewTerminalConfirmer creates a confirmer reading in and drawing on out.
func NewTerminalConfirmer(in io.Reader, out io.Writer) *TerminalConfirmer {
	return &TerminalConfirmer{in: in, out: out}
}

// ForStdin returns a terminal confirmer when stdin is a TTY, Decline otherwise.
func ForStdin() Confirmer {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewTerminalConfirmer(os.Stdin, os.Stderr)
	}
	return Decline{}
}

// Confirm runs the prompt until the operator presses enter or cancels.
func (c *TerminalConfirmer) Confirm(ctx context.Context, question string) (bool, error) {
	p := tea.NewProgram(newConfirmModel(question),
		tea.WithInput(c.in),
		tea.WithOutput(c.out),
		tea.WithContext(ctx),
	)
	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	m, ok := final.(confirmModel)
	if !ok {
		return false, nil
	}
	return m.Confirmed(), nil
}

type confirmModel struct {
	question  string
	input     textinput.Model
	done      bool
	cancelled bool
}

func newConfirmModel(question string) confirmModel {
	ti := textinput.New()
	ti.Placeholder = "N"
	ti.CharLimit = 3
	ti.Prompt = "> "
	ti.Focus()
	return confirmModel{question: question, input: ti}
}

func (m confirmModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m confirmModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	return fmt.Sprintf("%s %s\n%s\n",
		questionStyle.Render(m.question),
		hintStyle.Render("[y/N]"),
		m.input.View(),
	)
}

// Confirmed reports whether the operator submitted an affirmative answer.
func (m confirmModel) Confirmed() bool {
	return m.done && !m.cancelled && Affirmative(m.input.Value())
}
