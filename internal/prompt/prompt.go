// Package prompt blocks until the operator ends the browser session.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

// DefaultMessage is shown while the session is open.
const DefaultMessage = "Press Enter to exit..."

var (
	messageStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	hintStyle    = lipgloss.NewStyle().Faint(true)
	bannerStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// Waiter waits for the operator to confirm.
type Waiter struct {
	in          io.Reader
	out         io.Writer
	interactive bool
}

// New returns a waiter on in/out. The terminal UI is used only when in is
// a terminal; otherwise a plain line is read.
func New(in io.Reader, out io.Writer) *Waiter {
	return &Waiter{in: in, out: out, interactive: isTerminal(in)}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Wait blocks until Enter is pressed. Ctrl+C in the terminal UI and
// cancellation of ctx return an error wrapping types.ErrOperatorAborted.
func (w *Waiter) Wait(ctx context.Context, message string) error {
	if message == "" {
		message = DefaultMessage
	}
	if w.interactive {
		return w.waitProgram(ctx, message)
	}
	return w.waitLine(ctx, message)
}

func (w *Waiter) waitProgram(ctx context.Context, message string) error {
	p := tea.NewProgram(
		newModel(message),
		tea.WithInput(w.in),
		tea.WithOutput(w.out),
		tea.WithContext(ctx),
		tea.WithoutSignalHandler(),
	)

	final, err := p.Run()
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", types.ErrOperatorAborted, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}

	if m, ok := final.(model); ok && m.aborted {
		return types.ErrOperatorAborted
	}
	return nil
}

func (w *Waiter) waitLine(ctx context.Context, message string) error {
	fmt.Fprintln(w.out, message)

	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(w.in).ReadString('\n')
		done <- err
	}()

	select {
	case err := <-done:
		if errors.Is(err, io.EOF) {
			log.Warn().Msg("Standard input closed, ending session")
			return nil
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", types.ErrOperatorAborted, ctx.Err())
	}
}

// Banner renders lines in a bordered box.
func Banner(lines ...string) string {
	return bannerStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// model is the bubbletea model behind the interactive wait.
type model struct {
	message string
	done    bool
	aborted bool
}

func newModel(message string) model {
	return model{message: message}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC:
			m.aborted = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	if m.done || m.aborted {
		return ""
	}
	return messageStyle.Render(m.message) + "\n" + hintStyle.Render("ctrl+c also closes the browser") + "\n"
}
