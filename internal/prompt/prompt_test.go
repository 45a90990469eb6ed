package prompt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Rorqualx/proxybrowser-go/internal/types"
)

func TestModelUpdate(t *testing.T) {
	tests := []struct {
		name        string
		key         tea.KeyMsg
		wantQuit    bool
		wantDone    bool
		wantAborted bool
	}{
		{"enter confirms", tea.KeyMsg{Type: tea.KeyEnter}, true, true, false},
		{"ctrl+c aborts", tea.KeyMsg{Type: tea.KeyCtrlC}, true, false, true},
		{"other keys ignored", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, cmd := newModel("msg").Update(tt.key)
			m := next.(model)

			if m.done != tt.wantDone || m.aborted != tt.wantAborted {
				t.Errorf("model = %+v", m)
			}
			if tt.wantQuit {
				if cmd == nil {
					t.Fatal("Expected a quit command")
				}
				if _, ok := cmd().(tea.QuitMsg); !ok {
					t.Error("Command should quit the program")
				}
			} else if cmd != nil {
				t.Error("Expected no command")
			}
		})
	}
}

func TestModelView(t *testing.T) {
	m := newModel("Press Enter to exit...")
	if !strings.Contains(m.View(), "Press Enter to exit...") {
		t.Errorf("View() = %q", m.View())
	}
	m.done = true
	if m.View() != "" {
		t.Error("View() should be empty once confirmed")
	}
}

func TestNewNonTerminal(t *testing.T) {
	if New(strings.NewReader(""), io.Discard).interactive {
		t.Error("A non-file reader must not be treated as a terminal")
	}
}

func TestWaitLine(t *testing.T) {
	var out bytes.Buffer
	w := New(strings.NewReader("\n"), &out)

	if err := w.Wait(context.Background(), ""); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if !strings.Contains(out.String(), DefaultMessage) {
		t.Errorf("Output = %q, want default message", out.String())
	}
}

func TestWaitLineEOF(t *testing.T) {
	w := New(strings.NewReader(""), io.Discard)
	if err := w.Wait(context.Background(), "msg"); err != nil {
		t.Errorf("Wait() on closed input error = %v, want nil", err)
	}
}

func TestWaitLineCancelled(t *testing.T) {
	r, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := New(r, io.Discard).Wait(ctx, "msg")
	if !errors.Is(err, types.ErrOperatorAborted) {
		t.Errorf("Wait() error = %v, want ErrOperatorAborted", err)
	}
}

func TestWaitProgramEnter(t *testing.T) {
	w := &Waiter{in: strings.NewReader("\r"), out: io.Discard, interactive: true}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.Wait(ctx, "msg"); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestBanner(t *testing.T) {
	out := Banner("proxybrowser", "v1.0.0")
	if !strings.Contains(out, "proxybrowser") || !strings.Contains(out, "v1.0.0") {
		t.Errorf("Banner() = %q", out)
	}
}
