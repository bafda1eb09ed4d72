package tui

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Prompter shows the authorization URL inside the TUI and forwards codes
// pasted into the text input. It satisfies auth.Prompter and auth.CodeSource.
type Prompter struct {
	// Open, when set, is tried with the URL before it is displayed.
	Open func(url string) error

	mu      sync.Mutex
	program *tea.Program
	codes   chan string
}

func NewPrompter() *Prompter {
	return &Prompter{codes: make(chan string, 1)}
}

func (p *Prompter) attach(prog *tea.Program) {
	p.mu.Lock()
	p.program = prog
	p.mu.Unlock()
}

func (p *Prompter) PresentURL(_ context.Context, authURL string) error {
	p.mu.Lock()
	prog := p.program
	p.mu.Unlock()
	if prog == nil {
		return errors.New("terminal UI is not running")
	}
	if p.Open != nil {
		// Best effort; the URL is shown either way.
		_ = p.Open(authURL)
	}
	prog.Send(authURLMsg(authURL))
	return nil
}

func (p *Prompter) Codes() <-chan string { return p.codes }

// submit hands a pasted code to the waiting authorization flow. It reports
// false when a previous code has not been consumed yet.
func (p *Prompter) submit(code string) bool {
	select {
	case p.codes <- code:
		return true
	default:
		return false
	}
}
