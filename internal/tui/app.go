package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"mailtally/internal/model"
	"mailtally/internal/store"
	"mailtally/internal/syncer"
)

type viewState int

const (
	viewLoading viewState = iota
	viewAuth              // waiting for the browser redirect or a pasted code
	viewSenders           // sender tally
)

// SyncRunner runs one sync pass. *syncer.Service implements it.
type SyncRunner interface {
	Run(ctx context.Context, progress func(syncer.Progress)) (model.RunSummary, error)
}

// ReportSource provides the sender tally.
type ReportSource interface {
	Snapshot(ctx context.Context, opts store.SnapshotOptions) ([]model.SenderCount, error)
}

// Options configures the app. Without a Runner the app only shows the report.
type Options struct {
	Runner   SyncRunner
	Report   ReportSource
	Prompter *Prompter
	Desc     bool
	Limit    int
}

type AppModel struct {
	// Core state
	runner   SyncRunner
	report   ReportSource
	prompter *Prompter
	snapshot store.SnapshotOptions
	ctx      context.Context
	cancel   context.CancelFunc
	status   string

	// Outcome, read by the caller after the program exits
	Err     error
	Summary model.RunSummary

	syncing  bool
	quitting bool

	// Auth flow
	textInput textinput.Model
	authURL   string

	view        viewState
	sendersList list.Model

	width, height int

	// Program reference for sending messages from goroutines
	program *tea.Program
}

// SetProgram stores a reference to the tea.Program so goroutines can send
// progress messages back to the Update loop.
func (m *AppModel) SetProgram(p *tea.Program) {
	m.program = p
	if m.prompter != nil {
		m.prompter.attach(p)
	}
}

func NewAppModel(opts Options) AppModel {
	ti := textinput.New()
	ti.Placeholder = "Paste the code or the full redirect URL"
	ti.Focus()

	sl := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	sl.Title = "Senders"
	// Remove esc from the list's built-in Quit binding so it only clears filters
	sl.KeyMap.Quit.SetKeys("q")

	ctx, cancel := context.WithCancel(context.Background())
	return AppModel{
		runner:      opts.Runner,
		report:      opts.Report,
		prompter:    opts.Prompter,
		snapshot:    store.SnapshotOptions{Desc: opts.Desc, Limit: opts.Limit},
		ctx:         ctx,
		cancel:      cancel,
		status:      "Loading...",
		view:        viewLoading,
		textInput:   ti,
		sendersList: sl,
	}
}

func (m *AppModel) Init() tea.Cmd {
	if m.runner != nil {
		return tea.Batch(m.syncCmd(), textinput.Blink)
	}
	return m.loadReportCmd()
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sendersList.SetSize(msg.Width, msg.Height-5) // room for footer and status
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case authURLMsg:
		m.authURL = string(msg)
		m.view = viewAuth
		m.textInput.Reset()
		m.textInput.Focus()
		return m, textinput.Blink

	case syncProgressMsg:
		if m.view == viewAuth && msg.Phase != syncer.PhaseAuth {
			m.view = viewLoading
		}
		if !m.quitting {
			m.status = progressLine(syncer.Progress(msg))
		}
		return m, nil

	case syncCompleteMsg:
		m.syncing = false
		m.Summary = msg.summary
		m.Err = msg.err
		if m.quitting {
			return m, tea.Quit
		}
		if m.view == viewAuth {
			m.view = viewLoading
		}
		if msg.err != nil {
			m.status = fmt.Sprintf("Sync %s: %v", msg.summary.Status, msg.err)
		} else {
			m.status = ""
		}
		// Committed progress is durable, so the tally is worth showing either way.
		return m, m.loadReportCmd()

	case reportLoadedMsg:
		if msg.err != nil {
			m.Err = msg.err
			m.status = "Failed to load senders!"
			return m, tea.Quit
		}
		m.sendersList.SetItems(sendersToItems(msg.senders))
		m.sendersList.Title = sendersTitle(msg.senders)
		m.view = viewSenders
		return m, nil

	case statusMsg:
		if string(msg) == "" {
			m.status = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	switch m.view {
	case viewAuth:
		m.textInput, cmd = m.textInput.Update(msg)
	case viewSenders:
		m.sendersList, cmd = m.sendersList.Update(msg)
	}
	return m, cmd
}

func (m *AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return m.quit()
	}

	switch m.view {
	case viewAuth:
		switch key {
		case "enter":
			val := strings.TrimSpace(m.textInput.Value())
			m.textInput.Reset()
			if val == "" || m.prompter == nil {
				return m, nil
			}
			if !m.prompter.submit(val) {
				m.status = "A code is already being exchanged"
				return m, clearStatusAfter(2 * time.Second)
			}
			m.view = viewLoading
			m.status = "Exchanging authorization code..."
			return m, nil
		case "esc":
			return m.quit()
		}
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd

	case viewLoading:
		switch key {
		case "q", "esc":
			return m.quit()
		}
		return m, nil

	case viewSenders:
		// When the list is filtering, let it handle all keys except ctrl+c
		if m.sendersList.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.sendersList, cmd = m.sendersList.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m.quit()
		case "o":
			m.snapshot.Desc = !m.snapshot.Desc
			return m, m.loadReportCmd()
		case "r":
			return m, m.loadReportCmd()
		case "s":
			if m.runner == nil || m.syncing {
				return m, nil
			}
			return m, m.syncCmd()
		}
		var cmd tea.Cmd
		m.sendersList, cmd = m.sendersList.Update(msg)
		return m, cmd
	}

	return m, nil
}

// quit exits at once unless a sync is running, in which case the sync is
// canceled and the program exits when it reports back.
func (m *AppModel) quit() (tea.Model, tea.Cmd) {
	if !m.syncing {
		m.cancel()
		return m, tea.Quit
	}
	m.quitting = true
	m.status = "Stopping after the current item..."
	m.cancel()
	return m, nil
}

// Commands

func (m *AppModel) syncCmd() tea.Cmd {
	m.syncing = true
	m.status = "Syncing..."
	ctx := m.ctx
	return func() tea.Msg {
		summary, err := m.runner.Run(ctx, func(p syncer.Progress) {
			if m.program != nil {
				m.program.Send(syncProgressMsg(p))
			}
		})
		return syncCompleteMsg{summary: summary, err: err}
	}
}

func (m *AppModel) loadReportCmd() tea.Cmd {
	opts := m.snapshot
	return func() tea.Msg {
		senders, err := m.report.Snapshot(context.Background(), opts)
		return reportLoadedMsg{senders: senders, err: err}
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return statusMsg("")
	})
}

func progressLine(p syncer.Progress) string {
	switch p.Phase {
	case syncer.PhaseAuth:
		return "Authorizing..."
	case syncer.PhaseFinish:
		return "Finishing..."
	}
	done := p.New + p.Skipped
	if p.Total > 0 {
		return fmt.Sprintf("Syncing... page %d, %d / ~%d messages (%d new, %d skipped)", p.Page, done, p.Total, p.New, p.Skipped)
	}
	return fmt.Sprintf("Syncing... page %d, %d messages (%d new, %d skipped)", p.Page, done, p.New, p.Skipped)
}

// View renders the appropriate view based on current state.
func (m *AppModel) View() string {
	if m.view == viewAuth {
		var b strings.Builder
		b.WriteString("Open this URL in your browser to authorize mailtally:\n\n")
		b.WriteString(m.authURL)
		b.WriteString("\n\nWaiting for the redirect. If the browser cannot reach this machine, paste the code or the redirect URL here:\n\n")
		b.WriteString(m.textInput.View())
		b.WriteString("\n")
		b.WriteString(footerStyle.Render("enter: submit  esc: cancel"))
		if m.status != "" {
			b.WriteString("\n")
			b.WriteString(m.status)
		}
		return b.String()
	}

	if m.view == viewLoading {
		if m.Err != nil && !m.syncing {
			return "Error: " + m.Err.Error() + "\n"
		}
		if m.status != "" {
			return m.status + "\n"
		}
		return "Loading...\n"
	}

	var b strings.Builder
	b.WriteString(m.sendersList.View())
	b.WriteString("\n")
	b.WriteString(sendersFooter(m.runner != nil))
	if line := summaryLine(m.Summary); line != "" {
		b.WriteString("\n")
		b.WriteString(line)
	}
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.status)
	}
	return b.String()
}
