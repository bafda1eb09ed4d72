package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"mailtally/internal/auth"
	"mailtally/internal/model"
	"mailtally/internal/store"
	"mailtally/internal/syncer"
	"mailtally/internal/tui"
)

func newSyncCmd(a *app) *cobra.Command {
	var useTUI bool
	var workers int
	var query string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Count messages not seen by a previous run",
		Long: `Pages through the mailbox listing and counts every message that has not
been counted before. An interrupted run exits with status 2 and can simply
be started again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("workers") {
				a.cfg.Sync.Workers = workers
			}
			if cmd.Flags().Changed("query") {
				a.cfg.Sync.Query = query
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if useTUI {
				return a.syncTUI(cmd, st)
			}
			return a.syncPlain(cmd, st)
		},
	}

	cmd.Flags().BoolVar(&useTUI, "tui", false, "Show progress and the resulting tally in a terminal UI")
	cmd.Flags().IntVar(&workers, "workers", 1, "Concurrent metadata fetches")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Provider search query (Gmail search syntax)")
	return cmd
}

func (a *app) syncPlain(cmd *cobra.Command, st *store.SQLiteStore) error {
	ctx := cmd.Context()
	svc, cleanup, err := a.syncService(ctx, st, auth.BrowserPrompter{W: os.Stderr})
	if err != nil {
		return err
	}
	defer cleanup()

	var progress func(syncer.Progress)
	if !a.jsonOutput && isTerminal(os.Stderr) {
		progress = func(p syncer.Progress) {
			if p.Phase == syncer.PhaseList || p.Phase == syncer.PhaseFinish {
				fmt.Fprintf(os.Stderr, "\rpage %d: %d listed, %d new, %d skipped", p.Page, p.Listed, p.New, p.Skipped)
			}
			if p.Phase == syncer.PhaseFinish {
				fmt.Fprintln(os.Stderr)
			}
		}
	}

	summary, runErr := svc.Run(ctx, progress)
	if a.jsonOutput {
		if err := printJSON(summary); err != nil {
			return err
		}
	} else {
		printSummary(summary)
	}
	return runErr
}

func (a *app) syncTUI(cmd *cobra.Command, st *store.SQLiteStore) error {
	if !isTerminal(os.Stdout) {
		return errors.New("--tui needs a terminal")
	}
	// Log lines would tear the alternate screen.
	logPath := filepath.Join(filepath.Dir(a.cfg.DBPath), "mailtally.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	a.logger.SetOutput(logFile)

	prompter := tui.NewPrompter()
	prompter.Open = auth.OpenBrowser

	svc, cleanup, err := a.syncService(cmd.Context(), st, prompter)
	if err != nil {
		return err
	}
	defer cleanup()

	appModel := tui.NewAppModel(tui.Options{
		Runner:   svc,
		Report:   st,
		Prompter: prompter,
		Desc:     true,
	})
	return runProgram(&appModel)
}

// runProgram runs the TUI and returns the outcome it recorded.
func runProgram(appModel *tui.AppModel) error {
	p := tea.NewProgram(appModel, tea.WithAltScreen())
	appModel.SetProgram(p)
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("terminal UI: %w", err)
	}
	if m, ok := finalModel.(*tui.AppModel); ok {
		if m.Summary.RunID != "" {
			printSummary(m.Summary)
		}
		return m.Err
	}
	return nil
}

func printSummary(s model.RunSummary) {
	fmt.Printf("Run %s: %s\n", s.RunID, s.Status)
	fmt.Printf("  pages %d, listed %d, new %d, skipped %d, errors %d\n", s.Pages, s.Listed, s.New, s.Skipped, s.Errors)
	if !s.FinishedAt.IsZero() && !s.StartedAt.IsZero() {
		fmt.Printf("  took %s\n", s.FinishedAt.Sub(s.StartedAt).Round(10*time.Millisecond))
	}
	if s.LastError != "" {
		fmt.Printf("  last error: %s\n", s.LastError)
	}
}
