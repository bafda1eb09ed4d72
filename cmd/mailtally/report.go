package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mailtally/internal/model"
	"mailtally/internal/store"
	"mailtally/internal/tui"
)

func newReportCmd(a *app) *cobra.Command {
	var order string
	var limit int
	var useTUI bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the per-sender message counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := store.SnapshotOptions{Limit: limit}
			switch order {
			case "asc":
			case "desc":
				opts.Desc = true
			default:
				return fmt.Errorf("--order must be asc or desc, got %q", order)
			}
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if useTUI {
				if !isTerminal(os.Stdout) {
					return errors.New("--tui needs a terminal")
				}
				appModel := tui.NewAppModel(tui.Options{Report: st, Desc: opts.Desc, Limit: opts.Limit})
				return runProgram(&appModel)
			}

			senders, err := st.Snapshot(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				if senders == nil {
					senders = []model.SenderCount{}
				}
				return printJSON(senders)
			}
			if len(senders) == 0 {
				fmt.Println("No senders counted yet. Run 'mailtally sync' first.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "COUNT\tSENDER")
			for _, s := range senders {
				_, _ = fmt.Fprintf(w, "%d\t%s\n", s.Count, s.Sender)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&order, "order", "asc", "Sort by count: asc or desc")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most N senders (0 for all)")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Browse the tally in a terminal UI")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last run, store consistency and credential state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			last, err := st.LastRun(ctx)
			if err != nil {
				return err
			}
			inv, err := st.Verify(ctx)
			if err != nil {
				return err
			}
			reconciled, err := st.LastReconciled(ctx)
			if err != nil {
				return err
			}
			cred := a.credentialState()

			if a.jsonOutput {
				return printJSON(map[string]any{
					"provider":   a.cfg.Provider,
					"db_path":    a.cfg.DBPath,
					"credential": cred,
					"last_run":   last,
					"seen":       inv.Seen,
					"counted":    inv.Counted,
					"drifted":    inv.Drifted,
					"consistent": inv.OK,
					"reconciled": reconciled,
				})
			}

			fmt.Printf("Provider:   %s\n", a.cfg.Provider)
			fmt.Printf("Database:   %s\n", a.cfg.DBPath)
			fmt.Printf("Credential: %s\n", cred)
			fmt.Printf("Messages:   %d seen, %d counted", inv.Seen, inv.Counted)
			if inv.OK {
				fmt.Println(" (consistent)")
			} else {
				fmt.Printf(" (%d senders drifted, run 'mailtally reconcile')\n", inv.Drifted)
			}
			if !reconciled.IsZero() {
				fmt.Printf("Reconciled: %s\n", reconciled.Local().Format(time.DateTime))
			}
			if last == nil {
				fmt.Println("Last run:   never")
				return nil
			}
			fmt.Printf("Last run:   %s %s, %d new, %d skipped, %d errors\n",
				last.StartedAt.Local().Format(time.DateTime), last.Status, last.New, last.Skipped, last.Errors)
			if last.LastError != "" {
				fmt.Printf("            %s\n", last.LastError)
			}
			return nil
		},
	}
}

// credentialState describes the stored token without contacting the provider.
func (a *app) credentialState() string {
	cred, err := a.storedCredentials().Stored()
	switch {
	case err != nil:
		return "unreadable: " + err.Error()
	case cred == nil:
		return "missing (run 'mailtally auth')"
	case cred.ValidAt(time.Now(), 0):
		return "valid until " + cred.Expiry.Local().Format(time.DateTime)
	case cred.RefreshToken != "":
		return "expired, will refresh"
	default:
		return "expired, re-authorization needed"
	}
}

func newReconcileCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute sender counts from the seen records and repair drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			rep, err := st.Reconcile(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(rep)
			}
			if len(rep.Drifts) == 0 {
				fmt.Println("Counts match the seen records.")
			}
			for _, d := range rep.Drifts {
				fmt.Printf("%s: stored %d, expected %d\n", d.Sender, d.Stored, d.Expected)
			}
			if rep.Unattributed > 0 {
				fmt.Printf("%d seen records have no sender and were not counted.\n", rep.Unattributed)
			}
			if len(rep.Drifts) > 0 {
				if rep.Applied {
					fmt.Printf("Repaired %d senders.\n", len(rep.Drifts))
				} else {
					fmt.Println("Dry run, nothing changed.")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report drift without repairing it")
	return cmd
}
