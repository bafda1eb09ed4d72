package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mailtally/internal/auth"
	"mailtally/internal/config"
	"mailtally/internal/gmail"
	"mailtally/internal/rate"
)

func newAuthCmd(a *app) *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize mailtally to read the mailbox",
		Long: `Runs the browser authorization flow if no usable token is stored and
saves the token for later runs. --revoke deletes the stored token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if revoke {
				if err := a.storedCredentials().Revoke(); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", a.cfg.TokenPath)
				return nil
			}

			mgr, err := a.credentials(auth.BrowserPrompter{W: os.Stderr})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			cred, err := mgr.Acquire(ctx)
			if err != nil {
				return err
			}

			account := ""
			if a.cfg.Provider == config.ProviderGmail {
				client, err := a.mailClient(ctx, mgr, rate.Unlimited{})
				if err != nil {
					return err
				}
				if gc, ok := client.(*gmail.Client); ok {
					account, err = gc.Account(ctx)
					if err != nil {
						a.logger.Warn("could not read account address", "err", err)
					}
				}
			}

			if a.jsonOutput {
				return printJSON(map[string]any{
					"provider": a.cfg.Provider,
					"account":  account,
					"expiry":   cred.Expiry,
					"scopes":   cred.Scopes,
				})
			}
			if account != "" {
				fmt.Printf("Authorized %s (%s)\n", account, a.cfg.Provider)
			} else {
				fmt.Printf("Authorized (%s)\n", a.cfg.Provider)
			}
			fmt.Printf("Token saved to %s, valid until %s\n", a.cfg.TokenPath, cred.Expiry.Local().Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Delete the stored token")
	return cmd
}
