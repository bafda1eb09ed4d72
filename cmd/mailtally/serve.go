package main

import (
	"github.com/spf13/cobra"

	"mailtally/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tally and run history as read-only JSON over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Serve.Addr = addr
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			logger := a.logger.WithPrefix("http")
			return server.Serve(cmd.Context(), a.cfg.Serve.Addr, server.NewRouter(st, logger), logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, 127.0.0.1:8088)")
	return cmd
}
