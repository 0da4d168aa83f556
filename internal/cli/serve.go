package cli

import (
	"github.com/me/portsched/internal/config"
	"github.com/me/portsched/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cfg := config.DefaultServerConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the introspection API over the trace store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			cfg.LogLevel, cfg.LogFormat, cfg.DBPath = flagLogLevel, flagLogFormat, flagDB
			srv := server.New(cfg, st, logger)
			if err := srv.ListenAndServe(ctx); err != nil {
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	return cmd
}
