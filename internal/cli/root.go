package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/me/portsched/internal/config"
	"github.com/me/portsched/internal/logging"
	"github.com/me/portsched/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagDB        string

	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the portsched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "portsched",
		Short: "Round-robin scheduler for modem ports sharing one channel",
		Long: `portsched drives the port command scheduler against scenario files,
verifies the grant traces it produces and keeps them in a local SQLite store.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			if err := logging.ValidateFormat(flagLogFormat); err != nil {
				return err
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "Trace store path (or PORTSCHED_DB env, default ~/.portsched/traces.db)")

	root.AddCommand(
		newSimulateCmd(),
		newRunsCmd(),
		newTraceCmd(),
		newServeCmd(),
		newLiveCmd(),
	)

	return root
}

// openStore opens and migrates the trace store named by --db.
func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	path, err := config.ResolveDBPath(flagDB)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	logger.Debug("trace store ready", "path", path)
	return st, nil
}
