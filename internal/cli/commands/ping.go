package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/persist/internal/cli/ui"
	"github.com/conduit-lang/persist/internal/orm/conn"
	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/transaction"
)

// NewPingCommand creates the ping command
func NewPingCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check the configured database and row cache",
		Long: `Open the database configured in persist.yaml (or PERSIST_DATABASE_*),
run a trivial query and connect to the configured row cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := cfg.Logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			p := printer(cmd)

			db, err := conn.New(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			start := time.Now()
			if err := db.Open(ctx); err != nil {
				p.Problem(ui.Problem{
					Context:      "database unreachable",
					Message:      cfg.Database.Driver,
					Details:      []string{err.Error()},
					HelpCommands: []string{"persist ping --config persist.yaml"},
				})
				return fmt.Errorf("ping failed")
			}
			// a locked sqlite file or a busy server reports a retryable error
			err = transaction.Retry(ctx, nil, func(ctx context.Context) error {
				_, err := db.ExecuteScalar(ctx, &query.Query{Command: "SELECT 1"})
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to query database: %w", err)
			}
			elapsed := time.Since(start)
			logger.Debug("database reachable",
				zap.String("driver", cfg.Database.Driver),
				zap.Duration("duration", elapsed),
			)
			p.Success("database %s reachable (%s)", cfg.Database.Driver, elapsed.Round(time.Millisecond))

			store, err := cfg.OpenCache(ctx)
			if err != nil {
				p.Problem(ui.Problem{
					Context: "cache unreachable",
					Message: cfg.Cache.Backend,
					Details: []string{err.Error()},
				})
				return fmt.Errorf("ping failed")
			}
			if store != nil {
				defer store.Close()
				p.Success("row cache %s ready", cfg.Cache.Backend)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "connection timeout")
	return cmd
}
