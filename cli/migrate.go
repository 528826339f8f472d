package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "Apply pending schema migrations and exit",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			applied, err := migrateStore(cmd.Context(), cfg)
			if err != nil {
				log.Error("migrations failed", zap.String("driver", cfg.Store.Driver), zap.Error(err))
				return err
			}
			log.Info("migrations applied", zap.String("driver", cfg.Store.Driver), zap.Int64s("versions", applied))
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(applied))
			return nil
		},
	}
}
