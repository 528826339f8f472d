// Package cli wires configuration, storage and the HTTP server into cobra
// commands.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command. Without a subcommand it serves.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "warehouse-server",
		Short: "Warehouse inventory ledger",
		Long: `Records resources, units and incoming-stock arrivals, and reports the
on-hand balance per (resource, unit) pair. Every arrival change is rejected
if it would drive any balance below zero.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	pf.String("addr", "", "HTTP listen address (default :8080)")
	pf.String("store", "", "store driver (memory|sqlite|postgres)")
	pf.String("db", "", "SQLite database path; \":memory:\" for in-memory")
	pf.String("dsn", "", "PostgreSQL connection string")
	pf.String("log-level", "", "log level (debug|info|warn|error)")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}
