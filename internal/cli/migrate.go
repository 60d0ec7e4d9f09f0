package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/queue-service/internal/bootstrap"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ticket store schema",
		Long: `Apply the schema of the configured ticket store.

Postgres runs the ordered migrations directory, SQLite applies its embedded
schema and the memory store has nothing to migrate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			logger, err := rootOpts.logger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, err := bootstrap.OpenStore(cmd.Context(), cfg, logger, true)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.Store.Driver, err)
			}
			defer store.Close()

			return rootOpts.emit(cmd.OutOrStdout(),
				map[string]string{"status": "ok", "driver": store.Driver},
				fmt.Sprintf("migrated %s store", store.Driver))
		},
	}
}
