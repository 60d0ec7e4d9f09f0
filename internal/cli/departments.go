package cli

import (
	"github.com/spf13/cobra"

	"github.com/spec-kit/queue-service/internal/bootstrap"
)

// NewDepartmentsCommand creates the departments command.
func NewDepartmentsCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "departments",
		Short: "Print the effective department directory",
		Long: `Print the department directory the service would load, as YAML.

The output can be edited and passed back through QUEUE_DEPARTMENTS_FILE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			if file != "" {
				cfg.Queue.DepartmentsFile = file
			}
			dir, err := bootstrap.LoadDirectory(cfg.Queue)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.emit(cmd.OutOrStdout(), dir.All(), "")
			}
			out, err := dir.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "departments YAML file (overrides QUEUE_DEPARTMENTS_FILE)")
	return cmd
}
