package cli

import (
	"github.com/spf13/cobra"

	"dev/bravebird/ipview-verify/pkg/config"
)

// NewConfigCommand creates the config command, which prints as YAML the
// configuration a run would use after the file and environment are applied.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "config",
		Short:         "Print the resolved configuration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(rootOpts, cmd)
		},
	}
}

func runConfig(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	// Secrets stay out of terminals and CI logs
	if cfg.Artifacts.S3.SecretAccessKey != "" {
		cfg.Artifacts.S3.SecretAccessKey = "***"
	}
	if cfg.Database.DSN != "" {
		cfg.Database.DSN = "***"
	}

	data, err := cfg.Marshal()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode config", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
