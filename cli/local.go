package cli

import (
	"github.com/spf13/cobra"
)

func newLocalCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Register the report jobs in the local crontab",
		Long: `Writes one crontab line per report job, tagged so re-runs update the
existing line instead of appending a duplicate. Secret values go to an
owner-only env file that each line sources before running the binary.
Lines belonging to other tools are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.deploy(cmd, "local")
		},
	}

	cmd.Flags().StringVar(&a.cfg.ReportJobBinary, "binary", a.cfg.ReportJobBinary, "absolute path of the report job binary")
	cmd.Flags().StringVar(&a.cfg.SecretsEnvFile, "env-file", a.cfg.SecretsEnvFile, "path of the env file holding the report secrets")
	cmd.Flags().BoolVar(&a.cfg.UseInfisical, "use-infisical", a.cfg.UseInfisical, "resolve secret values from Infisical instead of prompting")
	return cmd
}
