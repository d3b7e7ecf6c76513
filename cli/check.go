package cli

import (
	"github.com/spf13/cobra"

	"github.com/psxresearch/deployctl/job"
	"github.com/psxresearch/deployctl/orchestrator"
	"github.com/psxresearch/deployctl/secrets"
)

func newCheckCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <backend>",
		Short: "Verify tooling, credentials and secrets without deploying",
		Long: `Runs the read-only half of a deployment against cloudrun, local or
github: tooling and credential checks, a probe for each report secret,
and the upcoming run times of the canonical schedule. Nothing is created
or modified and no secret value is ever read. Backend settings come from
the environment (or a .env file).`,
		ValidArgs: []string{"cloudrun", "local", "github"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, prov, _, err := a.build(args[0])
			if err != nil {
				return err
			}
			specs, err := job.Load(a.cfg.JobsFile)
			if err != nil {
				return err
			}
			orch := orchestrator.New(b, prov, secrets.NoValues{}, a.log)
			orch.Out = cmd.OutOrStdout()
			return orch.Check(cmd.Context(), specs)
		},
	}
	return cmd
}
