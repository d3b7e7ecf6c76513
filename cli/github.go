package cli

import (
	"github.com/spf13/cobra"
)

func newGitHubCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "github",
		Short: "Verify the committed GitHub Actions workflow covers the report jobs",
		Long: `The workflow file is the deployment: this command verifies that the
committed schedule matches the canonical one (converted to UTC) and that
every report secret is referenced. It never edits the file and never
talks to the GitHub API. A mismatch is reported with the expected cron
expressions so the fix is a one-line edit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.deploy(cmd, "github")
		},
	}

	cmd.Flags().StringVar(&a.cfg.WorkflowPath, "workflow", a.cfg.WorkflowPath, "path of the workflow file")
	return cmd
}
