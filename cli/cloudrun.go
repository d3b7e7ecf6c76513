package cli

import (
	"github.com/spf13/cobra"
)

func newCloudRunCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cloudrun",
		Short: "Deploy the report jobs to Cloud Run with Cloud Scheduler triggers",
		Long: `Creates or updates one Cloud Run job and one Cloud Scheduler trigger per
report job, stores the report secrets in Secret Manager, and grants a
dedicated service account permission to invoke the jobs. Credentials come
from Application Default Credentials (gcloud auth application-default
login, or a service account key in GOOGLE_APPLICATION_CREDENTIALS).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.deploy(cmd, "cloudrun")
		},
	}

	cmd.Flags().StringVar(&a.cfg.ProjectID, "project", a.cfg.ProjectID, "GCP project id")
	cmd.Flags().StringVar(&a.cfg.Region, "region", a.cfg.Region, "GCP region for jobs, triggers and secrets")
	cmd.Flags().StringVar(&a.cfg.Image, "image", a.cfg.Image, "report job container image")
	cmd.Flags().StringVar(&a.cfg.InvokerAccountID, "service-account", a.cfg.InvokerAccountID, "account id of the scheduler invoker service account")
	cmd.Flags().BoolVar(&a.cfg.UseInfisical, "use-infisical", a.cfg.UseInfisical, "resolve secret values from Infisical instead of prompting")
	return cmd
}
