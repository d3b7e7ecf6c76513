// Package cli assembles the deployctl command tree. Each backend gets its own
// subcommand so flags stay scoped to the backend they configure, and every
// command reports errors through the shared exit-code mapping in the root
// package instead of exiting on its own.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/backend"
	"github.com/psxresearch/deployctl/history"
	"github.com/psxresearch/deployctl/job"
	"github.com/psxresearch/deployctl/logger"
	"github.com/psxresearch/deployctl/orchestrator"
	"github.com/psxresearch/deployctl/secrets"
)

// app carries the state shared by every subcommand: the merged configuration
// (environment first, flags override) and the logger built from it.
type app struct {
	cfg *deploy.Config
	log zerolog.Logger
}

// Execute loads configuration, runs the command tree and returns the error
// for main to map onto a process exit code.
func Execute() error {
	cfg, err := deploy.Load()
	if err != nil {
		color.Red("Error: %v", err)
		return fmt.Errorf("%w: %v", deploy.ErrConfig, err)
	}
	root := NewRootCommand(cfg)
	if err := root.Execute(); err != nil {
		color.Red("Error: %v", err)
		return err
	}
	return nil
}

func NewRootCommand(cfg *deploy.Config) *cobra.Command {
	a := &app{cfg: cfg}

	root := &cobra.Command{
		Use:   "deployctl",
		Short: "Register the PSX market report jobs with a scheduling backend",
		Long: `deployctl registers the recurring market report jobs (pre_market,
post_market) with one of three scheduling backends: Cloud Run jobs
triggered by Cloud Scheduler, the local crontab, or a committed GitHub
Actions workflow. Every command is idempotent: re-running against an
already deployed backend converges without duplicating anything.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			a.log = logger.New(logger.Config{Level: a.cfg.LogLevel, Pretty: a.cfg.LogPretty})
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&cfg.LogPretty, "pretty", cfg.LogPretty, "human readable log output")
	root.PersistentFlags().StringVar(&cfg.JobsFile, "jobs-file", cfg.JobsFile, "YAML file adjusting the built-in job list")

	root.AddCommand(
		newCloudRunCommand(a),
		newLocalCommand(a),
		newGitHubCommand(a),
		newCheckCommand(a),
		newHistoryCommand(a),
		newVersionCommand(),
	)
	return root
}

// build assembles the backend, the secret store and the source of secret
// values for one of the named backends.
func (a *app) build(name string) (backend.Backend, secrets.Provisioner, secrets.Source, error) {
	switch name {
	case "cloudrun":
		if err := a.cfg.RequireProject(); err != nil {
			return nil, nil, nil, err
		}
		return backend.NewCloudRun(a.cfg, a.log),
			secrets.NewGoogleManager(a.cfg.ProjectID, a.cfg.Region),
			a.valueSource(), nil
	case "local":
		return backend.NewCrontab(a.cfg, a.log),
			secrets.NewEnvFile(a.cfg.SecretsEnvFile),
			a.valueSource(), nil
	case "github":
		// Secret values live in the repository settings, out of reach of
		// this tool. The workflow store only validates committed references.
		return backend.NewGitHubCI(a.cfg, a.log),
			secrets.NewWorkflowSecrets(a.cfg.WorkflowPath),
			secrets.NoValues{}, nil
	}
	return nil, nil, nil, fmt.Errorf("%w: unknown backend %q", deploy.ErrConfig, name)
}

// valueSource picks where secret values come from. Values are never accepted
// as command-line arguments: they would end up in shell history.
func (a *app) valueSource() secrets.Source {
	if a.cfg.UseInfisical {
		return secrets.NewInfisicalSource(a.cfg.Environment)
	}
	return secrets.PromptSource{}
}

// deploy runs the full deployment against the named backend.
func (a *app) deploy(cmd *cobra.Command, backendName string) error {
	b, prov, src, err := a.build(backendName)
	if err != nil {
		return err
	}
	specs, err := job.Load(a.cfg.JobsFile)
	if err != nil {
		return err
	}

	orch := orchestrator.New(b, prov, src, a.log)
	orch.Out = cmd.OutOrStdout()
	if a.cfg.HistoryPath != "" {
		store, err := history.Open(a.cfg.HistoryPath)
		if err != nil {
			// The audit log is advisory, a broken one must not block a deploy.
			a.log.Warn().Err(err).Str("path", a.cfg.HistoryPath).Msg("history log unavailable")
		} else {
			orch.History = store
			defer store.Close()
		}
	}

	_, err = orch.Deploy(cmd.Context(), specs)
	return err
}
