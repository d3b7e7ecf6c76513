package backend

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.yaml.in/yaml/v3"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/job"
	"github.com/psxresearch/deployctl/schedule"
)

// GitHubCI validates a committed workflow file instead of performing live
// registration: the trigger is the workflow's on.schedule block and the job
// is a step invoking the report command. The workflow is authored once, in
// UTC, and this tool never edits it; a mismatch with the job specification is
// surfaced as configuration drift requiring a manual edit.
type GitHubCI struct {
	WorkflowPath string

	log zerolog.Logger
}

func NewGitHubCI(cfg *deploy.Config, log zerolog.Logger) *GitHubCI {
	return &GitHubCI{
		WorkflowPath: cfg.WorkflowPath,
		log:          log.With().Str("backend", "github").Logger(),
	}
}

// workflow models the slice of GitHub Actions syntax this backend inspects.
type workflow struct {
	Name string `yaml:"name"`
	On   struct {
		Schedule []struct {
			Cron string `yaml:"cron"`
		} `yaml:"schedule"`
	} `yaml:"on"`
	Jobs map[string]struct {
		Steps []struct {
			Run string `yaml:"run"`
		} `yaml:"steps"`
	} `yaml:"jobs"`
}

func (g *GitHubCI) Name() string { return "github" }

func (g *GitHubCI) load() (*workflow, error) {
	raw, err := os.ReadFile(g.WorkflowPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading workflow %s: %v", deploy.ErrConfig, g.WorkflowPath, err)
	}
	var wf workflow
	if err := yaml.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("%w: parsing workflow %s: %v", deploy.ErrConfig, g.WorkflowPath, err)
	}
	return &wf, nil
}

func (g *GitHubCI) Check(_ context.Context) error {
	wf, err := g.load()
	if err != nil {
		return err
	}
	if len(wf.Jobs) == 0 {
		return fmt.Errorf("%w: workflow %s defines no jobs", deploy.ErrConfig, g.WorkflowPath)
	}
	if len(wf.On.Schedule) == 0 {
		return fmt.Errorf("%w: workflow %s has no schedule triggers", deploy.ErrConfig, g.WorkflowPath)
	}
	g.log.Debug().Str("workflow", g.WorkflowPath).Str("name", wf.Name).Msg("workflow parsed")
	return nil
}

// Authenticate is a no-op: this backend makes no live calls, the committed
// artifact is the whole interface.
func (g *GitHubCI) Authenticate(_ context.Context) error { return nil }

func (g *GitHubCI) EnableServices(_ context.Context) error { return nil }

func (g *GitHubCI) Translate(spec job.Spec) (schedule.Translated, error) {
	return schedule.ForCI(spec)
}

// UpsertJob verifies the workflow invokes the job's command with its mode.
// Nothing is written; the result is unchanged or a drift failure.
func (g *GitHubCI) UpsertJob(_ context.Context, spec job.Spec) Result {
	wf, err := g.load()
	if err != nil {
		return Fail(g.Name(), spec.Name, KindJob, err)
	}
	if !wf.hasStep(spec.Command, spec.Mode()) {
		return Fail(g.Name(), spec.Name, KindJob, fmt.Errorf(
			"%w: workflow %s has no step running %q with mode %q",
			deploy.ErrDrift, g.WorkflowPath, spec.Command, spec.Mode()))
	}
	return OK(g.Name(), spec.Name, KindJob, OpUnchanged)
}

// UpsertTrigger compares the committed schedule entries against the job's
// UTC rendering. One equivalent entry is enough; none means drift, and a
// committed entry that carries the local wall-clock fields gets the specific
// diagnosis from the schedule package.
func (g *GitHubCI) UpsertTrigger(_ context.Context, spec job.Spec, _ schedule.Translated) Result {
	wf, err := g.load()
	if err != nil {
		return Fail(g.Name(), spec.Name, KindTrigger, err)
	}
	if len(wf.On.Schedule) == 0 {
		return Fail(g.Name(), spec.Name, KindTrigger, fmt.Errorf(
			"%w: workflow %s has no schedule triggers", deploy.ErrDrift, g.WorkflowPath))
	}

	var firstErr error
	for _, entry := range wf.On.Schedule {
		err := schedule.Drift(spec, entry.Cron)
		if err == nil {
			return OK(g.Name(), spec.Name, KindTrigger, OpUnchanged)
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	// Prefer diagnosing an entry that committed the local wall-clock
	// fields, the most common authoring mistake.
	if local, err := schedule.ForLocal(spec); err == nil {
		for _, entry := range wf.On.Schedule {
			if eq, err := schedule.Equivalent(entry.Cron, local.Cron); err == nil && eq {
				return Fail(g.Name(), spec.Name, KindTrigger, schedule.Drift(spec, entry.Cron))
			}
		}
	}
	return Fail(g.Name(), spec.Name, KindTrigger, firstErr)
}

func (w *workflow) hasStep(command, mode string) bool {
	for _, j := range w.Jobs {
		for _, s := range j.Steps {
			if strings.Contains(s.Run, command) && strings.Contains(s.Run, mode) {
				return true
			}
		}
	}
	return false
}
