package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/job"
	"github.com/psxresearch/deployctl/schedule"
)

// tagPrefix marks the crontab lines this tool owns. Everything else in the
// user's crontab is left untouched.
const tagPrefix = "# deployctl:"

// Crontab registers jobs with the local cron daemon. Job and trigger are a
// single administrative object here, one tagged crontab line that sources the
// secrets env file and invokes the report job binary, so UpsertJob and
// UpsertTrigger converge the same line. Times are host wall-clock: the
// operator is responsible for the host clock being set to the canonical
// timezone.
type Crontab struct {
	Binary  string
	EnvFile string

	runner crontabRunner
	log    zerolog.Logger
}

// crontabRunner shells out to the crontab binary. Split out so tests can run
// against an in-memory table.
type crontabRunner interface {
	read(ctx context.Context) (string, error)
	install(ctx context.Context, content string) error
}

type execRunner struct{}

func (execRunner) read(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "crontab", "-l").CombinedOutput()
	if err != nil {
		// An empty crontab is not an error condition.
		if strings.Contains(string(out), "no crontab") {
			return "", nil
		}
		return "", fmt.Errorf("crontab -l: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (execRunner) install(ctx context.Context, content string) error {
	cmd := exec.CommandContext(ctx, "crontab", "-")
	cmd.Stdin = strings.NewReader(content)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("crontab -: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func NewCrontab(cfg *deploy.Config, log zerolog.Logger) *Crontab {
	return &Crontab{
		Binary:  cfg.ReportJobBinary,
		EnvFile: cfg.SecretsEnvFile,
		runner:  execRunner{},
		log:     log.With().Str("backend", "local").Logger(),
	}
}

func (c *Crontab) Name() string { return "local" }

func (c *Crontab) Check(_ context.Context) error {
	if _, err := exec.LookPath("crontab"); err != nil {
		return fmt.Errorf("%w: crontab not found in PATH: %v", deploy.ErrConfig, err)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("%w: report job binary %s: %v", deploy.ErrConfig, c.Binary, err)
	}
	c.log.Warn().Str("timezone", job.CanonicalTimezone).
		Msg("cron uses the host clock; schedules assume it is set to the canonical timezone")
	return nil
}

// Authenticate reads the crontab once. Cron denies access per user
// (cron.allow/cron.deny), and that denial should fail the run up front.
func (c *Crontab) Authenticate(ctx context.Context) error {
	if _, err := c.runner.read(ctx); err != nil {
		return fmt.Errorf("%w: crontab access: %v", deploy.ErrAuth, err)
	}
	return nil
}

func (c *Crontab) EnableServices(_ context.Context) error { return nil }

func (c *Crontab) Translate(spec job.Spec) (schedule.Translated, error) {
	return schedule.ForLocal(spec)
}

func (c *Crontab) UpsertJob(ctx context.Context, spec job.Spec) Result {
	tr, err := c.Translate(spec)
	if err != nil {
		return Fail(c.Name(), spec.Name, KindJob, err)
	}
	op, err := c.ensureLine(ctx, spec, tr)
	if err != nil {
		return Fail(c.Name(), spec.Name, KindJob, err)
	}
	return OK(c.Name(), spec.Name, KindJob, op)
}

// UpsertTrigger re-converges the same line UpsertJob installed, repairing it
// if something edited the schedule in between, and reports unchanged when the
// job upsert already did the work.
func (c *Crontab) UpsertTrigger(ctx context.Context, spec job.Spec, tr schedule.Translated) Result {
	op, err := c.ensureLine(ctx, spec, tr)
	if err != nil {
		return Fail(c.Name(), spec.Name, KindTrigger, err)
	}
	return OK(c.Name(), spec.Name, KindTrigger, op)
}

// line renders the managed crontab entry: schedule, then a command that
// exports the env file into the environment and invokes the report job with
// its mode, then the ownership tag.
func (c *Crontab) line(spec job.Spec, tr schedule.Translated) string {
	return fmt.Sprintf("%s set -a; . %s; %s %s %s%s",
		tr.Cron, c.EnvFile, c.Binary, spec.Mode(), tagPrefix, spec.Name)
}

func (c *Crontab) ensureLine(ctx context.Context, spec job.Spec, tr schedule.Translated) (Operation, error) {
	current, err := c.runner.read(ctx)
	if err != nil {
		return OpFailed, err
	}

	desired := c.line(spec, tr)
	tag := tagPrefix + spec.Name
	lines := splitCrontab(current)

	for i, l := range lines {
		if !strings.HasSuffix(strings.TrimSpace(l), tag) {
			continue
		}
		if strings.TrimSpace(l) == desired {
			return OpUnchanged, nil
		}
		lines[i] = desired
		if err := c.runner.install(ctx, joinCrontab(lines)); err != nil {
			return OpFailed, err
		}
		c.log.Info().Str("job", spec.Name).Str("schedule", tr.Cron).Msg("crontab entry updated")
		return OpUpdated, nil
	}

	lines = append(lines, desired)
	if err := c.runner.install(ctx, joinCrontab(lines)); err != nil {
		return OpFailed, err
	}
	c.log.Info().Str("job", spec.Name).Str("schedule", tr.Cron).Msg("crontab entry installed")
	return OpCreated, nil
}

func splitCrontab(content string) []string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// joinCrontab terminates the table with a newline; some cron implementations
// reject a final line without one.
func joinCrontab(lines []string) string {
	return strings.Join(lines, "\n") + "\n"
}
