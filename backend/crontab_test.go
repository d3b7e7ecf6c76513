package backend

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/job"
)

type fakeCrontab struct {
	content     string
	installs    int
	failRead    bool
	failInstall bool
}

func (f *fakeCrontab) read(_ context.Context) (string, error) {
	if f.failRead {
		return "", errors.New("you are not allowed to use this program")
	}
	return f.content, nil
}

func (f *fakeCrontab) install(_ context.Context, content string) error {
	if f.failInstall {
		return errors.New("crontab refused the table")
	}
	f.content = content
	f.installs++
	return nil
}

func testCrontab(fake *fakeCrontab) *Crontab {
	return &Crontab{
		Binary:  "/usr/local/bin/report-job",
		EnvFile: "/home/analyst/.config/psx-analyst/report-job.env",
		runner:  fake,
		log:     zerolog.Nop(),
	}
}

func testSpec(name string, hour, minute int) job.Spec {
	return job.Spec{
		Name:    name,
		Command: job.ReportJobCommand,
		Args:    []string{name},
		Resources: job.Resources{
			CPU:     "1",
			Memory:  "512Mi",
			Timeout: 15 * time.Minute,
		},
		Secrets: job.RequiredSecrets(),
		Weekdays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
		At:       job.Clock{Hour: hour, Minute: minute},
		Timezone: job.CanonicalTimezone,
	}
}

func TestCrontabUpsertJobInstallsLine(t *testing.T) {
	fake := &fakeCrontab{}
	c := testCrontab(fake)

	res := c.UpsertJob(context.Background(), testSpec("pre_market", 8, 30))
	require.NoError(t, res.Err)
	assert.Equal(t, OpCreated, res.Op)
	assert.Equal(t, KindJob, res.Kind)

	want := "30 8 * * 1-5 set -a; . /home/analyst/.config/psx-analyst/report-job.env; " +
		"/usr/local/bin/report-job pre_market # deployctl:pre_market\n"
	assert.Equal(t, want, fake.content)
}

func TestCrontabUpsertIdempotent(t *testing.T) {
	fake := &fakeCrontab{}
	c := testCrontab(fake)
	spec := testSpec("pre_market", 8, 30)
	ctx := context.Background()

	first := c.UpsertJob(ctx, spec)
	require.NoError(t, first.Err)
	assert.Equal(t, OpCreated, first.Op)

	second := c.UpsertJob(ctx, spec)
	require.NoError(t, second.Err)
	assert.Equal(t, OpUnchanged, second.Op)
	assert.Equal(t, 1, fake.installs, "converged table must not be reinstalled")
}

func TestCrontabTriggerAfterJobIsUnchanged(t *testing.T) {
	fake := &fakeCrontab{}
	c := testCrontab(fake)
	spec := testSpec("post_market", 16, 30)
	ctx := context.Background()

	res := c.UpsertJob(ctx, spec)
	require.NoError(t, res.Err)

	tr, err := c.Translate(spec)
	require.NoError(t, err)

	trigger := c.UpsertTrigger(ctx, spec, tr)
	require.NoError(t, trigger.Err)
	assert.Equal(t, OpUnchanged, trigger.Op)
	assert.Equal(t, KindTrigger, trigger.Kind)
}

func TestCrontabRepairsEditedSchedule(t *testing.T) {
	fake := &fakeCrontab{
		content: "0 12 * * * /usr/local/bin/report-job pre_market # deployctl:pre_market\n",
	}
	c := testCrontab(fake)

	res := c.UpsertJob(context.Background(), testSpec("pre_market", 8, 30))
	require.NoError(t, res.Err)
	assert.Equal(t, OpUpdated, res.Op)
	assert.Contains(t, fake.content, "30 8 * * 1-5")
	assert.NotContains(t, fake.content, "0 12 * * *")
}

func TestCrontabPreservesForeignLines(t *testing.T) {
	foreign := "# m h dom mon dow command\n0 3 * * 0 /usr/bin/certbot renew\n"
	fake := &fakeCrontab{content: foreign}
	c := testCrontab(fake)
	ctx := context.Background()

	res := c.UpsertJob(ctx, testSpec("pre_market", 8, 30))
	require.NoError(t, res.Err)

	assert.Contains(t, fake.content, "certbot renew")
	assert.Contains(t, fake.content, "# m h dom mon dow command")
	assert.Contains(t, fake.content, "deployctl:pre_market")

	// Both managed jobs coexist with the foreign entries.
	res = c.UpsertJob(ctx, testSpec("post_market", 16, 30))
	require.NoError(t, res.Err)
	assert.Equal(t, 4, len(strings.Split(strings.TrimRight(fake.content, "\n"), "\n")))
}

func TestCrontabAuthenticate(t *testing.T) {
	c := testCrontab(&fakeCrontab{failRead: true})
	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, deploy.ErrAuth)
}

func TestCrontabInstallFailure(t *testing.T) {
	c := testCrontab(&fakeCrontab{failInstall: true})
	res := c.UpsertJob(context.Background(), testSpec("pre_market", 8, 30))
	require.Error(t, res.Err)
	assert.Equal(t, OpFailed, res.Op)
	assert.True(t, res.Failed())
}
