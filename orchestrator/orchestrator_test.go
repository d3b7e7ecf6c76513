package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/backend"
	"github.com/psxresearch/deployctl/history"
	"github.com/psxresearch/deployctl/job"
	"github.com/psxresearch/deployctl/schedule"
	"github.com/psxresearch/deployctl/secrets"
)

type fakeBackend struct {
	name         string
	jobs         map[string]bool
	triggers     map[string]bool
	failJob      map[string]error
	failCheck    error
	failAuth     error
	failEnable   error
	jobCalls     []string
	triggerCalls []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		name:     "fake",
		jobs:     map[string]bool{},
		triggers: map[string]bool{},
		failJob:  map[string]error{},
	}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Check(_ context.Context) error { return f.failCheck }

func (f *fakeBackend) Authenticate(_ context.Context) error { return f.failAuth }

func (f *fakeBackend) EnableServices(_ context.Context) error { return f.failEnable }

func (f *fakeBackend) Translate(s job.Spec) (schedule.Translated, error) {
	return schedule.ForCloud(s)
}

func (f *fakeBackend) UpsertJob(_ context.Context, s job.Spec) backend.Result {
	f.jobCalls = append(f.jobCalls, s.Name)
	if err := f.failJob[s.Name]; err != nil {
		return backend.Fail(f.name, s.Name, backend.KindJob, err)
	}
	if f.jobs[s.Name] {
		return backend.OK(f.name, s.Name, backend.KindJob, backend.OpUnchanged)
	}
	f.jobs[s.Name] = true
	return backend.OK(f.name, s.Name, backend.KindJob, backend.OpCreated)
}

func (f *fakeBackend) UpsertTrigger(_ context.Context, s job.Spec, _ schedule.Translated) backend.Result {
	f.triggerCalls = append(f.triggerCalls, s.Name)
	if f.triggers[s.Name] {
		return backend.OK(f.name, s.Name, backend.KindTrigger, backend.OpUnchanged)
	}
	f.triggers[s.Name] = true
	return backend.OK(f.name, s.Name, backend.KindTrigger, backend.OpCreated)
}

type fakeProvisioner struct {
	ensured map[string][]string
	fail    error
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{ensured: map[string][]string{}}
}

func (p *fakeProvisioner) Ensure(_ context.Context, ref job.SecretRef, value string) (secrets.Result, error) {
	if p.fail != nil {
		return secrets.Result{}, p.fail
	}
	p.ensured[ref.Name] = append(p.ensured[ref.Name], value)
	op := secrets.OpCreated
	if len(p.ensured[ref.Name]) > 1 {
		op = secrets.OpVersioned
	}
	return secrets.Result{Ref: ref, Version: fmt.Sprint(len(p.ensured[ref.Name])), Op: op}, nil
}

func (p *fakeProvisioner) Probe(_ context.Context, ref job.SecretRef) error {
	if len(p.ensured[ref.Name]) == 0 {
		return fmt.Errorf("secret %s not provisioned", ref.Name)
	}
	return nil
}

func testSource() secrets.StaticSource {
	return secrets.StaticSource{
		job.SenderAddress.Name:    "reports@psx.example",
		job.SenderCredential.Name: "app-password",
		job.RecipientList.Name:    "desk@psx.example",
	}
}

func testOrchestrator(b backend.Backend, p secrets.Provisioner) (*Orchestrator, *bytes.Buffer) {
	out := &bytes.Buffer{}
	o := New(b, p, testSource(), zerolog.Nop())
	o.Out = out
	o.now = func() time.Time {
		return time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	}
	return o, out
}

func opsByKind(sum *Summary, kind backend.Kind) map[string]backend.Operation {
	out := map[string]backend.Operation{}
	for _, r := range sum.Results {
		if r.Kind == kind {
			out[r.Job] = r.Op
		}
	}
	return out
}

func TestDeployFreshBackend(t *testing.T) {
	fake := newFakeBackend()
	o, out := testOrchestrator(fake, newFakeProvisioner())

	sum, err := o.Deploy(context.Background(), job.Defaults())
	require.NoError(t, err)
	assert.Equal(t, PhaseReported, sum.Phase)

	require.Len(t, sum.Results, 4)
	jobs := opsByKind(sum, backend.KindJob)
	triggers := opsByKind(sum, backend.KindTrigger)
	assert.Equal(t, backend.OpCreated, jobs["pre_market"])
	assert.Equal(t, backend.OpCreated, jobs["post_market"])
	assert.Equal(t, backend.OpCreated, triggers["pre_market"])
	assert.Equal(t, backend.OpCreated, triggers["post_market"])

	// All jobs are upserted before any trigger.
	assert.Equal(t, []string{"pre_market", "post_market"}, fake.jobCalls)
	assert.Equal(t, []string{"pre_market", "post_market"}, fake.triggerCalls)
	assert.Equal(t, backend.KindJob, sum.Results[0].Kind)
	assert.Equal(t, backend.KindJob, sum.Results[1].Kind)
	assert.Equal(t, backend.KindTrigger, sum.Results[2].Kind)

	assert.Len(t, sum.Secrets, 3)
	assert.Contains(t, out.String(), "Deployment summary")
	assert.Contains(t, out.String(), "pre_market")
	assert.Contains(t, out.String(), "Next scheduled runs")
}

func TestDeployRerunConverges(t *testing.T) {
	fake := newFakeBackend()
	o, _ := testOrchestrator(fake, newFakeProvisioner())
	ctx := context.Background()

	_, err := o.Deploy(ctx, job.Defaults())
	require.NoError(t, err)

	sum, err := o.Deploy(ctx, job.Defaults())
	require.NoError(t, err)
	for _, r := range sum.Results {
		assert.Equal(t, backend.OpUnchanged, r.Op, "%s/%s", r.Job, r.Kind)
	}
}

func TestDeployPartialFailureIsolation(t *testing.T) {
	fake := newFakeBackend()
	fake.failJob["pre_market"] = fmt.Errorf("%w: run.jobs.create denied", deploy.ErrPermission)
	o, _ := testOrchestrator(fake, newFakeProvisioner())

	sum, err := o.Deploy(context.Background(), job.Defaults())
	require.Error(t, err)
	assert.ErrorIs(t, err, deploy.ErrJobsFailed)
	assert.Equal(t, deploy.ExitJobFailed, deploy.ExitCode(err))

	// The failing job does not stop the other spec.
	assert.Equal(t, []string{"pre_market", "post_market"}, fake.jobCalls)
	assert.Equal(t, []string{"post_market"}, fake.triggerCalls, "no trigger for a job that failed")

	jobs := opsByKind(sum, backend.KindJob)
	assert.Equal(t, backend.OpFailed, jobs["pre_market"])
	assert.Equal(t, backend.OpCreated, jobs["post_market"])

	failed := sum.FailedResults()
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, deploy.ErrPermission)
}

func TestDeployAuthFailureIsFatal(t *testing.T) {
	fake := newFakeBackend()
	fake.failAuth = fmt.Errorf("%w: no application default credentials", deploy.ErrAuth)
	o, _ := testOrchestrator(fake, newFakeProvisioner())

	sum, err := o.Deploy(context.Background(), job.Defaults())
	require.Error(t, err)
	assert.ErrorIs(t, err, deploy.ErrAuth)
	assert.Equal(t, deploy.ExitFatal, deploy.ExitCode(err))
	assert.Empty(t, fake.jobCalls, "no upsert is attempted after a fatal step")
	assert.Equal(t, PhaseUnauthenticated, sum.Phase)
}

func TestDeploySecretFailureIsFatal(t *testing.T) {
	fake := newFakeBackend()
	prov := newFakeProvisioner()
	prov.fail = fmt.Errorf("%w: secret store unreachable", deploy.ErrSecrets)
	o, _ := testOrchestrator(fake, prov)

	sum, err := o.Deploy(context.Background(), job.Defaults())
	require.Error(t, err)
	assert.ErrorIs(t, err, deploy.ErrSecrets)
	assert.Equal(t, deploy.ExitFatal, deploy.ExitCode(err))
	assert.Empty(t, fake.jobCalls, "no job is registered when secrets are not retrievable")
	assert.Equal(t, PhaseCapabilitiesEnabled, sum.Phase)
}

func TestDeployRejectsInvalidSpecs(t *testing.T) {
	fake := newFakeBackend()
	o, _ := testOrchestrator(fake, newFakeProvisioner())

	specs := job.Defaults()
	specs[1].Name = specs[0].Name
	_, err := o.Deploy(context.Background(), specs)
	require.Error(t, err)
	assert.ErrorIs(t, err, deploy.ErrInvalidSpec)
	assert.Empty(t, fake.jobCalls)
}

func TestDeployNeverPrintsSecretValues(t *testing.T) {
	fake := newFakeBackend()
	o, out := testOrchestrator(fake, newFakeProvisioner())

	_, err := o.Deploy(context.Background(), job.Defaults())
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "app-password")
	assert.NotContains(t, out.String(), "reports@psx.example")
	assert.Contains(t, out.String(), "sender-credential", "names are reported, values are not")
}

func TestDeployRecordsHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	fake := newFakeBackend()
	o, _ := testOrchestrator(fake, newFakeProvisioner())
	o.History = store

	ctx := context.Background()
	sum, err := o.Deploy(ctx, job.Defaults())
	require.NoError(t, err)

	runs, err := store.Runs(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].ID)
	assert.Equal(t, "succeeded", runs[0].Status)

	entries, err := store.Results(ctx, sum.RunID)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestCheckIsReadOnly(t *testing.T) {
	fake := newFakeBackend()
	prov := newFakeProvisioner()
	o, out := testOrchestrator(fake, prov)

	err := o.Check(context.Background(), job.Defaults())
	require.NoError(t, err)
	assert.Empty(t, fake.jobCalls)
	assert.Empty(t, fake.triggerCalls)
	assert.Empty(t, prov.ensured)
	assert.Contains(t, out.String(), "missing", "unprovisioned secrets are reported, not fatal")
}

func TestCheckFailsOnTooling(t *testing.T) {
	fake := newFakeBackend()
	fake.failCheck = fmt.Errorf("%w: crontab not found in PATH", deploy.ErrConfig)
	o, _ := testOrchestrator(fake, newFakeProvisioner())

	err := o.Check(context.Background(), job.Defaults())
	require.Error(t, err)
	assert.ErrorIs(t, err, deploy.ErrConfig)
}
