// Package orchestrator drives the end-to-end deployment sequence against one
// backend: authenticate, enable capabilities, provision secrets, upsert each
// job, upsert each trigger, report. The sequence is strictly linear and
// strictly sequential, which keeps reporting order deterministic and avoids
// two concurrent existence checks racing against the same backend.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/backend"
	"github.com/psxresearch/deployctl/history"
	"github.com/psxresearch/deployctl/job"
	"github.com/psxresearch/deployctl/secrets"
)

// Phase names the last completed step of a run. Failures at a phase before
// JobsUpserted abort the whole run; re-running from the start is safe because
// every later step is an idempotent upsert.
type Phase string

const (
	PhaseUnauthenticated     Phase = "unauthenticated"
	PhaseAuthenticated       Phase = "authenticated"
	PhaseCapabilitiesEnabled Phase = "capabilities_enabled"
	PhaseSecretsProvisioned  Phase = "secrets_provisioned"
	PhaseJobsUpserted        Phase = "jobs_upserted"
	PhaseTriggersUpserted    Phase = "triggers_upserted"
	PhaseReported            Phase = "reported"
)

// Summary aggregates everything one run did. Results appear in the order the
// operations ran and are only ever appended to.
type Summary struct {
	RunID   string
	Backend string
	Phase   Phase
	Secrets []secrets.Result
	Results []backend.Result
}

// FailedResults returns the results of operations that failed.
func (s *Summary) FailedResults() []backend.Result {
	var out []backend.Result
	for _, r := range s.Results {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

type Orchestrator struct {
	// History, when set, records the run in the local audit log.
	// Best-effort: recording failures are logged and never fail the run.
	History *history.Store

	// Out receives the human-readable report. Defaults to stdout.
	Out io.Writer

	backend     backend.Backend
	provisioner secrets.Provisioner
	source      secrets.Source
	log         zerolog.Logger
	now         func() time.Time
}

func New(b backend.Backend, prov secrets.Provisioner, src secrets.Source, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Out:         os.Stdout,
		backend:     b,
		provisioner: prov,
		source:      src,
		log:         log.With().Str("backend", b.Name()).Logger(),
		now:         time.Now,
	}
}

// Deploy runs the full sequence for specs. The returned error is nil when
// every operation succeeded, wraps deploy.ErrJobsFailed when individual jobs
// failed but the run completed, and carries the fatal class otherwise.
func (o *Orchestrator) Deploy(ctx context.Context, specs []job.Spec) (*Summary, error) {
	if err := job.ValidateAll(specs); err != nil {
		return nil, err
	}

	sum := &Summary{
		RunID:   uuid.NewString(),
		Backend: o.backend.Name(),
		Phase:   PhaseUnauthenticated,
	}
	o.startHistory(ctx, sum)
	o.log.Info().Str("run", sum.RunID).Int("jobs", len(specs)).Msg("deployment started")

	if err := o.backend.Check(ctx); err != nil {
		return o.abort(ctx, sum, err)
	}
	if err := o.backend.Authenticate(ctx); err != nil {
		return o.abort(ctx, sum, err)
	}
	sum.Phase = PhaseAuthenticated

	if err := o.backend.EnableServices(ctx); err != nil {
		return o.abort(ctx, sum, err)
	}
	sum.Phase = PhaseCapabilitiesEnabled

	if err := o.provisionSecrets(ctx, sum, specs); err != nil {
		return o.abort(ctx, sum, err)
	}
	sum.Phase = PhaseSecretsProvisioned

	// A job failure stops that spec's trigger, not the other specs.
	jobOK := make(map[string]bool, len(specs))
	for _, spec := range specs {
		res := o.backend.UpsertJob(ctx, spec)
		o.record(ctx, sum, res)
		if !res.Failed() {
			jobOK[spec.Name] = true
		}
	}
	sum.Phase = PhaseJobsUpserted

	for _, spec := range specs {
		if !jobOK[spec.Name] {
			continue
		}
		tr, err := o.backend.Translate(spec)
		if err != nil {
			o.record(ctx, sum, backend.Fail(sum.Backend, spec.Name, backend.KindTrigger, err))
			continue
		}
		o.record(ctx, sum, o.backend.UpsertTrigger(ctx, spec, tr))
	}
	sum.Phase = PhaseTriggersUpserted

	o.report(sum, specs)
	sum.Phase = PhaseReported

	var err error
	if failed := sum.FailedResults(); len(failed) > 0 {
		err = fmt.Errorf("%w: %d of %d operations failed", deploy.ErrJobsFailed, len(failed), len(sum.Results))
	}
	o.finishHistory(ctx, sum, err)
	return sum, err
}

// provisionSecrets resolves the values and ensures every secret the job list
// depends on. Any failure here is fatal for the whole run: no job should be
// registered while its secrets are not retrievable.
func (o *Orchestrator) provisionSecrets(ctx context.Context, sum *Summary, specs []job.Spec) error {
	refs := requiredSecrets(specs)
	values, err := o.source.Values(ctx, refs)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		res, err := o.provisioner.Ensure(ctx, ref, values[ref.Name])
		if err != nil {
			return err
		}
		sum.Secrets = append(sum.Secrets, res)
		o.log.Info().
			Str("secret", res.Ref.Name).
			Str("version", res.Version).
			Str("op", string(res.Op)).
			Msg("secret ensured")
	}
	return nil
}

// requiredSecrets is the union of the specs' secret refs, first-seen order.
func requiredSecrets(specs []job.Spec) []job.SecretRef {
	var refs []job.SecretRef
	seen := map[string]bool{}
	for _, s := range specs {
		for _, ref := range s.Secrets {
			if seen[ref.Name] {
				continue
			}
			seen[ref.Name] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

func (o *Orchestrator) record(ctx context.Context, sum *Summary, res backend.Result) {
	sum.Results = append(sum.Results, res)
	if res.Failed() {
		o.log.Error().Err(res.Err).Str("job", res.Job).Str("kind", string(res.Kind)).Msg("upsert failed")
	} else {
		o.log.Info().Str("job", res.Job).Str("kind", string(res.Kind)).Str("op", string(res.Op)).Msg("upsert done")
	}

	if o.History == nil {
		return
	}
	entry := history.Entry{
		RunID:     sum.RunID,
		Backend:   res.Backend,
		Job:       res.Job,
		Kind:      string(res.Kind),
		Operation: string(res.Op),
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if err := o.History.Append(ctx, entry); err != nil {
		o.log.Warn().Err(err).Msg("recording history entry")
	}
}

func (o *Orchestrator) abort(ctx context.Context, sum *Summary, err error) (*Summary, error) {
	o.log.Error().Err(err).Str("phase", string(sum.Phase)).Msg("deployment aborted")
	o.finishHistory(ctx, sum, err)
	return sum, err
}

func (o *Orchestrator) startHistory(ctx context.Context, sum *Summary) {
	if o.History == nil {
		return
	}
	if err := o.History.StartRun(ctx, sum.RunID, sum.Backend); err != nil {
		o.log.Warn().Err(err).Msg("recording run start")
	}
}

func (o *Orchestrator) finishHistory(ctx context.Context, sum *Summary, runErr error) {
	if o.History == nil {
		return
	}
	status := "succeeded"
	switch {
	case runErr == nil:
	case errors.Is(runErr, deploy.ErrJobsFailed):
		status = "failed"
	default:
		status = "aborted"
	}
	if err := o.History.FinishRun(ctx, sum.RunID, status); err != nil {
		o.log.Warn().Err(err).Msg("recording run end")
	}
}
