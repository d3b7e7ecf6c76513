// Package backend adapts the abstract job specification to the administrative
// API of each execution substrate. Adapters register jobs and their triggers;
// they never run the report job themselves and never interpret its exit
// status.
package backend

import (
	"context"

	"github.com/psxresearch/deployctl/job"
	"github.com/psxresearch/deployctl/schedule"
)

// Operation tags what an upsert did to the backend resource.
type Operation string

const (
	OpCreated   Operation = "created"
	OpUpdated   Operation = "updated"
	OpUnchanged Operation = "unchanged"
	OpFailed    Operation = "failed"
)

// Kind is the class of resource an upsert touched.
type Kind string

const (
	KindJob     Kind = "job"
	KindTrigger Kind = "trigger"
)

// Result is the outcome of one upsert against one backend resource. Results
// are ephemeral: produced per run, aggregated into the final report, never
// persisted as state the next run would consult.
type Result struct {
	Backend string
	Job     string
	Kind    Kind
	Op      Operation
	Err     error
}

func (r Result) Failed() bool { return r.Err != nil }

// OK builds a successful result.
func OK(backend, jobName string, kind Kind, op Operation) Result {
	return Result{Backend: backend, Job: jobName, Kind: kind, Op: op}
}

// Fail builds a failed result carrying err.
func Fail(backend, jobName string, kind Kind, err error) Result {
	return Result{Backend: backend, Job: jobName, Kind: kind, Op: OpFailed, Err: err}
}

// Backend registers jobs and triggers with one substrate.
//
// UpsertJob and UpsertTrigger are idempotent: creation is attempted first,
// and an already-exists conflict switches to an update with identical
// parameters, so re-running a deployment converges instead of erroring or
// duplicating resources. Callers invoke UpsertTrigger only after UpsertJob
// succeeded for the same spec.
type Backend interface {
	Name() string

	// Check verifies the tools and artifacts the backend depends on,
	// without mutating anything.
	Check(ctx context.Context) error

	// Authenticate proves usable credentials before any mutation.
	Authenticate(ctx context.Context) error

	// EnableServices switches on the administrative APIs the deployment
	// needs. A no-op for substrates without such a concept.
	EnableServices(ctx context.Context) error

	// Translate renders the spec's weekly schedule for this substrate.
	Translate(spec job.Spec) (schedule.Translated, error)

	UpsertJob(ctx context.Context, spec job.Spec) Result
	UpsertTrigger(ctx context.Context, spec job.Spec, tr schedule.Translated) Result
}
