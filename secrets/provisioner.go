// Package secrets makes the credential material report jobs read at run time
// retrievable from whichever store the active backend uses. Values are
// supplied by the operator at deploy time, held in memory for the duration of
// the run, and never logged; only secret names and version identifiers appear
// in output.
package secrets

import (
	"context"

	"github.com/psxresearch/deployctl/job"
)

// Op describes what Ensure did to a secret.
type Op string

const (
	// OpCreated means the secret did not exist and was created with the
	// supplied value as its first version.
	OpCreated Op = "created"
	// OpVersioned means the secret existed and the value was appended as a
	// new version, leaving prior versions retrievable.
	OpVersioned Op = "versioned"
	// OpUnchanged means the store already held this exact value.
	OpUnchanged Op = "unchanged"
	// OpValidated means the store is not writable by this tool and the
	// reference was merely proven to exist (CI workflow secrets).
	OpValidated Op = "validated"
)

// Result reports the outcome of provisioning one secret. Version identifies
// the revision now holding the value, in whatever scheme the store uses.
type Result struct {
	Ref     job.SecretRef
	Version string
	Op      Op
}

// Provisioner ensures a secret value is retrievable by the report job at run
// time. Implementations are idempotent: re-running Ensure with the same value
// must converge without error and must never discard stored versions.
type Provisioner interface {
	Ensure(ctx context.Context, ref job.SecretRef, value string) (Result, error)
}

// Prober is implemented by provisioners that can verify a secret is already
// retrievable without writing anything. The read-only check command uses it.
type Prober interface {
	Probe(ctx context.Context, ref job.SecretRef) error
}

// Values maps secret names to their operator-supplied values.
type Values map[string]string

// Source obtains the secret values for a deployment run. Implementations
// return a non-empty value for every requested ref or fail.
type Source interface {
	Values(ctx context.Context, refs []job.SecretRef) (Values, error)
}
