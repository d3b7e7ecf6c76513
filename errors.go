package deploy

import (
	"errors"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error classes for deployment outcomes. Wrap these with fmt.Errorf("...: %w")
// so callers can classify with errors.Is without string matching.
var (
	// ErrInvalidSpec marks a job specification that failed validation.
	// Raised before any backend call is made.
	ErrInvalidSpec = errors.New("invalid job specification")

	// ErrConfig marks invalid operator-supplied configuration or a missing
	// required tool. Fatal before any job is attempted.
	ErrConfig = errors.New("configuration error")

	// ErrAuth marks a failed authentication against the backend. Fatal.
	ErrAuth = errors.New("authentication failed")

	// ErrSecrets marks an unreachable or denied secret store. Fatal for the
	// whole run: no job is registered without retrievable secrets.
	ErrSecrets = errors.New("secret provisioning failed")

	// ErrPermission marks a denied administrative call. Fatal for the
	// affected job only; remaining jobs are still attempted.
	ErrPermission = errors.New("permission denied")

	// ErrDrift marks a committed schedule artifact that disagrees with the
	// job specification. Never auto-corrected.
	ErrDrift = errors.New("configuration drift")

	// ErrJobsFailed is returned by the orchestrator when at least one job
	// failed while others may have succeeded.
	ErrJobsFailed = errors.New("one or more jobs failed to deploy")
)

// Process exit codes for the deployment commands.
const (
	ExitOK        = 0
	ExitJobFailed = 1
	ExitFatal     = 2
)

// ExitCode maps an orchestrator error to the process exit status: 0 on
// success, 1 when individual jobs failed, 2 on fatal precondition failures
// (bad config, authentication, secret store) that aborted the run early.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrJobsFailed):
		return ExitJobFailed
	default:
		return ExitFatal
	}
}

// The helpers below normalize backend error surfaces. Cloud clients return
// gRPC status codes, the google.golang.org/api REST services return
// *googleapi.Error, and our own packages wrap the sentinel errors above.

// IsNotFound reports whether err indicates a missing resource.
func IsNotFound(err error) bool {
	if status.Code(err) == codes.NotFound {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}

// IsConflict reports whether err indicates the resource already exists.
// Upserts recover from this locally by switching to an update call; it is
// never surfaced to the operator as a failure.
func IsConflict(err error) bool {
	if status.Code(err) == codes.AlreadyExists {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 409
}

// IsPermission reports whether err indicates a denied call.
func IsPermission(err error) bool {
	if errors.Is(err, ErrPermission) {
		return true
	}
	switch status.Code(err) {
	case codes.PermissionDenied:
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 403
}

// IsAuth reports whether err indicates failed or missing credentials.
func IsAuth(err error) bool {
	if errors.Is(err, ErrAuth) {
		return true
	}
	switch status.Code(err) {
	case codes.Unauthenticated:
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 401
}
