package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/job"
)

// WorkflowSecrets covers the CI backend, whose secret store this tool cannot
// write: values live in the repository settings and the committed workflow
// refers to them as ${{ secrets.NAME }}. Ensure ignores the value and only
// proves the workflow references the secret, so a job is never registered
// against a workflow that would run without its credentials wired.
type WorkflowSecrets struct {
	Path string
}

func NewWorkflowSecrets(path string) *WorkflowSecrets {
	return &WorkflowSecrets{Path: path}
}

func (w *WorkflowSecrets) Ensure(_ context.Context, ref job.SecretRef, _ string) (Result, error) {
	raw, err := os.ReadFile(w.Path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading workflow %s: %v", deploy.ErrSecrets, w.Path, err)
	}
	if !strings.Contains(string(raw), "secrets."+ref.Env) {
		return Result{}, fmt.Errorf(
			"%w: workflow %s never references ${{ secrets.%s }}; add the reference and set the value in the repository settings",
			deploy.ErrSecrets, w.Path, ref.Env)
	}
	return Result{Ref: ref, Version: "committed", Op: OpValidated}, nil
}

// Probe is the same read-only reference check Ensure performs.
func (w *WorkflowSecrets) Probe(ctx context.Context, ref job.SecretRef) error {
	_, err := w.Ensure(ctx, ref, "")
	return err
}
