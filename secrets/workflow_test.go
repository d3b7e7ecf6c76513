package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/job"
)

const workflowWithSecrets = `name: market-reports
on:
  schedule:
    - cron: "30 3 * * 1-5"
jobs:
  report:
    runs-on: ubuntu-latest
    env:
      EMAIL_SENDER: ${{ secrets.EMAIL_SENDER }}
      EMAIL_PASSWORD: ${{ secrets.EMAIL_PASSWORD }}
    steps:
      - run: report-job pre_market
`

func TestWorkflowSecretsEnsure(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "market-reports.yml")
	require.NoError(t, os.WriteFile(path, []byte(workflowWithSecrets), 0o644))

	w := NewWorkflowSecrets(path)

	res, err := w.Ensure(ctx, job.SenderAddress, "ignored")
	require.NoError(t, err)
	assert.Equal(t, OpValidated, res.Op)
	assert.Equal(t, "committed", res.Version)

	// EMAIL_RECIPIENTS is missing from the workflow env block.
	_, err = w.Ensure(ctx, job.RecipientList, "ignored")
	require.Error(t, err)
	assert.ErrorIs(t, err, deploy.ErrSecrets)
	assert.Contains(t, err.Error(), "EMAIL_RECIPIENTS")
}

func TestWorkflowSecretsMissingFile(t *testing.T) {
	w := NewWorkflowSecrets(filepath.Join(t.TempDir(), "absent.yml"))
	_, err := w.Ensure(context.Background(), job.SenderAddress, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, deploy.ErrSecrets)
}
