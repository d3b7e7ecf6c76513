package secrets

import (
	"context"
	"fmt"
	"path"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	smpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/job"
)

// GoogleManager stores secrets in Secret Manager. Secrets are replicated into
// the single deployment region so access stays under the same regional policy
// as the job that reads them.
type GoogleManager struct {
	ProjectID string
	Region    string
	// Optional additional client options (e.g., custom credentials)
	ClientOptions []option.ClientOption
}

func NewGoogleManager(projectID, region string) *GoogleManager {
	return &GoogleManager{ProjectID: projectID, Region: region}
}

func (g *GoogleManager) secretName(ref job.SecretRef) string {
	return fmt.Sprintf("projects/%s/secrets/%s", g.ProjectID, ref.Name)
}

// Ensure creates the secret on first use and appends the value as a new
// version otherwise. Prior versions are never destroyed, so a bad value can
// be rolled back by version id. Re-running with the value already current is
// reported as unchanged without adding a redundant version.
func (g *GoogleManager) Ensure(ctx context.Context, ref job.SecretRef, value string) (Result, error) {
	client, err := secretmanager.NewClient(ctx, g.ClientOptions...)
	if err != nil {
		return Result{}, fmt.Errorf("%w: secretmanager client: %v", deploy.ErrSecrets, err)
	}
	defer client.Close()

	op := OpVersioned
	_, err = client.CreateSecret(ctx, &smpb.CreateSecretRequest{
		Parent:   "projects/" + g.ProjectID,
		SecretId: ref.Name,
		Secret: &smpb.Secret{
			Replication: &smpb.Replication{
				Replication: &smpb.Replication_UserManaged_{
					UserManaged: &smpb.Replication_UserManaged{
						Replicas: []*smpb.Replication_UserManaged_Replica{{Location: g.Region}},
					},
				},
			},
		},
	})
	switch {
	case err == nil:
		op = OpCreated
	case deploy.IsConflict(err):
		// Exists from a prior run, fall through to versioning.
	default:
		return Result{}, fmt.Errorf("%w: creating secret %s: %v", deploy.ErrSecrets, ref.Name, err)
	}

	if op == OpVersioned {
		if version, same := g.latestMatches(ctx, client, ref, value); same {
			return Result{Ref: ref, Version: version, Op: OpUnchanged}, nil
		}
	}

	ver, err := client.AddSecretVersion(ctx, &smpb.AddSecretVersionRequest{
		Parent:  g.secretName(ref),
		Payload: &smpb.SecretPayload{Data: []byte(value)},
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: adding version to %s: %v", deploy.ErrSecrets, ref.Name, err)
	}
	return Result{Ref: ref, Version: path.Base(ver.GetName()), Op: op}, nil
}

// Probe verifies the secret has a retrievable latest version. Only version
// metadata is read, so the caller needs no access to the payload.
func (g *GoogleManager) Probe(ctx context.Context, ref job.SecretRef) error {
	client, err := secretmanager.NewClient(ctx, g.ClientOptions...)
	if err != nil {
		return fmt.Errorf("%w: secretmanager client: %v", deploy.ErrSecrets, err)
	}
	defer client.Close()

	_, err = client.GetSecretVersion(ctx, &smpb.GetSecretVersionRequest{
		Name: g.secretName(ref) + "/versions/latest",
	})
	if err != nil {
		return fmt.Errorf("secret %s has no retrievable version: %w", ref.Name, err)
	}
	return nil
}

// latestMatches reports whether the latest version already carries value. Any
// access failure (no version yet, disabled version) just means a new version
// gets written.
func (g *GoogleManager) latestMatches(ctx context.Context, client *secretmanager.Client, ref job.SecretRef, value string) (string, bool) {
	acc, err := client.AccessSecretVersion(ctx, &smpb.AccessSecretVersionRequest{
		Name: g.secretName(ref) + "/versions/latest",
	})
	if err != nil {
		return "", false
	}
	if string(acc.GetPayload().GetData()) != value {
		return "", false
	}
	return path.Base(acc.GetName()), true
}
