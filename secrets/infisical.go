package secrets

import (
	"context"
	"fmt"
	"os"

	infisical "github.com/infisical/go-sdk"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/job"
)

// InfisicalSource resolves secret values from an Infisical project instead of
// prompting, for unattended deployments. The SDK authenticates with universal
// auth client credentials; secrets are matched by their environment variable
// name (EMAIL_SENDER etc.), which is how the project stores them.
type InfisicalSource struct {
	// Environment is the Infisical environment slug to read from
	// (development, production, ...).
	Environment string

	SiteURL      string
	ProjectID    string
	ClientID     string
	ClientSecret string
}

// NewInfisicalSource builds a source from the INFISICAL_* environment
// variables, scoped to the given deployment environment.
func NewInfisicalSource(environment string) *InfisicalSource {
	return &InfisicalSource{
		Environment:  environment,
		SiteURL:      os.Getenv("INFISICAL_API_URL"),
		ProjectID:    os.Getenv("INFISICAL_PROJECT_ID"),
		ClientID:     os.Getenv("INFISICAL_CLIENT_ID"),
		ClientSecret: os.Getenv("INFISICAL_CLIENT_SECRET"),
	}
}

func (s *InfisicalSource) Values(ctx context.Context, refs []job.SecretRef) (Values, error) {
	if s.ClientID == "" || s.ClientSecret == "" {
		return nil, fmt.Errorf("%w: INFISICAL_CLIENT_ID and INFISICAL_CLIENT_SECRET must be set", deploy.ErrConfig)
	}

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          s.SiteURL, // Optional, default is https://app.infisical.com
		AutoTokenRefresh: true,
	})

	if _, err := client.Auth().UniversalAuthLogin(s.ClientID, s.ClientSecret); err != nil {
		return nil, fmt.Errorf("%w: infisical login: %v", deploy.ErrAuth, err)
	}

	list, err := client.Secrets().List(infisical.ListSecretsOptions{
		ProjectID:   s.ProjectID,
		Environment: s.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing infisical secrets: %v", deploy.ErrSecrets, err)
	}

	byKey := make(map[string]string, len(list))
	for _, sec := range list {
		byKey[sec.SecretKey] = sec.SecretValue
	}

	vals := make(Values, len(refs))
	for _, ref := range refs {
		v, ok := byKey[ref.Env]
		if !ok || v == "" {
			return nil, fmt.Errorf("%w: infisical project has no value for %s", deploy.ErrSecrets, ref.Env)
		}
		vals[ref.Name] = v
	}
	return vals, nil
}
