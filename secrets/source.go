package secrets

import (
	"context"
	"fmt"

	"github.com/AlecAivazis/survey/v2"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/job"
)

// PromptSource collects secret values interactively on the terminal. Values
// are deliberately never accepted as command-line arguments, which would
// leave them in shell history.
type PromptSource struct{}

func (PromptSource) Values(_ context.Context, refs []job.SecretRef) (Values, error) {
	vals := make(Values, len(refs))
	for _, ref := range refs {
		var prompt survey.Prompt
		msg := fmt.Sprintf("%s (%s):", ref.Name, ref.Env)
		if ref == job.SenderCredential {
			prompt = &survey.Password{Message: msg}
		} else {
			prompt = &survey.Input{Message: msg}
		}

		var value string
		if err := survey.AskOne(prompt, &value, survey.WithValidator(survey.Required)); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", deploy.ErrSecrets, ref.Name, err)
		}
		vals[ref.Name] = value
	}
	return vals, nil
}

// NoValues is the source for stores this tool cannot write to: provisioning
// there validates committed references instead of consuming values, so none
// are collected and the operator is never prompted.
type NoValues struct{}

func (NoValues) Values(_ context.Context, _ []job.SecretRef) (Values, error) {
	return Values{}, nil
}

// StaticSource returns pre-resolved values, keyed by secret name. Used by
// tests and by callers that already hold the material.
type StaticSource Values

func (s StaticSource) Values(_ context.Context, refs []job.SecretRef) (Values, error) {
	vals := make(Values, len(refs))
	for _, ref := range refs {
		v, ok := s[ref.Name]
		if !ok || v == "" {
			return nil, fmt.Errorf("%w: no value for secret %s", deploy.ErrSecrets, ref.Name)
		}
		vals[ref.Name] = v
	}
	return vals, nil
}
