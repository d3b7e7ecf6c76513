package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/job"
)

// EnvFile stores secrets in a dotenv file the crontab entry sources before
// invoking the report job. The file is kept at mode 0600, and the first write
// of a run preserves the previous generation as <path>.1 so the last
// known-good values remain retrievable.
type EnvFile struct {
	Path string

	backedUp bool
}

func NewEnvFile(path string) *EnvFile {
	return &EnvFile{Path: path}
}

func (f *EnvFile) Ensure(_ context.Context, ref job.SecretRef, value string) (Result, error) {
	vars, err := godotenv.Read(f.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Result{}, fmt.Errorf("%w: reading %s: %v", deploy.ErrSecrets, f.Path, err)
		}
		vars = map[string]string{}
	}

	current, exists := vars[ref.Env]
	if exists && current == value {
		return Result{Ref: ref, Version: "current", Op: OpUnchanged}, nil
	}

	if err := f.backup(); err != nil {
		return Result{}, err
	}

	vars[ref.Env] = value
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return Result{}, fmt.Errorf("%w: creating %s: %v", deploy.ErrSecrets, filepath.Dir(f.Path), err)
	}
	if err := godotenv.Write(vars, f.Path); err != nil {
		return Result{}, fmt.Errorf("%w: writing %s: %v", deploy.ErrSecrets, f.Path, err)
	}
	// godotenv creates with the process umask; secrets demand owner-only.
	if err := os.Chmod(f.Path, 0o600); err != nil {
		return Result{}, fmt.Errorf("%w: restricting %s: %v", deploy.ErrSecrets, f.Path, err)
	}

	op := OpCreated
	if exists {
		op = OpVersioned
	}
	return Result{Ref: ref, Version: "current", Op: op}, nil
}

// Probe reports whether the env file already carries a value for the secret.
func (f *EnvFile) Probe(_ context.Context, ref job.SecretRef) error {
	vars, err := godotenv.Read(f.Path)
	if err != nil {
		return fmt.Errorf("env file %s: %w", f.Path, err)
	}
	if vars[ref.Env] == "" {
		return fmt.Errorf("env file %s has no %s", f.Path, ref.Env)
	}
	return nil
}

// backup copies the existing file to <path>.1 once per run, before the first
// value lands. Later Ensure calls in the same run keep that snapshot intact
// instead of overwriting it with half-updated intermediates.
func (f *EnvFile) backup() error {
	if f.backedUp {
		return nil
	}
	prev, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			f.backedUp = true
			return nil
		}
		return fmt.Errorf("%w: reading %s: %v", deploy.ErrSecrets, f.Path, err)
	}
	if err := os.WriteFile(f.Path+".1", prev, 0o600); err != nil {
		return fmt.Errorf("%w: backing up %s: %v", deploy.ErrSecrets, f.Path, err)
	}
	f.backedUp = true
	return nil
}
