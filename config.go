package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries every externally supplied setting the deployment commands
// need. Values come from the environment (optionally seeded from a .env file)
// and may be overridden by command-line flags before Validate is called.
// Nothing else in the module reads os.Getenv for deployment settings.
type Config struct {
	// Cloud backend.
	ProjectID        string
	Region           string
	Image            string
	InvokerAccountID string

	// Local scheduler backend.
	ReportJobBinary string
	SecretsEnvFile  string

	// CI backend.
	WorkflowPath string

	// Optional YAML file overriding the built-in job list.
	JobsFile string

	// Deployment audit log. Empty disables recording.
	HistoryPath string

	LogLevel  string
	LogPretty bool

	// Resolve secret values from Infisical instead of prompting.
	UseInfisical bool

	Environment string
}

func Load() (*Config, error) {
	// Missing .env is fine, the environment still wins.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	return &Config{
		ProjectID:        getEnv("GCP_PROJECT_ID", ""),
		Region:           getEnv("GCP_REGION", "asia-south1"),
		Image:            getEnv("REPORT_JOB_IMAGE", "psxresearch/report-job:latest"),
		InvokerAccountID: getEnv("INVOKER_ACCOUNT_ID", "report-job-invoker"),
		ReportJobBinary:  getEnv("REPORT_JOB_BINARY", "/usr/local/bin/report-job"),
		SecretsEnvFile:   getEnv("REPORT_JOB_ENV_FILE", defaultConfigPath("report-job.env")),
		WorkflowPath:     getEnv("WORKFLOW_PATH", ".github/workflows/market-reports.yml"),
		JobsFile:         getEnv("JOBS_FILE", ""),
		HistoryPath:      getEnv("HISTORY_PATH", defaultConfigPath("history.db")),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogPretty:        getEnv("LOG_PRETTY", "true") == "true",
		UseInfisical:     getEnv("USE_INFISICAL", "false") == "true",
		Environment:      getEnv("ENVIRONMENT", "development"),
	}, nil
}

// Validate checks the settings shared by every backend. Backend-specific
// requirements (a project for cloudrun, a workflow file for github) are
// enforced by the command that selects the backend.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrConfig, c.LogLevel)
	}
	if c.Image == "" {
		return fmt.Errorf("%w: report job image must not be empty", ErrConfig)
	}
	if c.ReportJobBinary == "" {
		return fmt.Errorf("%w: report job binary must not be empty", ErrConfig)
	}
	if strings.ContainsAny(c.InvokerAccountID, " /@") {
		return fmt.Errorf("%w: invoker account id %q must be a bare account id", ErrConfig, c.InvokerAccountID)
	}
	return nil
}

// RequireProject enforces the cloudrun-only preconditions.
func (c *Config) RequireProject() error {
	if c.ProjectID == "" {
		return fmt.Errorf("%w: GCP project id is required (flag --project or GCP_PROJECT_ID)", ErrConfig)
	}
	if c.Region == "" {
		return fmt.Errorf("%w: GCP region is required", ErrConfig)
	}
	return nil
}

func defaultConfigPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".config", "psx-analyst", name)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
