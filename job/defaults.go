package job

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	deploy "github.com/psxresearch/deployctl"
)

// ReportJobCommand is the logical name of the external report executable.
// Backends resolve it to a container entrypoint or a host binary path.
const ReportJobCommand = "report-job"

var marketWeekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
}

// Defaults is the built-in job list: the pre-market briefing before the
// exchange opens and the post-market deep scan after close, both on trading
// weekdays in Pakistan Standard Time. The post-market run re-scores the whole
// ticker universe, hence the larger memory limit and timeout.
func Defaults() []Spec {
	return []Spec{
		{
			Name:    "pre_market",
			Command: ReportJobCommand,
			Args:    []string{"pre_market"},
			Resources: Resources{
				CPU:     "1",
				Memory:  "512Mi",
				Timeout: 15 * time.Minute,
			},
			Secrets:  RequiredSecrets(),
			Weekdays: marketWeekdays,
			At:       Clock{Hour: 8, Minute: 30},
			Timezone: CanonicalTimezone,
		},
		{
			Name:    "post_market",
			Command: ReportJobCommand,
			Args:    []string{"post_market"},
			Resources: Resources{
				CPU:     "1",
				Memory:  "1Gi",
				Timeout: 30 * time.Minute,
			},
			Secrets:  RequiredSecrets(),
			Weekdays: marketWeekdays,
			At:       Clock{Hour: 16, Minute: 30},
			Timezone: CanonicalTimezone,
		},
	}
}

type yamlJob struct {
	Name     string   `yaml:"name"`
	Time     string   `yaml:"time"`
	Weekdays []string `yaml:"weekdays"`
	CPU      string   `yaml:"cpu"`
	Memory   string   `yaml:"memory"`
	Timeout  string   `yaml:"timeout"`
}

type yamlFile struct {
	Jobs []yamlJob `yaml:"jobs"`
}

// Load returns the deployable job list, validated. An empty path returns the
// defaults; otherwise the YAML file may adjust times, weekdays and resource
// limits of the built-in jobs. New job names are rejected: the deployable set
// is fixed, only its parameters are tunable.
func Load(path string) ([]Spec, error) {
	specs := Defaults()
	if path == "" {
		if err := ValidateAll(specs); err != nil {
			return nil, err
		}
		return specs, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading jobs file: %v", deploy.ErrConfig, err)
	}
	var f yamlFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing jobs file %s: %v", deploy.ErrConfig, path, err)
	}

	for _, y := range f.Jobs {
		i := indexByName(specs, y.Name)
		if i < 0 {
			return nil, fmt.Errorf("%w: jobs file names unknown job %q", deploy.ErrConfig, y.Name)
		}
		if err := applyOverride(&specs[i], y); err != nil {
			return nil, fmt.Errorf("%w: job %s: %v", deploy.ErrConfig, y.Name, err)
		}
	}
	if err := ValidateAll(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func indexByName(specs []Spec, name string) int {
	for i := range specs {
		if specs[i].Name == name {
			return i
		}
	}
	return -1
}

func applyOverride(s *Spec, y yamlJob) error {
	if y.Time != "" {
		at, err := ParseClock(y.Time)
		if err != nil {
			return err
		}
		s.At = at
	}
	if len(y.Weekdays) > 0 {
		days := make([]time.Weekday, 0, len(y.Weekdays))
		for _, name := range y.Weekdays {
			d, err := parseWeekday(name)
			if err != nil {
				return err
			}
			days = append(days, d)
		}
		s.Weekdays = days
	}
	if y.CPU != "" {
		s.Resources.CPU = y.CPU
	}
	if y.Memory != "" {
		s.Resources.Memory = y.Memory
	}
	if y.Timeout != "" {
		d, err := time.ParseDuration(y.Timeout)
		if err != nil {
			return fmt.Errorf("timeout %q: %w", y.Timeout, err)
		}
		s.Resources.Timeout = d
	}
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

func parseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", name)
	}
	return d, nil
}
