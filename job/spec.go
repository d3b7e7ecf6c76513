// Package job defines the static specification of the recurring report jobs
// this tool registers with a scheduling backend. Specs are value objects:
// constructed once per deployment invocation, validated up front, and never
// mutated afterwards.
package job

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	deploy "github.com/psxresearch/deployctl"
)

// CanonicalTimezone is the zone every trigger time is expressed in. Pakistan
// Standard Time has no daylight-saving transitions, which is what makes the
// fixed-offset UTC conversion in the schedule package safe.
const CanonicalTimezone = "Asia/Karachi"

// UTCOffset is the fixed offset of CanonicalTimezone from UTC.
const UTCOffset = 5 * time.Hour

// SecretRef names a secret the report job depends on. Name identifies the
// entry in the backend's secret store; Env is the variable the report job
// reads at run time. Values are never part of a spec.
type SecretRef struct {
	Name string
	Env  string
}

var (
	SenderAddress    = SecretRef{Name: "sender-address", Env: "EMAIL_SENDER"}
	SenderCredential = SecretRef{Name: "sender-credential", Env: "EMAIL_PASSWORD"}
	RecipientList    = SecretRef{Name: "recipient-list", Env: "EMAIL_RECIPIENTS"}
)

// RequiredSecrets returns the three secrets every report job reads.
func RequiredSecrets() []SecretRef {
	return []SecretRef{SenderAddress, SenderCredential, RecipientList}
}

// Clock is a wall-clock trigger time in the canonical timezone.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("time %q is not in HH:MM form", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return Clock{}, fmt.Errorf("time %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return Clock{}, fmt.Errorf("time %q: %w", s, err)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// Resources are the limits applied to a single job execution. CPU and Memory
// use Cloud Run quantity syntax ("1", "500m", "512Mi") and are validated as
// strictly positive regardless of the backend in use.
type Resources struct {
	CPU     string
	Memory  string
	Timeout time.Duration
}

// Spec describes one recurring job: what to invoke, with which limits and
// secrets, and when. The invocation contract is a single positional mode
// argument; everything else the job needs arrives through the environment.
type Spec struct {
	Name      string
	Command   string
	Args      []string
	Resources Resources
	Secrets   []SecretRef
	Weekdays  []time.Weekday
	At        Clock
	Timezone  string
}

// Mode returns the single mode argument the report job is invoked with.
func (s Spec) Mode() string {
	if len(s.Args) == 0 {
		return ""
	}
	return s.Args[0]
}

// Validate enforces the spec invariants. The returned error wraps
// deploy.ErrInvalidSpec, so an invalid spec never reaches a backend adapter.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name must not be empty", deploy.ErrInvalidSpec)
	}
	if s.Command == "" {
		return fmt.Errorf("%w: job %s has no command", deploy.ErrInvalidSpec, s.Name)
	}
	if len(s.Args) != 1 || s.Args[0] == "" {
		return fmt.Errorf("%w: job %s must take exactly one mode argument", deploy.ErrInvalidSpec, s.Name)
	}
	if len(s.Weekdays) == 0 {
		return fmt.Errorf("%w: job %s has an empty weekday set", deploy.ErrInvalidSpec, s.Name)
	}
	seen := map[time.Weekday]bool{}
	for _, d := range s.Weekdays {
		if d < time.Monday || d > time.Friday {
			return fmt.Errorf("%w: job %s schedules on %s, outside Mon-Fri", deploy.ErrInvalidSpec, s.Name, d)
		}
		if seen[d] {
			return fmt.Errorf("%w: job %s lists %s twice", deploy.ErrInvalidSpec, s.Name, d)
		}
		seen[d] = true
	}
	if s.At.Hour < 0 || s.At.Hour > 23 || s.At.Minute < 0 || s.At.Minute > 59 {
		return fmt.Errorf("%w: job %s trigger time %s is outside the 24-hour clock", deploy.ErrInvalidSpec, s.Name, s.At)
	}
	if s.Timezone == "" {
		return fmt.Errorf("%w: job %s has no timezone", deploy.ErrInvalidSpec, s.Name)
	}
	if err := validateResources(s.Resources); err != nil {
		return fmt.Errorf("%w: job %s: %v", deploy.ErrInvalidSpec, s.Name, err)
	}
	if len(s.Secrets) == 0 {
		return fmt.Errorf("%w: job %s declares no secret dependencies", deploy.ErrInvalidSpec, s.Name)
	}
	return nil
}

// ValidateAll validates each spec and the cross-spec uniqueness of names.
func ValidateAll(specs []Spec) error {
	names := map[string]bool{}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate job name %q", deploy.ErrInvalidSpec, s.Name)
		}
		names[s.Name] = true
	}
	return nil
}

func validateResources(r Resources) error {
	cpu, err := ParseCPU(r.CPU)
	if err != nil {
		return err
	}
	if !cpu.IsPositive() {
		return fmt.Errorf("cpu limit %q must be strictly positive", r.CPU)
	}
	mem, err := parseMemory(r.Memory)
	if err != nil {
		return err
	}
	if !mem.IsPositive() {
		return fmt.Errorf("memory limit %q must be strictly positive", r.Memory)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("timeout %s must be strictly positive", r.Timeout)
	}
	return nil
}

// ParseCPU converts a Cloud Run CPU quantity ("1", "0.5", "500m") into a
// decimal number of cores.
func ParseCPU(q string) (decimal.Decimal, error) {
	if q == "" {
		return decimal.Zero, fmt.Errorf("cpu limit is empty")
	}
	if milli, ok := strings.CutSuffix(q, "m"); ok {
		d, err := decimal.NewFromString(milli)
		if err != nil {
			return decimal.Zero, fmt.Errorf("cpu limit %q: %w", q, err)
		}
		return d.Div(decimal.NewFromInt(1000)), nil
	}
	d, err := decimal.NewFromString(q)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cpu limit %q: %w", q, err)
	}
	return d, nil
}

var memorySuffixes = []string{"Ki", "Mi", "Gi", "K", "M", "G"}

func parseMemory(q string) (decimal.Decimal, error) {
	if q == "" {
		return decimal.Zero, fmt.Errorf("memory limit is empty")
	}
	num := q
	for _, suf := range memorySuffixes {
		if rest, ok := strings.CutSuffix(q, suf); ok {
			num = rest
			break
		}
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, fmt.Errorf("memory limit %q: %w", q, err)
	}
	return d, nil
}
