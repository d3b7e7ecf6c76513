// Package schedule converts the canonical local-time weekly schedule of a job
// spec into the representation each backend's administrative API expects.
package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/psxresearch/deployctl/job"
)

// Translated is a backend-ready schedule. Cron always holds five fields
// (minute hour dom month dow). TimeZone is set for backends that accept an
// explicit IANA zone next to the expression; UTC marks expressions already
// converted by the fixed-offset rule. When both are unset the expression is
// local wall-clock time and correctness depends on the host clock being set
// to the canonical timezone, which is an operator responsibility.
type Translated struct {
	Cron     string
	TimeZone string
	UTC      bool
}

// String renders the expression with the zone it is interpreted in.
func (t Translated) String() string {
	switch {
	case t.UTC:
		return t.Cron + " UTC"
	case t.TimeZone != "":
		return t.Cron + " " + t.TimeZone
	default:
		return t.Cron + " (host local time)"
	}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ForCloud renders the schedule for a backend that resolves an IANA timezone
// itself: local-time cron fields plus the zone name, no conversion here.
func ForCloud(s job.Spec) (Translated, error) {
	expr := render(s.At.Minute, s.At.Hour, s.Weekdays)
	if err := validate(expr); err != nil {
		return Translated{}, err
	}
	return Translated{Cron: expr, TimeZone: s.Timezone}, nil
}

// ForLocal renders the schedule for a backend with no timezone concept. The
// fields are local wall-clock time, unchanged.
func ForLocal(s job.Spec) (Translated, error) {
	expr := render(s.At.Minute, s.At.Hour, s.Weekdays)
	if err := validate(expr); err != nil {
		return Translated{}, err
	}
	return Translated{Cron: expr}, nil
}

// ForCI renders the schedule for a backend whose trigger lives in a static
// artifact defined in UTC. The canonical timezone has no daylight-saving
// transitions, so the conversion is a fixed subtraction; triggers earlier
// than the UTC offset (05:00 local) cross midnight and shift the whole
// weekday set back by one day. The committed artifact is expected to carry
// exactly this rendering; it is authored once, not rewritten per deployment.
func ForCI(s job.Spec) (Translated, error) {
	offset := int(job.UTCOffset / time.Minute)
	total := s.At.Hour*60 + s.At.Minute - offset
	days := s.Weekdays
	if total < 0 {
		total += 24 * 60
		days = shiftBack(days)
	}
	expr := render(total%60, total/60, days)
	if err := validate(expr); err != nil {
		return Translated{}, err
	}
	return Translated{Cron: expr, UTC: true}, nil
}

// Next returns the first execution after now, evaluated in the zone the
// rendering is expressed in.
func Next(t Translated, now time.Time) (time.Time, error) {
	spec := t.Cron
	switch {
	case t.UTC:
		spec = "CRON_TZ=UTC " + spec
	case t.TimeZone != "":
		spec = "CRON_TZ=" + t.TimeZone + " " + spec
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule %q: %w", t.Cron, err)
	}
	return sched.Next(now), nil
}

func validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("rendered schedule %q: %w", expr, err)
	}
	return nil
}

func render(minute, hour int, days []time.Weekday) string {
	return fmt.Sprintf("%d %d * * %s", minute, hour, renderDays(days))
}

// renderDays renders a weekday set as cron day-of-week numbers (0=Sunday),
// collapsing a contiguous run into a range.
func renderDays(days []time.Weekday) string {
	nums := make([]int, len(days))
	for i, d := range days {
		nums[i] = int(d)
	}
	sort.Ints(nums)

	contiguous := true
	for i := 1; i < len(nums); i++ {
		if nums[i] != nums[i-1]+1 {
			contiguous = false
			break
		}
	}
	if contiguous && len(nums) > 2 {
		return fmt.Sprintf("%d-%d", nums[0], nums[len(nums)-1])
	}
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ",")
}

func shiftBack(days []time.Weekday) []time.Weekday {
	out := make([]time.Weekday, len(days))
	for i, d := range days {
		out[i] = (d + 6) % 7
	}
	return out
}
