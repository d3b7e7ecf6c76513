package schedule

import (
	"fmt"
	"time"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/job"
)

// Equivalent reports whether two five-field cron expressions fire at the same
// instants. Comparing rendered strings would miss equal schedules written
// differently ("1-5" vs "1,2,3,4,5"), so the expressions are compared by
// their next occurrences from a fixed base instant.
func Equivalent(a, b string) (bool, error) {
	sa, err := parser.Parse(a)
	if err != nil {
		return false, fmt.Errorf("cron %q: %w", a, err)
	}
	sb, err := parser.Parse(b)
	if err != nil {
		return false, fmt.Errorf("cron %q: %w", b, err)
	}
	ta := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	tb := ta
	for i := 0; i < 8; i++ {
		ta = sa.Next(ta)
		tb = sb.Next(tb)
		if !ta.Equal(tb) {
			return false, nil
		}
	}
	return true, nil
}

// Drift compares a committed UTC schedule against the expected rendering for
// the spec. A mismatch is never corrected here; the artifact requires a
// manual edit. The known failure mode of committing the local wall-clock
// time as if it were UTC gets its own diagnosis, since the two expressions
// differ by exactly the canonical offset and otherwise look plausible.
func Drift(s job.Spec, committed string) error {
	expected, err := ForCI(s)
	if err != nil {
		return err
	}
	eq, err := Equivalent(expected.Cron, committed)
	if err != nil {
		return fmt.Errorf("%w: job %s: committed schedule %q is not a valid cron expression", deploy.ErrDrift, s.Name, committed)
	}
	if eq {
		return nil
	}
	if local, lerr := ForLocal(s); lerr == nil {
		if leq, _ := Equivalent(local.Cron, committed); leq {
			return fmt.Errorf("%w: job %s: committed schedule %q is the %s wall-clock time, not its UTC conversion %q",
				deploy.ErrDrift, s.Name, committed, s.Timezone, expected.Cron)
		}
	}
	return fmt.Errorf("%w: job %s: committed schedule %q does not match expected %q",
		deploy.ErrDrift, s.Name, committed, expected.Cron)
}
