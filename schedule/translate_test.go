package schedule

import (
	"testing"
	"time"

	"github.com/psxresearch/deployctl/job"
)

func mkSpec(name string, hour, minute int, days ...time.Weekday) job.Spec {
	if len(days) == 0 {
		days = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}
	return job.Spec{
		Name:      name,
		Command:   job.ReportJobCommand,
		Args:      []string{name},
		Resources: job.Resources{CPU: "1", Memory: "512Mi", Timeout: 15 * time.Minute},
		Secrets:   job.RequiredSecrets(),
		Weekdays:  days,
		At:        job.Clock{Hour: hour, Minute: minute},
		Timezone:  job.CanonicalTimezone,
	}
}

func TestForCloud(t *testing.T) {
	got, err := ForCloud(mkSpec("pre_market", 8, 30))
	if err != nil {
		t.Fatalf("ForCloud: %v", err)
	}
	if got.Cron != "30 8 * * 1-5" {
		t.Errorf("cron = %q, want %q", got.Cron, "30 8 * * 1-5")
	}
	if got.TimeZone != "Asia/Karachi" {
		t.Errorf("timezone = %q, want Asia/Karachi", got.TimeZone)
	}
	if got.UTC {
		t.Error("cloud rendering must not be marked UTC")
	}
}

func TestForLocal(t *testing.T) {
	got, err := ForLocal(mkSpec("post_market", 16, 30))
	if err != nil {
		t.Fatalf("ForLocal: %v", err)
	}
	if got.Cron != "30 16 * * 1-5" {
		t.Errorf("cron = %q, want %q", got.Cron, "30 16 * * 1-5")
	}
	if got.TimeZone != "" || got.UTC {
		t.Errorf("local rendering carries zone info: %+v", got)
	}
}

func TestForCI(t *testing.T) {
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

	tests := []struct {
		name   string
		hour   int
		minute int
		days   []time.Weekday
		want   string
	}{
		{
			name: "morning trigger stays on the same day",
			hour: 8, minute: 30, days: weekdays,
			want: "30 3 * * 1-5",
		},
		{
			name: "afternoon trigger stays on the same day",
			hour: 16, minute: 30, days: weekdays,
			want: "30 11 * * 1-5",
		},
		{
			name: "trigger before the offset rolls the weekday set back",
			hour: 2, minute: 0, days: weekdays,
			want: "0 21 * * 0-4",
		},
		{
			name: "exactly at the offset does not roll",
			hour: 5, minute: 0, days: weekdays,
			want: "0 0 * * 1-5",
		},
		{
			name: "one minute before the offset rolls",
			hour: 4, minute: 59, days: weekdays,
			want: "59 23 * * 0-4",
		},
		{
			name: "monday-only early trigger lands on sunday",
			hour: 3, minute: 30, days: []time.Weekday{time.Monday},
			want: "30 22 * * 0",
		},
		{
			name: "sparse weekday set keeps its shape",
			hour: 8, minute: 30, days: []time.Weekday{time.Monday, time.Wednesday},
			want: "30 3 * * 1,3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ForCI(mkSpec("pre_market", tt.hour, tt.minute, tt.days...))
			if err != nil {
				t.Fatalf("ForCI: %v", err)
			}
			if got.Cron != tt.want {
				t.Errorf("cron = %q, want %q", got.Cron, tt.want)
			}
			if !got.UTC {
				t.Error("CI rendering must be marked UTC")
			}
		})
	}
}

func TestNext(t *testing.T) {
	// Wednesday 2026-01-07 00:00 UTC is 05:00 in Karachi; the next 08:30
	// local fire is the same Wednesday at 03:30 UTC.
	now := time.Date(2026, time.January, 7, 0, 0, 0, 0, time.UTC)

	cloud, err := ForCloud(mkSpec("pre_market", 8, 30))
	if err != nil {
		t.Fatalf("ForCloud: %v", err)
	}
	got, err := Next(cloud, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := time.Date(2026, time.January, 7, 3, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next = %s, want %s", got.UTC(), want)
	}

	ci, err := ForCI(mkSpec("pre_market", 8, 30))
	if err != nil {
		t.Fatalf("ForCI: %v", err)
	}
	got, err = Next(ci, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("UTC rendering fires at %s, want the same instant %s", got.UTC(), want)
	}
}
