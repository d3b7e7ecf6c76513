package orchestrator

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/psxresearch/deployctl/job"
	"github.com/psxresearch/deployctl/schedule"
	"github.com/psxresearch/deployctl/secrets"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

// report prints the per-operation outcome table and the next scheduled runs.
// Secret values never appear here, only names and version identifiers.
func (o *Orchestrator) report(sum *Summary, specs []job.Spec) {
	fmt.Fprintf(o.Out, "\nDeployment summary (%s):\n", sum.Backend)
	fmt.Fprintf(o.Out, "  %-14s %-8s %s\n", "JOB", "KIND", "RESULT")
	for _, r := range sum.Results {
		if r.Failed() {
			fmt.Fprintf(o.Out, "  %-14s %-8s %s: %v\n", r.Job, r.Kind, red("failed"), r.Err)
			continue
		}
		fmt.Fprintf(o.Out, "  %-14s %-8s %s\n", r.Job, r.Kind, green(string(r.Op)))
	}

	if len(sum.Secrets) > 0 {
		fmt.Fprintf(o.Out, "\nSecrets:\n")
		for _, s := range sum.Secrets {
			fmt.Fprintf(o.Out, "  %-18s %s (version %s)\n", s.Ref.Name, string(s.Op), s.Version)
		}
	}

	o.printNextRuns(specs)

	if failed := sum.FailedResults(); len(failed) > 0 {
		fmt.Fprintf(o.Out, "\n%s\n", yellow(fmt.Sprintf("%d operation(s) failed; fix the causes above and re-run, completed work converges.", len(failed))))
	}
}

func (o *Orchestrator) printNextRuns(specs []job.Spec) {
	now := o.now()
	header := false
	for _, spec := range specs {
		tr, err := o.backend.Translate(spec)
		if err != nil {
			continue
		}
		next, err := schedule.Next(tr, now)
		if err != nil {
			continue
		}
		if !header {
			fmt.Fprintf(o.Out, "\nNext scheduled runs:\n")
			header = true
		}
		fmt.Fprintf(o.Out, "  %-14s %-22s next %s\n",
			spec.Name, tr.String(), next.UTC().Format("2006-01-02 15:04 MST"))
	}
}

// Check is the read-only environment diagnostic: artifact and tool checks, an
// authentication probe, the schedule renderings, and, when the provisioner
// supports probing, whether each secret is already retrievable. Nothing is
// created or modified, and a missing secret is reported rather than fatal
// since first-time deployments legitimately start without them.
func (o *Orchestrator) Check(ctx context.Context, specs []job.Spec) error {
	if err := job.ValidateAll(specs); err != nil {
		return err
	}

	fmt.Fprintf(o.Out, "Checking the %s backend:\n", o.backend.Name())

	if err := o.backend.Check(ctx); err != nil {
		fmt.Fprintf(o.Out, "  %-22s %s: %v\n", "tooling", red("failed"), err)
		return err
	}
	fmt.Fprintf(o.Out, "  %-22s %s\n", "tooling", green("ok"))

	if err := o.backend.Authenticate(ctx); err != nil {
		fmt.Fprintf(o.Out, "  %-22s %s: %v\n", "authentication", red("failed"), err)
		return err
	}
	fmt.Fprintf(o.Out, "  %-22s %s\n", "authentication", green("ok"))

	if prober, ok := o.provisioner.(secrets.Prober); ok {
		for _, ref := range requiredSecrets(specs) {
			if err := prober.Probe(ctx, ref); err != nil {
				fmt.Fprintf(o.Out, "  secret %-15s %s: %v\n", ref.Name, yellow("missing"), err)
				continue
			}
			fmt.Fprintf(o.Out, "  secret %-15s %s\n", ref.Name, green("ok"))
		}
	}

	o.printNextRuns(specs)
	return nil
}
