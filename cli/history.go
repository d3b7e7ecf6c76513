package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/history"
)

func newHistoryCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recent deployment runs from the local audit log",
		Long: `Without arguments, lists the most recent deployment runs. With a run id,
shows every job and trigger operation that run performed. The log is
advisory and local to this machine; it is never consulted when deciding
what to deploy.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.HistoryPath == "" {
				return fmt.Errorf("%w: history recording is disabled (HISTORY_PATH is empty)", deploy.ErrConfig)
			}
			store, err := history.Open(a.cfg.HistoryPath)
			if err != nil {
				return fmt.Errorf("%w: opening history log: %v", deploy.ErrConfig, err)
			}
			defer store.Close()

			if len(args) == 1 {
				return printRunResults(cmd.Context(), cmd.OutOrStdout(), store, args[0])
			}
			return printRuns(cmd.Context(), cmd.OutOrStdout(), store, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of runs to list")
	return cmd
}

func printRuns(ctx context.Context, out io.Writer, store *history.Store, limit int) error {
	runs, err := store.Runs(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No deployment runs recorded yet.")
		return nil
	}
	for _, r := range runs {
		started := time.Unix(r.StartedAt, 0).UTC().Format("2006-01-02 15:04")
		fmt.Fprintf(out, "%s  %-9s %s  %s\n", started, r.Backend, r.ID, coloredStatus(r.Status))
	}
	return nil
}

func printRunResults(ctx context.Context, out io.Writer, store *history.Store, runID string) error {
	entries, err := store.Results(ctx, runID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no results recorded for run %s", runID)
	}
	for _, e := range entries {
		line := fmt.Sprintf("%-14s %-8s %s", e.Job, e.Kind, e.Operation)
		if e.Error != "" {
			line += ": " + e.Error
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func coloredStatus(status string) string {
	switch status {
	case "succeeded":
		return color.GreenString(status)
	case "failed", "aborted":
		return color.RedString(status)
	default:
		return status
	}
}
