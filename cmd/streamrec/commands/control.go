package commands

import (
	"context"
	"io"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/logfields"
)

// TickCmd implements the 'tick' command. It always exits 0 so that it can
// run from cron; failures are logged.
type TickCmd struct{}

func (t *TickCmd) Run(g *Global, root *CLI) error {
	c, err := root.client()
	if err != nil {
		slog.Error("Scheduler tick failed", logfields.Error(err))
		return nil
	}
	d, err := c.Tick(context.Background())
	if err != nil {
		slog.Error("Scheduler tick failed", logfields.Error(err))
		return nil
	}
	if err := root.print(g.stdout(), d, func(w io.Writer) {
		fprintf(w, "%s", d.Action)
		if d.RuleID != "" {
			fprintf(w, " (rule %s)", d.RuleID)
		}
		if d.Error != "" {
			fprintf(w, ": %s", d.Error)
		}
		fprintf(w, "\n")
	}); err != nil {
		slog.Error("Failed to print decision", logfields.Error(err))
	}
	return nil
}

// ReconcileCmd implements the 'reconcile' command.
type ReconcileCmd struct{}

func (r *ReconcileCmd) Run(g *Global, root *CLI) error {
	c, err := root.client()
	if err != nil {
		return err
	}
	report, err := c.Reconcile(context.Background())
	if err != nil {
		return err
	}
	return root.print(g.stdout(), report, func(w io.Writer) {
		fprintf(w, "Capture processes found: %d\n", report.Candidates)
		if report.ClearedPID != 0 {
			fprintf(w, "Cleared stale session:   pid %d\n", report.ClearedPID)
		}
		if report.Adopted != nil {
			fprintf(w, "Adopted:                 pid %d (%s)\n", report.Adopted.PID, report.Adopted.OutputPath)
		}
		if len(report.Killed) > 0 {
			fprintf(w, "Killed orphans:          %v\n", report.Killed)
		}
		if len(report.KillFailures) > 0 {
			fprintf(w, "Could not kill:          %v\n", report.KillFailures)
		}
		if len(report.Refused) > 0 {
			fprintf(w, "Already exited:          %v\n", report.Refused)
		}
		if !report.Changed() {
			fprintf(w, "Nothing to do\n")
		}
	})
}

// ActivityCmd implements the 'activity' command.
type ActivityCmd struct {
	Limit  int    `short:"n" default:"20" help:"Number of entries"`
	Action string `help:"Only show entries with this action, e.g. recording.started"`
}

func (a *ActivityCmd) Run(g *Global, root *CLI) error {
	c, err := root.client()
	if err != nil {
		return err
	}
	resp, err := c.Activity(context.Background(), a.Limit, a.Action)
	if err != nil {
		return err
	}
	return root.print(g.stdout(), resp, func(w io.Writer) {
		for _, e := range resp.Entries {
			fprintf(w, "%s  %-10s %-26s %s\n", e.Time.Local().Format(time.DateTime), e.User, e.Action, e.Subject)
		}
	})
}
