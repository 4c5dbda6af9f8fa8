package commands

import (
	"context"
	"io"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/server/responses"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct{}

type statusOutput struct {
	Recording responses.RecordingResponse `json:"recording"`
	Scheduler responses.SchedulerResponse `json:"scheduler"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	c, err := root.client()
	if err != nil {
		return err
	}
	ctx := context.Background()
	rec, err := c.Recording(ctx)
	if err != nil {
		return err
	}
	sched, err := c.Scheduler(ctx)
	if err != nil {
		return err
	}

	out := statusOutput{Recording: rec, Scheduler: sched}
	return root.print(g.stdout(), out, func(w io.Writer) {
		if rec.Active {
			fprintf(w, "Recording:        yes (pid %d, %s)\n", rec.Session.PID,
				(time.Duration(rec.ElapsedSeconds) * time.Second).String())
			fprintf(w, "  file:           %s\n", rec.Session.OutputPath)
			fprintf(w, "  started by:     %s\n", rec.Session.StartedBy)
			fprintf(w, "  schedule:       %s\n", optionalID(rec.Session.ScheduleID))
		} else {
			fprintf(w, "Recording:        no\n")
		}
		fprintf(w, "Owning schedule:  %s\n", optionalID(sched.State.CurrentScheduleID))
		fprintf(w, "Last decision:    %s\n", optional(sched.State.LastAction))
		if sched.ActiveRule != nil {
			fprintf(w, "Active rule:      %s (%s)\n", sched.ActiveRule.ID, sched.ActiveRule.Title)
		} else {
			fprintf(w, "Active rule:      -\n")
		}
		if sched.NextTransition != nil {
			fprintf(w, "Next transition:  %s\n", sched.NextTransition.Format(time.RFC3339))
		}
		fprintf(w, "Rules loaded:     %d\n", sched.Rules)
	})
}

// HealthCmd implements the 'health' command.
type HealthCmd struct{}

func (h *HealthCmd) Run(g *Global, root *CLI) error {
	c, err := root.client()
	if err != nil {
		return err
	}
	rec, err := c.Health(context.Background())
	if err != nil {
		return err
	}
	return root.print(g.stdout(), rec, func(w io.Writer) {
		fprintf(w, "%s: %s\n", rec.Status, rec.Message)
		if rec.PID != 0 {
			fprintf(w, "  pid:      %d (alive: %t)\n", rec.PID, rec.ProcessAlive)
			fprintf(w, "  samples:  %v (growing: %t)\n", rec.FileSizeSamples, rec.Growing)
		}
	})
}
