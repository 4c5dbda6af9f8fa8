package commands

import (
	"context"
	"io"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/client"
	"git.home.luguber.info/inful/streamrec/internal/supervisor"
)

// StartCmd implements the 'start' command.
type StartCmd struct {
	URL        string `name:"url" help:"Stream URL (defaults to stream.url)"`
	ScheduleID string `name:"schedule-id" help:"Attribute the recording to a schedule rule"`
	Manual     bool   `help:"Record the start as an operator action instead of an API call"`
}

func (s *StartCmd) Run(g *Global, root *CLI) error {
	var opts []client.Option
	if s.Manual {
		opts = append(opts, client.AsManual())
	}
	c, err := root.client(opts...)
	if err != nil {
		return err
	}
	res, err := c.Start(context.Background(), s.URL, s.ScheduleID)
	if err != nil {
		return err
	}
	return root.print(g.stdout(), res, func(w io.Writer) { printResult(w, res) })
}

// StopCmd implements the 'stop' command.
type StopCmd struct {
	Manual bool `help:"Record the stop as an operator action instead of an API call"`
}

func (s *StopCmd) Run(g *Global, root *CLI) error {
	var opts []client.Option
	if s.Manual {
		opts = append(opts, client.AsManual())
	}
	c, err := root.client(opts...)
	if err != nil {
		return err
	}
	res, err := c.Stop(context.Background())
	if err != nil {
		return err
	}
	return root.print(g.stdout(), res, func(w io.Writer) { printResult(w, res) })
}

func printResult(w io.Writer, res supervisor.Result) {
	fprintf(w, "%s: %s\n", res.Status, res.Message)
	if res.Session == nil {
		return
	}
	fprintf(w, "  pid:       %d\n", res.Session.PID)
	fprintf(w, "  file:      %s\n", res.Session.OutputPath)
	if res.Status == supervisor.StatusStopped {
		fprintf(w, "  duration:  %s\n", res.Duration.Round(time.Second))
		fprintf(w, "  size:      %d bytes\n", res.FinalSize)
	}
}
