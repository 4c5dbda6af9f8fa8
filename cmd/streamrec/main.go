package main

import (
	"log/slog"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/streamrec/cmd/streamrec/commands"
	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
	"git.home.luguber.info/inful/streamrec/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("streamrec"),
		kong.Description("Supervises a single live-stream recording, driven by operators and a schedule."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	err := parser.Run(&commands.Global{Logger: slog.Default()}, cli)
	errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
}
