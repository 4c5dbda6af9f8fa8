package commands

import (
	"fmt"

	"git.home.luguber.info/inful/streamrec/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool   `help:"Overwrite existing configuration file"`
	Path  string `arg:"" optional:"" default:"streamrec.yaml" help:"Where to write the configuration"`
}

func (i *InitCmd) Run(g *Global, _ *CLI) error {
	fmt.Fprintf(g.stdout(), "Writing configuration to %s\n", i.Path)
	if err := config.Init(i.Path, i.Force); err != nil {
		return err
	}
	fmt.Fprintln(g.stdout(), "initialized successfully")
	return nil
}
