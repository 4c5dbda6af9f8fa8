// Package commands implements the streamrec subcommands.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/streamrec/internal/client"
	"git.home.luguber.info/inful/streamrec/internal/config"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
	// Out receives command results. Nil means stdout.
	Out io.Writer
}

func (g *Global) stdout() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// CLI definition & global flags.
type CLI struct {
	Config    string           `short:"c" env:"STREAMREC_CONFIG" help:"Configuration file path (defaults plus environment when empty)"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	LogFormat string           `name:"log-format" enum:"text,json" default:"text" help:"Log output format (text, json)"`
	Addr      string           `env:"STREAMREC_ADDR" help:"Daemon control API address (defaults to http.listen)"`
	JSON      bool             `name:"json" help:"Print command results as JSON"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Daemon    DaemonCmd    `cmd:"" help:"Run the recording daemon"`
	Start     StartCmd     `cmd:"" help:"Start recording"`
	Stop      StopCmd      `cmd:"" help:"Stop recording"`
	Status    StatusCmd    `cmd:"" help:"Show recording and scheduler state"`
	Health    HealthCmd    `cmd:"" help:"Show the latest recording health check"`
	Tick      TickCmd      `cmd:"" help:"Run one scheduler control loop tick"`
	Reconcile ReconcileCmd `cmd:"" help:"Reconcile recorder state with running capture processes"`
	Activity  ActivityCmd  `cmd:"" help:"List recent activity"`
	Rules     RulesCmd     `cmd:"" help:"Inspect schedule rule files"`
	Init      InitCmd      `cmd:"" help:"Write an example configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// client builds a control API client from the configuration and --addr.
func (c *CLI) client(opts ...client.Option) (*client.Client, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	addr := cfg.HTTP.Listen
	if c.Addr != "" {
		addr = c.Addr
	}
	return client.New(addr, cfg.HTTP.APIKey, opts...), nil
}

// print writes v as JSON when --json is set and calls human otherwise.
func (c *CLI) print(w io.Writer, v any, human func(io.Writer)) error {
	if c.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

func optional(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func optionalID(id *string) string {
	if id == nil {
		return "-"
	}
	return *id
}

func fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
