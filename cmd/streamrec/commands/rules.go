package commands

import (
	"io"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
	"git.home.luguber.info/inful/streamrec/internal/schedule"
)

// RulesCmd groups the offline rule file commands.
type RulesCmd struct {
	Check RulesCheckCmd `cmd:"" help:"Validate a schedule rules file"`
	Eval  RulesEvalCmd  `cmd:"" help:"Show which rule is active at an instant"`
}

// RulesCheckCmd implements 'rules check'.
type RulesCheckCmd struct {
	File string `arg:"" type:"existingfile" help:"Rules file (JSON array)"`
}

func (r *RulesCheckCmd) Run(g *Global, root *CLI) error {
	rules, err := schedule.LoadRules(r.File)
	if err != nil {
		return err
	}
	enabled := 0
	for _, rule := range rules {
		if rule.Enabled {
			enabled++
		}
	}
	out := map[string]int{"rules": len(rules), "enabled": enabled}
	return root.print(g.stdout(), out, func(w io.Writer) {
		fprintf(w, "%s: %d rules (%d enabled), all valid\n", r.File, len(rules), enabled)
	})
}

// RulesEvalCmd implements 'rules eval'.
type RulesEvalCmd struct {
	File string `arg:"" type:"existingfile" help:"Rules file (JSON array)"`
	At   string `help:"Local time to evaluate, as 2006-01-02T15:04 (defaults to now)"`
}

type evalOutput struct {
	At             time.Time      `json:"at"`
	ActiveRule     *schedule.Rule `json:"active_rule"`
	NextTransition *time.Time     `json:"next_transition,omitempty"`
}

const evalLayout = "2006-01-02T15:04"

func (r *RulesEvalCmd) Run(g *Global, root *CLI) error {
	rules, err := schedule.LoadRules(r.File)
	if err != nil {
		return err
	}
	at := time.Now()
	if r.At != "" {
		at, err = time.ParseInLocation(evalLayout, r.At, time.Local)
		if err != nil {
			return errors.WrapError(err, errors.CategoryValidation, "invalid --at, want "+evalLayout).Build()
		}
	}

	out := evalOutput{At: at}
	if rule, ok := schedule.ActiveRule(rules, at); ok {
		out.ActiveRule = &rule
	}
	if next, ok := schedule.NextTransition(rules, at, 8*24*time.Hour); ok {
		out.NextTransition = &next
	}
	return root.print(g.stdout(), out, func(w io.Writer) {
		if out.ActiveRule != nil {
			fprintf(w, "%s: %s (%s) should be recording\n", at.Format(evalLayout), out.ActiveRule.ID, out.ActiveRule.Title)
		} else {
			fprintf(w, "%s: no rule active\n", at.Format(evalLayout))
		}
		if out.NextTransition != nil {
			fprintf(w, "next change at %s\n", out.NextTransition.Format(evalLayout))
		}
	})
}
