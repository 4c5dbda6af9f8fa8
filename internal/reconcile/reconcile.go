// Package reconcile repairs disagreement between the state store and the OS
// process table after crashes: it adopts, clears, or kills.
package reconcile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/streamrec/internal/activity"
	"git.home.luguber.info/inful/streamrec/internal/capture"
	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
	"git.home.luguber.info/inful/streamrec/internal/logfields"
	"git.home.luguber.info/inful/streamrec/internal/metrics"
	"git.home.luguber.info/inful/streamrec/internal/state"
	"git.home.luguber.info/inful/streamrec/internal/supervisor"
)

// Actions recorded in a Report and in metrics.
const (
	ActionAdopt = "adopt"
	ActionClear = "clear"
	ActionKill  = "kill"
)

// Owner is the supervisor surface the reconciler repairs through.
type Owner interface {
	CurrentSession() (*state.Session, bool)
	SchedulerState() state.SchedulerState
	Adopt(ctx context.Context, sess *state.Session) (supervisor.Result, error)
	ClearStale(ctx context.Context, pid int, reason string) (bool, error)
}

// Config identifies capture processes.
type Config struct {
	// Binary is the capture executable; matched by base name.
	Binary    string
	OutputDir string
}

// Report describes what a pass did.
type Report struct {
	Candidates   int            `json:"candidates"`
	Adopted      *state.Session `json:"adopted,omitempty"`
	ClearedPID   int            `json:"cleared_pid,omitempty"`
	Killed       []int          `json:"killed,omitempty"`
	KillFailures []int          `json:"kill_failures,omitempty"`
	// Refused lists captures the supervisor would not adopt because they had
	// already exited or belonged to a failed start.
	Refused []int `json:"refused,omitempty"`
}

// Changed reports whether the pass repaired anything.
func (r Report) Changed() bool {
	return r.Adopted != nil || r.ClearedPID != 0 || len(r.Killed) > 0
}

// Reconciler compares the store with the process table.
type Reconciler struct {
	cfg      Config
	owner    Owner
	table    ProcessTable
	activity activity.Logger
	metrics  metrics.Recorder
	clock    clockwork.Clock
	kill     func(ctx context.Context, pid int) bool
	self     int
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithActivity records kills in the activity log.
func WithActivity(l activity.Logger) Option { return func(r *Reconciler) { r.activity = l } }

// WithMetrics counts actions.
func WithMetrics(m metrics.Recorder) Option { return func(r *Reconciler) { r.metrics = m } }

// WithClock sets the fallback clock for adopted start times.
func WithClock(c clockwork.Clock) Option { return func(r *Reconciler) { r.clock = c } }

// WithKiller replaces the default SIGKILL escalation.
func WithKiller(fn func(ctx context.Context, pid int) bool) Option {
	return func(r *Reconciler) { r.kill = fn }
}

// New creates a reconciler.
func New(cfg Config, owner Owner, table ProcessTable, opts ...Option) *Reconciler {
	r := &Reconciler{
		cfg:      cfg,
		owner:    owner,
		table:    table,
		activity: activity.SlogLogger{},
		metrics:  metrics.NoopRecorder{},
		clock:    clockwork.NewRealClock(),
		kill:     killPID,
		self:     os.Getpid(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func killPID(ctx context.Context, pid int) bool {
	return capture.Terminate(ctx, capture.Attach(pid), capture.KillPhases()).Exited
}

// Reconcile runs one pass:
//   - tracked session whose process is gone or is no longer a capture: cleared
//   - no tracked session: the newest live capture is adopted, the rest are killed
//   - tracked session alive: every other capture is a leak and is killed
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	var report Report

	procs, err := r.table.List(ctx)
	if err != nil {
		return report, errors.RuntimeError("failed to list processes").WithCause(err).Build()
	}
	captures := r.captures(procs)
	report.Candidates = len(captures)

	sess, tracked := r.owner.CurrentSession()
	if tracked {
		if r.trackedAlive(ctx, sess.PID, captures) {
			captures = without(captures, sess.PID)
		} else {
			cleared, err := r.owner.ClearStale(ctx, sess.PID, "tracked capture process is gone")
			if err != nil {
				return report, err
			}
			if cleared {
				report.ClearedPID = sess.PID
				r.metrics.IncReconcileAction(ActionClear)
			}
			tracked = false
			captures = without(captures, sess.PID)
		}
	}

	if !tracked && len(captures) > 0 {
		sort.SliceStable(captures, func(i, j int) bool {
			return captures[i].CreateTime.After(captures[j].CreateTime)
		})
		for len(captures) > 0 {
			candidate := captures[0]
			captures = captures[1:]
			res, err := r.owner.Adopt(ctx, r.sessionFor(candidate))
			if errors.HasCategory(err, errors.CategoryNotActive) {
				slog.DebugContext(ctx, "Adoption refused", logfields.PID(candidate.PID), logfields.Error(err))
				report.Refused = append(report.Refused, candidate.PID)
				continue
			}
			if err != nil {
				return report, err
			}
			report.Adopted = res.Session
			r.metrics.IncReconcileAction(ActionAdopt)
			break
		}
	}

	for _, orphan := range captures {
		out, _ := capture.OutputFromArgs(orphan.Args)
		log := slog.With(logfields.PID(orphan.PID), logfields.OutputPath(out))
		if r.kill(ctx, orphan.PID) {
			log.WarnContext(ctx, "Killed leaked capture process")
			report.Killed = append(report.Killed, orphan.PID)
			r.metrics.IncReconcileAction(ActionKill)
			if err := r.activity.LogActivity(ctx, "system", activity.ActionOrphanKilled, filepath.Base(out)); err != nil {
				log.WarnContext(ctx, "Failed to record activity", logfields.Error(err))
			}
			continue
		}
		log.ErrorContext(ctx, "Leaked capture process survived kill", logfields.Severity(string(errors.SeverityFatal)))
		report.KillFailures = append(report.KillFailures, orphan.PID)
	}

	slog.InfoContext(ctx, "Reconcile pass complete",
		slog.Int("candidates", report.Candidates),
		slog.Bool("adopted", report.Adopted != nil),
		slog.Int("cleared_pid", report.ClearedPID),
		slog.Int("killed", len(report.Killed)))
	return report, nil
}

func (r *Reconciler) trackedAlive(ctx context.Context, pid int, captures []ProcInfo) bool {
	exists, err := r.table.Exists(ctx, pid)
	if err != nil {
		exists = capture.PIDAlive(pid)
	}
	if !exists {
		return false
	}
	// A live pid that no longer runs the capture binary was reused by the OS.
	for _, c := range captures {
		if c.PID == pid {
			return true
		}
	}
	return false
}

// captures filters procs down to capture processes writing into the output dir.
func (r *Reconciler) captures(procs []ProcInfo) []ProcInfo {
	var out []ProcInfo
	for _, p := range procs {
		if p.PID == r.self || !r.Matches(p.Args) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Matches reports whether args is a capture command writing under the output dir.
func (r *Reconciler) Matches(args []string) bool {
	if len(args) < 2 {
		return false
	}
	bin := filepath.Base(r.cfg.Binary)
	// Interpreted wrappers show up as "<interpreter> <script> ...".
	if filepath.Base(args[0]) != bin && filepath.Base(args[1]) != bin {
		return false
	}
	out, ok := capture.OutputFromArgs(args)
	if !ok {
		return false
	}
	return within(r.cfg.OutputDir, out)
}

func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func (r *Reconciler) sessionFor(p ProcInfo) *state.Session {
	out, _ := capture.OutputFromArgs(p.Args)
	startedAt := p.CreateTime
	if startedAt.IsZero() {
		startedAt = r.clock.Now()
	}
	sess := &state.Session{
		PID:        p.PID,
		OutputPath: out,
		StreamURL:  inputURL(p.Args),
		StartedAt:  startedAt,
		StartedBy:  state.InitiatorManual,
	}
	if owner := r.owner.SchedulerState().CurrentScheduleID; owner != nil {
		sess.StartedBy = state.InitiatorScheduler
		sess.ScheduleID = state.CloneID(owner)
	}
	return sess
}

func inputURL(args []string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-i" {
			return args[i+1]
		}
	}
	return ""
}

func without(procs []ProcInfo, pid int) []ProcInfo {
	out := procs[:0:0]
	for _, p := range procs {
		if p.PID != pid {
			out = append(out, p)
		}
	}
	return out
}
