package capture

import (
	"context"
	"log/slog"
	"syscall"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/logfields"
)

// Phase is one escalation step of a shutdown.
type Phase struct {
	Name    string
	Signals []syscall.Signal
	Timeout time.Duration
	Desc    string
}

// StopPhases is the graceful escalation used when a recording is stopped.
// SIGINT lets ffmpeg finalize the container.
func StopPhases() []Phase {
	return []Phase{
		{"wake_and_interrupt", []syscall.Signal{syscall.SIGCONT, syscall.SIGINT}, 5 * time.Second, "graceful stop"},
		{"retry_interrupt", []syscall.Signal{syscall.SIGINT}, 3 * time.Second, "retry graceful stop"},
		{"terminate", []syscall.Signal{syscall.SIGTERM}, 2 * time.Second, "forceful termination"},
		{"kill", []syscall.Signal{syscall.SIGKILL}, time.Second, "immediate kill"},
	}
}

// KillPhases terminates immediately. Used for rollbacks and leaked orphans.
func KillPhases() []Phase {
	return []Phase{
		{"kill", []syscall.Signal{syscall.SIGKILL}, time.Second, "immediate kill"},
	}
}

// ScalePhases multiplies every phase timeout by factor.
func ScalePhases(phases []Phase, factor float64) []Phase {
	out := make([]Phase, len(phases))
	for i, ph := range phases {
		ph.Timeout = time.Duration(float64(ph.Timeout) * factor)
		out[i] = ph
	}
	return out
}

// Step records one delivered signal and the liveness observed afterwards.
type Step struct {
	Phase  string `json:"phase"`
	Signal string `json:"signal"`
	Alive  bool   `json:"alive"`
}

// TerminationReport summarizes a shutdown.
type TerminationReport struct {
	Exited bool   `json:"exited"`
	Phase  string `json:"phase,omitempty"`
	Steps  []Step `json:"steps"`
}

const alivePollInterval = 50 * time.Millisecond

// Terminate runs phases against proc until it exits. Each step is logged with the
// signal and the liveness result. The report says whether the process is gone.
func Terminate(ctx context.Context, proc *Process, phases []Phase) TerminationReport {
	var report TerminationReport

	if !proc.Alive() {
		slog.InfoContext(ctx, "Capture process already exited", logfields.PID(proc.PID()))
		report.Exited = true
		return report
	}

	for _, phase := range phases {
		phaseStart := time.Now()
		slog.InfoContext(ctx, "Capture shutdown phase",
			logfields.PID(proc.PID()),
			logfields.Phase(phase.Name),
			slog.String("desc", phase.Desc))

		for idx, sig := range phase.Signals {
			_ = proc.signal(sig) // process may have gone away
			// arbitrary delay between signals, but not after the last signal
			if idx < len(phase.Signals)-1 {
				time.Sleep(100 * time.Millisecond)
			}
		}

		exited := waitExit(ctx, proc, phase.Timeout-time.Since(phaseStart))
		last := phase.Signals[len(phase.Signals)-1]
		report.Steps = append(report.Steps, Step{Phase: phase.Name, Signal: signalName(last), Alive: !exited})
		slog.InfoContext(ctx, "Capture liveness after signal",
			logfields.PID(proc.PID()),
			logfields.Phase(phase.Name),
			logfields.Signal(signalName(last)),
			logfields.Alive(!exited))

		if exited {
			report.Exited = true
			report.Phase = phase.Name
			return report
		}
		if ctx.Err() != nil {
			break
		}
	}
	return report
}

// waitExit reports whether proc exited within timeout.
func waitExit(ctx context.Context, proc *Process, timeout time.Duration) bool {
	if timeout <= 0 {
		return !proc.Alive()
	}
	if done := proc.Done(); done != nil {
		return waitForChan(ctx, timeout, done) == nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(alivePollInterval)
	defer ticker.Stop()
	for {
		if !proc.Alive() {
			return true
		}
		select {
		case <-ctx.Done():
			return !proc.Alive()
		case <-deadline.C:
			return !proc.Alive()
		case <-ticker.C:
		}
	}
}

// waitForChan returns nil if and only if the channel is closed
func waitForChan(ctx context.Context, timeout time.Duration, c <-chan struct{}) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGCONT:
		return "SIGCONT"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGKILL:
		return "SIGKILL"
	default:
		return sig.String()
	}
}
