// Package health samples an active recording for output growth and process
// liveness. It reports degradation; it never stops or restarts anything.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/streamrec/internal/capture"
	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
	"git.home.luguber.info/inful/streamrec/internal/logfields"
	"git.home.luguber.info/inful/streamrec/internal/metrics"
	"git.home.luguber.info/inful/streamrec/internal/state"
)

// Status is the health verdict of one pass.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusIdle     Status = "idle"
)

// DefaultSampleDelay separates the two file-size samples.
const DefaultSampleDelay = 3 * time.Second

// Record is the result of one health pass. It is rebuilt every pass.
type Record struct {
	PID             int       `json:"pid,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	LastCheck       time.Time `json:"last_check"`
	FileSizeSamples []int64   `json:"file_size_samples,omitempty"`
	ProcessAlive    bool      `json:"process_alive"`
	Growing         bool      `json:"growing"`
	Status          Status    `json:"status"`
	Message         string    `json:"message,omitempty"`
}

// SessionSource is the read side of the state store.
type SessionSource interface {
	Session() (*state.Session, bool)
}

// Checker performs single health passes.
type Checker struct {
	sessions    SessionSource
	sampleDelay time.Duration
	clock       clockwork.Clock
	alive       func(pid int) bool
}

// NewChecker creates a checker. A zero sampleDelay uses DefaultSampleDelay.
func NewChecker(sessions SessionSource, sampleDelay time.Duration, clock clockwork.Clock) *Checker {
	if sampleDelay <= 0 {
		sampleDelay = DefaultSampleDelay
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Checker{sessions: sessions, sampleDelay: sampleDelay, clock: clock, alive: capture.PIDAlive}
}

// Check samples the output size twice, sampleDelay apart, while checking the
// PID concurrently. A canceled ctx returns its error and no record.
func (c *Checker) Check(ctx context.Context) (Record, error) {
	sess, ok := c.sessions.Session()
	if !ok {
		return Record{Status: StatusIdle, LastCheck: c.clock.Now(), Message: "No recording is active"}, nil
	}

	rec := Record{PID: sess.PID, SessionID: sess.ID}
	samples := make([]int64, 2)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		samples[0] = fileSize(sess.OutputPath)
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-c.clock.After(c.sampleDelay):
		}
		samples[1] = fileSize(sess.OutputPath)
		return nil
	})
	g.Go(func() error {
		rec.ProcessAlive = c.alive(sess.PID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Record{}, err
	}

	rec.LastCheck = c.clock.Now()
	rec.FileSizeSamples = samples
	rec.Growing = samples[1] > samples[0]

	switch {
	case rec.ProcessAlive && rec.Growing:
		rec.Status = StatusHealthy
		rec.Message = "Recording is healthy"
	case !rec.ProcessAlive:
		rec.Status = StatusDegraded
		rec.Message = errors.HealthDegradedError("capture process is not running").Build().Message()
	default:
		rec.Status = StatusDegraded
		rec.Message = errors.HealthDegradedError(
			fmt.Sprintf("output file is not growing (%d -> %d bytes)", samples[0], samples[1])).Build().Message()
	}
	return rec, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}

// Monitor runs passes and caches the latest record.
type Monitor struct {
	checker *Checker
	metrics metrics.Recorder
	onDead  func(ctx context.Context, pid int)

	mu   sync.RWMutex
	last Record
	ran  bool
}

// NewMonitor wraps checker. onDead, when set, is invoked after a pass finds the
// tracked process gone.
func NewMonitor(checker *Checker, rec metrics.Recorder, onDead func(ctx context.Context, pid int)) *Monitor {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Monitor{checker: checker, metrics: rec, onDead: onDead}
}

// Run performs one pass. Degradation is logged as a warning and reported.
func (m *Monitor) Run(ctx context.Context) (Record, error) {
	rec, err := m.checker.Check(ctx)
	if err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	m.last = rec
	m.ran = true
	m.mu.Unlock()

	m.metrics.SetHealthStatus(string(rec.Status))
	switch rec.Status {
	case StatusDegraded:
		slog.WarnContext(ctx, "Recording health degraded",
			logfields.PID(rec.PID),
			logfields.Alive(rec.ProcessAlive),
			slog.Bool("growing", rec.Growing),
			slog.Any("samples", rec.FileSizeSamples),
			logfields.Severity(string(errors.SeverityWarning)))
		if !rec.ProcessAlive && m.onDead != nil {
			m.onDead(ctx, rec.PID)
		}
	case StatusHealthy:
		slog.DebugContext(ctx, "Recording healthy", logfields.PID(rec.PID), slog.Any("samples", rec.FileSizeSamples))
	}
	return rec, nil
}

// Last returns the most recent record and whether any pass has completed.
func (m *Monitor) Last() (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.ran
}

// Current serves the cached record when it describes the current session;
// otherwise it runs a fresh pass.
func (m *Monitor) Current(ctx context.Context) Record {
	sess, active := m.checker.sessions.Session()
	if last, ok := m.Last(); ok {
		if !active && last.Status == StatusIdle {
			return last
		}
		if active && last.SessionID == sess.ID {
			return last
		}
	}
	rec, err := m.Run(ctx)
	if err != nil {
		return Record{Status: StatusIdle, LastCheck: m.checker.clock.Now(), Message: err.Error()}
	}
	return rec
}
