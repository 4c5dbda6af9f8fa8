package supervisor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/streamrec/internal/activity"
	"git.home.luguber.info/inful/streamrec/internal/capture"
	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
	"git.home.luguber.info/inful/streamrec/internal/health"
	"git.home.luguber.info/inful/streamrec/internal/logfields"
	"git.home.luguber.info/inful/streamrec/internal/media"
	"git.home.luguber.info/inful/streamrec/internal/metrics"
	"git.home.luguber.info/inful/streamrec/internal/retry"
	"git.home.luguber.info/inful/streamrec/internal/state"
)

// Deps are the collaborators of a Supervisor. Store, Launcher and Prober are required.
type Deps struct {
	Store       state.Store
	Launcher    Launcher
	Prober      capture.FrameProber
	Validator   media.Validator
	Thumbnailer media.Thumbnailer
	Activity    activity.Logger
	Notifier    ChangeNotifier
	Metrics     metrics.Recorder
	Clock       clockwork.Clock
	// ProcessAlive defaults to capture.PIDAlive.
	ProcessAlive func(pid int) bool
}

// rolledBackTTL bounds how long a killed unconfirmed capture stays ineligible
// for adoption.
const rolledBackTTL = time.Minute

// Supervisor serializes all recording lifecycle operations.
type Supervisor struct {
	cfg  Config
	deps Deps

	mu         sync.Mutex
	proc       *capture.Process
	rolledBack map[int]time.Time

	health     *health.Monitor
	background sync.WaitGroup
}

// New creates a supervisor.
func New(cfg Config, deps Deps) *Supervisor {
	if deps.Activity == nil {
		deps.Activity = activity.SlogLogger{}
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopRecorder{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.ProcessAlive == nil {
		deps.ProcessAlive = capture.PIDAlive
	}
	return &Supervisor{cfg: cfg.withDefaults(), deps: deps, rolledBack: make(map[int]time.Time)}
}

// pendingChange is a change notification deferred until the lock is released.
type pendingChange struct {
	change int64
	reason string
}

func (p *pendingChange) set(change int64, reason string) {
	p.change = change
	p.reason = reason
}

// publish must be deferred before s.mu is locked so it runs after Unlock.
func (s *Supervisor) publish(ctx context.Context, pc *pendingChange) {
	if pc.reason == "" {
		return
	}
	s.deps.Notifier.Changed(context.WithoutCancel(ctx), pc.change, pc.reason)
}

// SetHealthMonitor attaches the monitor served by Health.
func (s *Supervisor) SetHealthMonitor(m *health.Monitor) { s.health = m }

// Start launches a capture and returns once frames are confirmed.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (Result, error) {
	var pc pendingChange
	defer s.publish(ctx, &pc)
	s.mu.Lock()
	defer s.mu.Unlock()

	initiator := string(req.Initiator)
	if existing, ok := s.deps.Store.Session(); ok {
		s.deps.Metrics.IncStartOutcome(initiator, metrics.OutcomeAlreadyActive)
		err := errors.AlreadyActiveError("a recording is already active").
			WithContext("pid", existing.PID).
			WithContext("started_by", string(existing.StartedBy)).
			Build()
		return Result{Status: StatusAlreadyActive, Message: err.Message(), Session: existing}, err
	}

	if !req.Initiator.Valid() {
		err := errors.ValidationError(fmt.Sprintf("unknown initiator %q", req.Initiator)).Build()
		return failed(err), err
	}
	url := req.StreamURL
	if url == "" {
		url = s.cfg.DefaultStreamURL
	}
	if url == "" {
		err := errors.ValidationError("no stream URL configured").Build()
		return failed(err), err
	}

	if s.cfg.ValidateStream && s.deps.Validator != nil && !s.deps.Validator.IsReachable(ctx, url) {
		s.deps.Metrics.IncStartOutcome(initiator, metrics.OutcomeLaunchFailure)
		err := errors.LaunchError("stream is not reachable").WithContext("url", url).Build()
		return failed(err), err
	}

	startedAt := s.deps.Clock.Now()
	outputPath := s.cfg.OutputPath(startedAt)
	log := slog.With(
		logfields.Initiator(initiator),
		logfields.OptionalScheduleID(req.ScheduleID),
		logfields.StreamURL(url),
		logfields.OutputPath(outputPath))

	proc, err := s.deps.Launcher.Launch(ctx, url, outputPath)
	if err != nil {
		s.deps.Metrics.IncStartOutcome(initiator, metrics.OutcomeLaunchFailure)
		log.ErrorContext(ctx, "Capture launch failed", logfields.Error(err))
		return failed(err), err
	}
	log = log.With(logfields.PID(proc.PID()))

	launched := time.Now()
	if err := s.confirm(ctx, proc, outputPath); err != nil {
		s.rollback(ctx, proc, outputPath)
		outcome := metrics.OutcomeNoFrames
		switch {
		case errors.HasCategory(err, errors.CategoryLaunch):
			outcome = metrics.OutcomeLaunchFailure
		case ctx.Err() != nil:
			outcome = metrics.OutcomeCanceled
		}
		s.deps.Metrics.IncStartOutcome(initiator, outcome)
		log.ErrorContext(ctx, "Capture was not confirmed; rolled back", logfields.Error(err))
		return failed(err), err
	}
	s.deps.Metrics.ObserveConfirmDuration(time.Since(launched))

	sess := &state.Session{
		ID:         uuid.NewString(),
		PID:        proc.PID(),
		OutputPath: outputPath,
		StreamURL:  url,
		StartedAt:  startedAt,
		StartedBy:  req.Initiator,
		ScheduleID: state.CloneID(req.ScheduleID),
	}
	var change int64
	err = s.deps.Store.Update(func(snap *state.Snapshot) {
		snap.Session = sess
		if req.Initiator == state.InitiatorScheduler && req.ScheduleID != nil {
			snap.Scheduler.CurrentScheduleID = state.CloneID(req.ScheduleID)
		}
		snap.Change = state.NextChange(snap.Change, s.deps.Clock.Now())
		change = snap.Change
	})
	if err != nil {
		s.rollback(ctx, proc, outputPath)
		s.deps.Metrics.IncStartOutcome(initiator, metrics.OutcomeStateWriteFailure)
		werr := errors.StateWriteError("failed to persist recording session").
			WithCause(err).
			WithContext("pid", proc.PID()).
			Build()
		log.ErrorContext(ctx, "Session persist failed; capture killed", logfields.Error(werr), logfields.Severity(string(errors.SeverityFatal)))
		return failed(werr), werr
	}
	s.proc = proc

	log.InfoContext(ctx, "Recording started", logfields.SessionID(sess.ID))
	s.logActivity(ctx, initiator, activity.ActionRecordingStarted, filepath.Base(outputPath))
	pc.set(change, activity.ActionRecordingStarted)
	s.deps.Metrics.IncStartOutcome(initiator, metrics.OutcomeSuccess)
	s.deps.Metrics.SetRecordingActive(true)

	return Result{OK: true, Status: StatusStarted, Message: "Recording started", Session: sess.Clone()}, nil
}

// confirm polls the prober until frames appear, the process dies, the confirm
// timeout elapses, or ctx is canceled.
func (s *Supervisor) confirm(ctx context.Context, proc *capture.Process, outputPath string) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	maxRetries := int(s.cfg.ConfirmTimeout/s.cfg.ConfirmInterval) + 1
	policy := retry.Fixed(s.cfg.ConfirmInterval, maxRetries)

	err := policy.Do(cctx, func(attempt int) (bool, error) {
		if !proc.Alive() {
			return false, capture.LaunchFailure(proc)
		}
		ok, err := s.deps.Prober.HasFrames(cctx, outputPath)
		if err != nil {
			return false, err
		}
		slog.DebugContext(ctx, "Frame probe", logfields.PID(proc.PID()), logfields.Attempt(attempt), slog.Bool("frames", ok))
		return ok, nil
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return errors.CanceledError("start canceled before frames were confirmed").
			WithCause(ctx.Err()).
			WithContext("pid", proc.PID()).
			Build()
	case errors.IsClassified(err):
		return err
	case stderrors.Is(err, retry.ErrExhausted), stderrors.Is(err, context.DeadlineExceeded):
		return errors.NoFramesError(fmt.Sprintf("no frames detected within %s", s.cfg.ConfirmTimeout)).
			WithContext("pid", proc.PID()).
			Build()
	default:
		return errors.NoFramesError("frame confirmation failed").WithCause(err).Build()
	}
}

// rollback kills an unconfirmed capture and removes its partial output. The pid
// is remembered so a concurrent reconcile pass cannot adopt it. Callers hold s.mu.
func (s *Supervisor) rollback(ctx context.Context, proc *capture.Process, outputPath string) {
	now := s.deps.Clock.Now()
	for pid, at := range s.rolledBack {
		if now.Sub(at) > rolledBackTTL {
			delete(s.rolledBack, pid)
		}
	}
	s.rolledBack[proc.PID()] = now

	report := capture.Terminate(context.WithoutCancel(ctx), proc, s.cfg.KillPhases)
	if !report.Exited {
		slog.ErrorContext(ctx, "Unconfirmed capture survived kill", logfields.PID(proc.PID()), logfields.Severity(string(errors.SeverityFatal)))
	}
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		slog.WarnContext(ctx, "Failed to remove partial output", logfields.OutputPath(outputPath), logfields.Error(err))
	}
}

// Stop ends the active session. With no session it returns StatusNotActive and
// changes nothing.
func (s *Supervisor) Stop(ctx context.Context, initiator state.Initiator) (Result, error) {
	var pc pendingChange
	defer s.publish(ctx, &pc)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.deps.Store.Session()
	if !ok {
		s.deps.Metrics.IncStopOutcome(string(initiator), metrics.OutcomeNotActive)
		return Result{Status: StatusNotActive, Message: "No recording is active"}, nil
	}
	return s.stopLocked(ctx, sess, initiator, &pc)
}

// StopOwned stops the session only while scheduleID still owns it. In any other
// state it returns StatusNotActive and changes nothing.
func (s *Supervisor) StopOwned(ctx context.Context, scheduleID string) (Result, error) {
	var pc pendingChange
	defer s.publish(ctx, &pc)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.deps.Store.Session()
	owner := s.deps.Store.Scheduler().CurrentScheduleID
	if !ok || owner == nil || *owner != scheduleID {
		return Result{Status: StatusNotActive, Message: "Schedule no longer owns a recording"}, nil
	}
	return s.stopLocked(ctx, sess, state.InitiatorScheduler, &pc)
}

func (s *Supervisor) stopLocked(ctx context.Context, sess *state.Session, initiator state.Initiator, pc *pendingChange) (Result, error) {
	log := slog.With(
		logfields.Initiator(string(initiator)),
		logfields.SessionID(sess.ID),
		logfields.PID(sess.PID),
		logfields.OutputPath(sess.OutputPath))

	proc := s.proc
	if proc == nil || proc.PID() != sess.PID {
		proc = capture.Attach(sess.PID)
	}
	report := capture.Terminate(context.WithoutCancel(ctx), proc, s.cfg.StopPhases)

	outcome := metrics.OutcomeSuccess
	message := "Recording stopped"
	if report.Exited {
		if report.Phase != "" {
			s.deps.Metrics.IncTerminationPhase(report.Phase)
		}
	} else {
		outcome = metrics.OutcomeTerminationFailure
		message = "Recording stopped; capture process could not be terminated"
		terr := errors.TerminationError("capture process survived all termination signals").
			WithContext("pid", sess.PID).
			Build()
		log.ErrorContext(ctx, "Termination failed; clearing session anyway",
			logfields.Error(terr),
			logfields.Severity(string(errors.SeverityFatal)))
	}

	// The session ends even if the process survived, so the recorder is never locked out.
	var change int64
	err := s.deps.Store.Update(func(snap *state.Snapshot) {
		snap.Session = nil
		snap.Scheduler.CurrentScheduleID = nil
		snap.Change = state.NextChange(snap.Change, s.deps.Clock.Now())
		change = snap.Change
	})
	s.proc = nil
	if err != nil {
		werr := errors.StateWriteError("failed to clear recording session").WithCause(err).Build()
		log.ErrorContext(ctx, "Session clear failed", logfields.Error(werr), logfields.Severity(string(errors.SeverityFatal)))
		s.deps.Metrics.IncStopOutcome(string(initiator), metrics.OutcomeStateWriteFailure)
		return Result{Status: StatusFailed, Message: werr.Message(), Termination: &report}, werr
	}

	duration := s.deps.Clock.Since(sess.StartedAt)
	var size int64
	if info, err := os.Stat(sess.OutputPath); err == nil {
		size = info.Size()
	}

	log.InfoContext(ctx, "Recording stopped",
		logfields.Duration(duration),
		logfields.SizeBytes(size),
		slog.String("terminated_in", report.Phase))
	s.logActivity(ctx, string(initiator), activity.ActionRecordingStopped, filepath.Base(sess.OutputPath))
	pc.set(change, activity.ActionRecordingStopped)
	s.deps.Metrics.IncStopOutcome(string(initiator), outcome)
	s.deps.Metrics.ObserveRecordingDuration(duration)
	s.deps.Metrics.SetRecordingActive(false)

	if size > 0 {
		s.generateThumbnail(ctx, sess.OutputPath)
	}

	return Result{
		OK:          true,
		Status:      StatusStopped,
		Message:     message,
		Session:     sess,
		Filename:    filepath.Base(sess.OutputPath),
		Duration:    duration,
		FinalSize:   size,
		Termination: &report,
	}, nil
}

func (s *Supervisor) generateThumbnail(ctx context.Context, videoPath string) {
	if !s.cfg.Thumbnails || s.deps.Thumbnailer == nil {
		return
	}
	out := media.ThumbnailPath(s.cfg.ThumbnailDir, videoPath)
	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.deps.Thumbnailer.Generate(bg, videoPath, out); err != nil {
			slog.WarnContext(bg, "Thumbnail generation failed", logfields.OutputPath(videoPath), logfields.Error(err))
			return
		}
		slog.DebugContext(bg, "Thumbnail generated", logfields.Path(out))
	}()
}

// IsActive reports whether a session exists.
func (s *Supervisor) IsActive() bool {
	_, ok := s.deps.Store.Session()
	return ok
}

// CurrentSession returns the active session, if any.
func (s *Supervisor) CurrentSession() (*state.Session, bool) {
	return s.deps.Store.Session()
}

// Health returns the latest health record.
func (s *Supervisor) Health(ctx context.Context) health.Record {
	if s.health == nil {
		return health.Record{Status: health.StatusIdle, LastCheck: s.deps.Clock.Now(), Message: "health monitor not configured"}
	}
	return s.health.Current(ctx)
}

// SchedulerState returns the scheduler ownership record.
func (s *Supervisor) SchedulerState() state.SchedulerState {
	return s.deps.Store.Scheduler()
}

// SetSchedulerState mutates the scheduler record under the supervisor lock.
func (s *Supervisor) SetSchedulerState(ctx context.Context, fn func(*state.SchedulerState)) error {
	var pc pendingChange
	defer s.publish(ctx, &pc)
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.deps.Store.Scheduler()
	var change int64
	var owner bool
	err := s.deps.Store.Update(func(snap *state.Snapshot) {
		fn(&snap.Scheduler)
		owner = !state.SameID(before.CurrentScheduleID, snap.Scheduler.CurrentScheduleID)
		if owner {
			snap.Change = state.NextChange(snap.Change, s.deps.Clock.Now())
		}
		change = snap.Change
	})
	if err != nil {
		return errors.StateWriteError("failed to persist scheduler state").WithCause(err).Build()
	}
	if owner {
		pc.set(change, ReasonOwnership)
	}
	return nil
}

// HandOff moves ownership of the running session from one schedule to another.
// It reports false and changes nothing unless from still owns an active session.
func (s *Supervisor) HandOff(ctx context.Context, from, to string) (bool, error) {
	var pc pendingChange
	defer s.publish(ctx, &pc)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.deps.Store.Session()
	if !ok || !state.SameID(s.deps.Store.Scheduler().CurrentScheduleID, &from) {
		return false, nil
	}
	return s.setOwnerLocked(state.ID(to), &pc, "failed to persist schedule hand-off")
}

// ReleaseOwnership clears the owner left behind by a schedule whose recording
// is gone. It reports false and changes nothing if a session exists or another
// schedule owns the record.
func (s *Supervisor) ReleaseOwnership(ctx context.Context, from string) (bool, error) {
	var pc pendingChange
	defer s.publish(ctx, &pc)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.deps.Store.Session()
	if ok || !state.SameID(s.deps.Store.Scheduler().CurrentScheduleID, &from) {
		return false, nil
	}
	return s.setOwnerLocked(nil, &pc, "failed to release schedule ownership")
}

func (s *Supervisor) setOwnerLocked(owner *string, pc *pendingChange, failure string) (bool, error) {
	var change int64
	err := s.deps.Store.Update(func(snap *state.Snapshot) {
		snap.Scheduler.CurrentScheduleID = owner
		snap.Change = state.NextChange(snap.Change, s.deps.Clock.Now())
		change = snap.Change
	})
	if err != nil {
		return false, errors.StateWriteError(failure).WithCause(err).Build()
	}
	pc.set(change, ReasonOwnership)
	return true, nil
}

// Adopt records a running capture found without a session. A pid that has
// exited, or that a failed start just killed, is refused with ErrNotActive.
func (s *Supervisor) Adopt(ctx context.Context, sess *state.Session) (Result, error) {
	var pc pendingChange
	defer s.publish(ctx, &pc)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.deps.Store.Session(); ok {
		err := errors.AlreadyActiveError("cannot adopt: a session is already tracked").
			WithContext("pid", existing.PID).
			Build()
		return Result{Status: StatusAlreadyActive, Message: err.Message(), Session: existing}, err
	}
	if at, ok := s.rolledBack[sess.PID]; ok && s.deps.Clock.Since(at) <= rolledBackTTL {
		err := errors.NotActiveError("capture was rolled back by a failed start").
			WithContext("pid", sess.PID).
			Build()
		return Result{Status: StatusNotActive, Message: err.Message()}, err
	}
	if !s.deps.ProcessAlive(sess.PID) {
		err := errors.NotActiveError("capture process is no longer running").
			WithContext("pid", sess.PID).
			Build()
		return Result{Status: StatusNotActive, Message: err.Message()}, err
	}

	adopted := sess.Clone()
	if adopted.ID == "" {
		adopted.ID = uuid.NewString()
	}
	adopted.Adopted = true

	var change int64
	err := s.deps.Store.Update(func(snap *state.Snapshot) {
		snap.Session = adopted
		if adopted.StartedBy == state.InitiatorScheduler {
			snap.Scheduler.CurrentScheduleID = state.CloneID(adopted.ScheduleID)
		}
		snap.Change = state.NextChange(snap.Change, s.deps.Clock.Now())
		change = snap.Change
	})
	if err != nil {
		werr := errors.StateWriteError("failed to persist adopted session").WithCause(err).Build()
		return failed(werr), werr
	}
	s.proc = nil

	slog.InfoContext(ctx, "Adopted orphan capture",
		logfields.SessionID(adopted.ID),
		logfields.PID(adopted.PID),
		logfields.OutputPath(adopted.OutputPath),
		logfields.Initiator(string(adopted.StartedBy)))
	s.logActivity(ctx, "system", activity.ActionRecordingAdopted, filepath.Base(adopted.OutputPath))
	pc.set(change, activity.ActionRecordingAdopted)
	s.deps.Metrics.SetRecordingActive(true)

	return Result{OK: true, Status: StatusAdopted, Message: "Orphan capture adopted", Session: adopted.Clone()}, nil
}

// ClearStale removes the session when it still refers to pid. It reports whether
// anything was cleared.
func (s *Supervisor) ClearStale(ctx context.Context, pid int, reason string) (bool, error) {
	var pc pendingChange
	defer s.publish(ctx, &pc)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.deps.Store.Session()
	if !ok || sess.PID != pid {
		return false, nil
	}

	var change int64
	err := s.deps.Store.Update(func(snap *state.Snapshot) {
		snap.Session = nil
		snap.Scheduler.CurrentScheduleID = nil
		snap.Change = state.NextChange(snap.Change, s.deps.Clock.Now())
		change = snap.Change
	})
	if err != nil {
		return false, errors.StateWriteError("failed to clear stale session").WithCause(err).Build()
	}
	s.proc = nil

	slog.WarnContext(ctx, "Cleared stale recording session",
		logfields.SessionID(sess.ID),
		logfields.PID(pid),
		slog.String("reason", reason))
	s.logActivity(ctx, "system", activity.ActionSessionCleared, filepath.Base(sess.OutputPath))
	pc.set(change, activity.ActionSessionCleared)
	s.deps.Metrics.SetRecordingActive(false)
	return true, nil
}

// Wait blocks until background work such as thumbnails finishes.
func (s *Supervisor) Wait() {
	s.background.Wait()
}

func (s *Supervisor) logActivity(ctx context.Context, user, action, subject string) {
	if err := s.deps.Activity.LogActivity(ctx, user, action, subject); err != nil {
		slog.WarnContext(ctx, "Failed to record activity", slog.String("action", action), logfields.Error(err))
	}
}

func failed(err error) Result {
	msg := err.Error()
	if c, ok := errors.AsClassified(err); ok {
		msg = c.Message()
	}
	return Result{Status: StatusFailed, Message: msg}
}
