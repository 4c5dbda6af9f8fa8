// Package daemon wires the supervisor, reconciler, control loop, health
// monitor and HTTP control API into the long-lived streamrec process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/streamrec/internal/activity"
	"git.home.luguber.info/inful/streamrec/internal/capture"
	"git.home.luguber.info/inful/streamrec/internal/config"
	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
	"git.home.luguber.info/inful/streamrec/internal/health"
	"git.home.luguber.info/inful/streamrec/internal/logfields"
	"git.home.luguber.info/inful/streamrec/internal/media"
	"git.home.luguber.info/inful/streamrec/internal/metrics"
	"git.home.luguber.info/inful/streamrec/internal/notify"
	"git.home.luguber.info/inful/streamrec/internal/reconcile"
	"git.home.luguber.info/inful/streamrec/internal/schedule"
	"git.home.luguber.info/inful/streamrec/internal/scheduler"
	"git.home.luguber.info/inful/streamrec/internal/server/handlers"
	"git.home.luguber.info/inful/streamrec/internal/server/httpserver"
	"git.home.luguber.info/inful/streamrec/internal/state"
	"git.home.luguber.info/inful/streamrec/internal/supervisor"
	"git.home.luguber.info/inful/streamrec/internal/version"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// DefaultShutdownTimeout bounds graceful shutdown in Run.
const DefaultShutdownTimeout = 15 * time.Second

// Daemon is the long-lived streamrec service.
type Daemon struct {
	cfg       *config.Config
	status    atomic.Value
	startTime time.Time
	mu        sync.Mutex

	store      *state.JSONStore
	supervisor *supervisor.Supervisor
	reconciler *reconcile.Reconciler
	monitor    *health.Monitor
	rules      *schedule.Set
	watcher    *schedule.Watcher
	loop       *scheduler.Loop
	activity   *activity.SQLiteLog
	notifier   *notify.Notifier
	nats       *notify.NATSPublisher
	metrics    metrics.Recorder
	jobs       *Jobs
	http       *httpserver.Server

	// reconcileMu keeps startup, health-triggered and API reconciles from overlapping.
	reconcileMu sync.Mutex
}

// New builds every component from cfg. Nothing is started.
func New(cfg *config.Config) (*Daemon, error) {
	d := &Daemon{cfg: cfg}
	d.status.Store(StatusStopped)
	if err := d.build(); err != nil {
		d.closeResources()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build() error {
	cfg := d.cfg
	var err error

	if err := os.MkdirAll(cfg.Capture.OutputDir, 0o750); err != nil {
		return errors.FileSystemError("failed to create output directory").WithCause(err).
			WithContext("path", cfg.Capture.OutputDir).
			Build()
	}

	d.store, err = state.NewJSONStore(cfg.State.DataDir)
	if err != nil {
		return err
	}

	var promHandler http.Handler
	d.metrics = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry()
		d.metrics = metrics.NewPrometheusRecorder(reg)
		promHandler = metrics.HTTPHandler(reg)
	}

	d.activity, err = activity.NewSQLiteLog(cfg.Activity.DBPath)
	if err != nil {
		return err
	}

	var publishers []notify.Publisher
	if cfg.Notify.NATSURL != "" {
		d.nats, err = notify.NewNATSPublisher(notify.NATSConfig{
			URL:      cfg.Notify.NATSURL,
			Subject:  cfg.Notify.Subject,
			KVBucket: cfg.Notify.KVBucket,
		})
		if err != nil {
			return err
		}
		publishers = append(publishers, d.nats)
	}
	d.notifier = notify.New(publishers...)

	d.supervisor = supervisor.New(supervisorConfig(cfg), supervisor.Deps{
		Store:       d.store,
		Launcher:    capture.NewLauncher(captureConfig(cfg)),
		Prober:      capture.NewFFprobe(cfg.Capture.FFprobePath),
		Validator:   media.NewProbeValidator(cfg.Capture.FFprobePath, cfg.Stream.ValidateTimeout.D()),
		Thumbnailer: media.NewFFmpegThumbnailer(cfg.Capture.FFmpegPath, cfg.Thumbnail.Offset),
		Activity:    d.activity,
		Notifier:    d.notifier,
		Metrics:     d.metrics,
	})

	d.reconciler = reconcile.New(
		reconcile.Config{Binary: cfg.Capture.FFmpegPath, OutputDir: cfg.Capture.OutputDir},
		d.supervisor,
		reconcile.GopsutilTable{},
		reconcile.WithActivity(d.activity),
		reconcile.WithMetrics(d.metrics),
	)

	checker := health.NewChecker(d.store, cfg.Health.SampleDelay.D(), nil)
	d.monitor = health.NewMonitor(checker, d.metrics, d.onDeadProcess)
	d.supervisor.SetHealthMonitor(d.monitor)

	rules, err := schedule.LoadRules(cfg.Schedule.RulesFile)
	if err != nil {
		return err
	}
	d.rules = schedule.NewSet(rules)
	if cfg.ScheduleEnabled() {
		d.loop = scheduler.New(d.supervisor, d.rules,
			scheduler.WithActivity(d.activity),
			scheduler.WithMetrics(d.metrics))
		if cfg.WatchRules() {
			d.watcher, err = schedule.NewWatcher(cfg.Schedule.RulesFile, d.rules)
			if err != nil {
				return err
			}
		}
	}

	d.jobs, err = NewJobs()
	if err != nil {
		return err
	}

	deps := handlers.Deps{
		Recorder:   d.supervisor,
		Reconciler: d,
		Rules:      d.rules,
		Activity:   d.activity,
		Changes:    d.store,
		Feed:       d.notifier,
	}
	if d.loop != nil {
		deps.Ticker = d.loop
	}
	d.http = httpserver.New(httpserver.Options{
		Listen:         cfg.HTTP.Listen,
		APIKey:         cfg.HTTP.APIKey,
		MetricsHandler: promHandler,
		MetricsPath:    cfg.Metrics.Path,
	}, deps)

	return nil
}

func captureConfig(cfg *config.Config) capture.Config {
	return capture.Config{
		FFmpegPath:      cfg.Capture.FFmpegPath,
		FFprobePath:     cfg.Capture.FFprobePath,
		Format:          cfg.Capture.Container,
		VideoCodec:      cfg.Capture.VideoCodec,
		AudioCodec:      cfg.Capture.AudioCodec,
		ExtraInputArgs:  cfg.Capture.ExtraInputArgs,
		ExtraOutputArgs: cfg.Capture.ExtraOutputArgs,
		LogDir:          cfg.Capture.LogDir,
	}
}

func supervisorConfig(cfg *config.Config) supervisor.Config {
	return supervisor.Config{
		OutputDir:        cfg.Capture.OutputDir,
		Extension:        cfg.Capture.Extension,
		FilenameLayout:   cfg.Capture.FilenameLayout,
		DefaultStreamURL: cfg.Stream.URL,
		ValidateStream:   cfg.Stream.ValidateBeforeStart,
		ConfirmTimeout:   cfg.Capture.ConfirmTimeout.D(),
		ConfirmInterval:  cfg.Capture.ConfirmInterval.D(),
		StopPhases:       capture.ScalePhases(capture.StopPhases(), cfg.Capture.StopScale),
		KillPhases:       capture.ScalePhases(capture.KillPhases(), cfg.Capture.StopScale),
		Thumbnails:       cfg.Thumbnail.Enabled,
		ThumbnailDir:     cfg.Thumbnail.Dir,
	}
}

// Start reconciles against the process table, then starts the jobs, the
// rules watcher and the HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s := d.GetStatus(); s != StatusStopped {
		return errors.DaemonError(fmt.Sprintf("daemon is not in stopped state: %s", s)).Build()
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	slog.Info("Starting streamrec daemon", slog.String("version", version.Version))

	if _, err := d.Reconcile(ctx); err != nil {
		slog.Error("Startup reconcile failed", logfields.Error(err))
	}

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			slog.Error("Failed to start schedule rules watcher", logfields.Error(err))
		}
	}

	if err := d.scheduleJobs(); err != nil {
		d.status.Store(StatusError)
		return err
	}
	d.jobs.Start()

	if err := d.http.Start(ctx); err != nil {
		d.status.Store(StatusError)
		_ = d.jobs.Stop()
		return err
	}

	d.status.Store(StatusRunning)
	slog.Info("streamrec daemon started",
		logfields.URL("http://"+d.http.Addr().String()),
		slog.String("output_dir", d.cfg.Capture.OutputDir),
		slog.Int("rules", len(d.rules.Rules())),
		slog.Bool("scheduler", d.loop != nil))
	return nil
}

func (d *Daemon) scheduleJobs() error {
	if d.loop != nil {
		if err := d.jobs.Every("scheduler-tick", d.cfg.Schedule.TickInterval.D(), func(ctx context.Context) {
			d.loop.Run(ctx)
		}); err != nil {
			return err
		}
	}
	if err := d.jobs.Every("health-check", d.cfg.Health.Interval.D(), func(ctx context.Context) {
		if _, err := d.monitor.Run(ctx); err != nil {
			slog.Debug("Health pass interrupted", logfields.Error(err))
		}
	}); err != nil {
		return err
	}
	return d.jobs.Every("activity-prune", time.Hour, func(ctx context.Context) {
		cutoff := time.Now().Add(-d.cfg.Activity.Retention.D())
		if n, err := d.activity.Prune(ctx, cutoff); err != nil {
			slog.Warn("Failed to prune activity log", logfields.Error(err))
		} else if n > 0 {
			slog.Info("Pruned activity log", slog.Int64("removed", n))
		}
	})
}

// Reconcile runs one reconciliation pass. Concurrent callers queue.
func (d *Daemon) Reconcile(ctx context.Context) (reconcile.Report, error) {
	d.reconcileMu.Lock()
	defer d.reconcileMu.Unlock()
	return d.reconciler.Reconcile(ctx)
}

// onDeadProcess repairs state after the health monitor saw the tracked process gone.
func (d *Daemon) onDeadProcess(ctx context.Context, pid int) {
	slog.Warn("Tracked capture process is gone; reconciling", logfields.PID(pid))
	if _, err := d.Reconcile(ctx); err != nil {
		slog.Error("Reconcile after dead process failed", logfields.PID(pid), logfields.Error(err))
	}
}

// Stop shuts the daemon down. An active recording keeps running; the next
// start adopts it.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.GetStatus() {
	case StatusStopped, StatusStopping:
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping streamrec daemon")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.http.Stop(gctx) })
	g.Go(d.jobs.Stop)
	if d.watcher != nil {
		g.Go(d.watcher.Stop)
	}
	err := g.Wait()

	d.supervisor.Wait()
	d.closeResources()

	if sess, ok := d.store.Session(); ok {
		slog.Info("Recording continues after daemon exit",
			logfields.SessionID(sess.ID),
			logfields.PID(sess.PID))
	}
	d.status.Store(StatusStopped)
	slog.Info("streamrec daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return err
}

func (d *Daemon) closeResources() {
	if d.activity != nil {
		if err := d.activity.Close(); err != nil {
			slog.Error("Failed to close activity log", logfields.Error(err))
		}
	}
	if d.nats != nil {
		_ = d.nats.Close()
	}
}

// Run starts the daemon and blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	return d.Stop(stopCtx)
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	s, _ := d.status.Load().(Status)
	return s
}

// Addr returns the bound control API address once started.
func (d *Daemon) Addr() net.Addr { return d.http.Addr() }

// Supervisor exposes the recording supervisor.
func (d *Daemon) Supervisor() *supervisor.Supervisor { return d.supervisor }
