package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
)

// Jobs wraps a gocron scheduler running the daemon's periodic work. Every job
// runs in singleton mode: a pass that is still busy when the next one is due
// causes that run to be skipped, not stacked.
type Jobs struct {
	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewJobs creates a stopped job scheduler.
func NewJobs() (*Jobs, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryDaemon, "failed to create gocron scheduler").Build()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Jobs{scheduler: s, ctx: ctx, cancel: cancel}, nil
}

// Every registers fn to run at interval, starting immediately once the
// scheduler starts. fn receives a context canceled by Stop.
func (j *Jobs) Every(name string, interval time.Duration, fn func(ctx context.Context)) error {
	_, err := j.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { fn(j.ctx) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return errors.WrapError(err, errors.CategoryDaemon, fmt.Sprintf("failed to schedule %s job", name)).
			WithContext("interval", interval.String()).
			Build()
	}
	slog.Debug("Scheduled job", slog.String("job", name), slog.Duration("interval", interval))
	return nil
}

// Start begins running jobs.
func (j *Jobs) Start() {
	slog.Info("Starting job scheduler", slog.Int("jobs", len(j.scheduler.Jobs())))
	j.scheduler.Start()
}

// Stop cancels running jobs and waits for them to return.
func (j *Jobs) Stop() error {
	j.cancel()
	return j.scheduler.Shutdown()
}
