package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper is the work a Runner triggers.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (SweepResult, error)
}

// Runner triggers sweeps on a cron schedule. Overlapping runs are skipped so a
// slow sweep never stacks up behind itself.
type Runner struct {
	sweeper Sweeper
	cron    *cron.Cron
	spec    string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
	stop    sync.Once
}

// NewRunner parses spec (standard five fields, optional leading seconds, or
// descriptors such as "@every 30s").
func NewRunner(sweeper Sweeper, spec string, timeout time.Duration, logger *zap.Logger) (*Runner, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	cl := cronLogger{logger: logger}
	r := &Runner{
		sweeper: sweeper,
		spec:    spec,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
	r.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return r, nil
}

// Start schedules sweeps until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.spec, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	r.cron.Start()
	r.logger.Info("sweep runner started", zap.String("schedule", r.spec))

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop stops scheduling and waits for an in-flight sweep to finish.
func (r *Runner) Stop() {
	r.stop.Do(func() {
		<-r.cron.Stop().Done()
		r.logger.Info("sweep runner stopped")
	})
}

// RunOnce performs a single sweep with the runner's timeout.
func (r *Runner) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.sweeper.Sweep(ctx, r.now().UTC()); err != nil {
		r.logger.Error("sweep failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
