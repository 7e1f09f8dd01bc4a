package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/tubepulse/internal/logging"
	"github.com/elonfeng/tubepulse/internal/pipeline"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Scheduler triggers the daily pipeline on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	runner     Runner
	spec       string
	runOnStart bool
	timeout    time.Duration
	logger     *zap.Logger
}

// New creates a new scheduler. spec is a standard five-field cron expression
// (or a descriptor such as "@daily") evaluated in loc.
func New(runner Runner, spec string, loc *time.Location, runOnStart bool, logger *zap.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.UTC
	}

	cl := logging.CronLogger{L: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:     runner,
		spec:       spec,
		runOnStart: runOnStart,
		timeout:    time.Hour,
		logger:     logger,
	}, nil
}

// Run starts the scheduler loop. Blocks until ctx is cancelled and the
// in-flight run, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.spec, func() { s.runOnce(ctx) })
	if err != nil {
		return fmt.Errorf("schedule pipeline: %w", err)
	}

	if s.runOnStart {
		s.logger.Info("scheduler: initial run")
		s.runOnce(ctx)
	}

	s.cron.Start()
	s.logger.Info("scheduler running",
		zap.String("spec", s.spec),
		zap.Time("next", s.cron.Entry(id).Next))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.runner.Run(rctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.logger.Info("scheduler: run skipped, another run is active")
	case err != nil:
		s.logger.Error("scheduler: run failed", zap.Error(err))
	case res.Err() != nil:
		s.logger.Warn("scheduler: run finished with errors", zap.String("run_id", res.RunID), zap.Error(res.Err()))
	default:
		s.logger.Info("scheduler: run finished", zap.String("run_id", res.RunID), zap.String("snapshot_date", res.SnapshotDate))
	}
}
