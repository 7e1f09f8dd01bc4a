package views

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/elonfeng/tubepulse/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is the outcome of one view in a run: a table or a typed error.
type Result struct {
	View     Name
	Table    Table
	Err      error
	Duration time.Duration
}

// OK reports whether the view produced a table.
func (r Result) OK() bool { return r.Err == nil && r.Table != nil }

// Report aggregates the five view results of one run.
type Report struct {
	RunID      string
	LatestDate string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []Result
}

// Get returns the result for one view.
func (r *Report) Get(name Name) (Result, bool) {
	for _, res := range r.Results {
		if res.View == name {
			return res, true
		}
	}
	return Result{}, false
}

// Failed returns the results that carry an error.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Err joins every view error, or returns nil when all views succeeded.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

// Run computes every view independently. A failing view is recorded in its
// Result and never stops the others.
func (e *Engine) Run(ctx context.Context) *Report {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Results:   make([]Result, len(All)),
	}

	latest, err := e.LatestDate(ctx)
	if err != nil {
		e.logger.Warn("resolve latest snapshot date", zap.Error(err))
	}
	report.LatestDate = latest

	pool := pond.NewPool(e.parallelism)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for i, name := range All {
		group.Submit(func() {
			report.Results[i] = e.run(ctx, name)
		})
	}
	if err := group.Wait(); err != nil {
		e.logger.Warn("view group finished with error", zap.Error(err))
	}

	for i, name := range All {
		if report.Results[i].View == "" {
			report.Results[i] = Result{
				View: name,
				Err:  &Error{View: name, Kind: KindQuery, Err: fmt.Errorf("view did not complete")},
			}
		}
	}

	report.FinishedAt = time.Now().UTC()
	return report
}

func (e *Engine) run(ctx context.Context, name Name) Result {
	start := time.Now()
	table, err := e.Compute(ctx, name)
	res := Result{View: name, Table: table, Err: err, Duration: time.Since(start)}

	metrics.ObserveView(string(name), res.Duration, string(KindOf(err)))
	if err != nil {
		e.logger.Error("view failed",
			zap.String("view", string(name)),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err))
		return res
	}

	e.logger.Info("view computed",
		zap.String("view", string(name)),
		zap.Int("rows", table.Len()),
		zap.Duration("duration", res.Duration))
	return res
}
