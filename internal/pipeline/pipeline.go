// Package pipeline runs the daily ingest and view refresh.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elonfeng/tubepulse/internal/metrics"
	"github.com/elonfeng/tubepulse/internal/store"
	"github.com/elonfeng/tubepulse/pkg/alert"
	"github.com/elonfeng/tubepulse/pkg/source"
	"github.com/elonfeng/tubepulse/pkg/views"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Step names, in execution order.
const (
	StepCollect  = "collect"
	StepValidate = "validate"
	StepUpsert   = "upsert"
	StepPrune    = "prune"
	StepViews    = "views"
	StepSink     = "sink"
	StepNotify   = "notify"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name     string        `json:"name"`
	Summary  string        `json:"summary"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Result holds the results of a pipeline run.
type Result struct {
	RunID        string        `json:"run_id"`
	SnapshotDate string        `json:"snapshot_date,omitempty"`
	Steps        []StepResult  `json:"steps"`
	Report       *views.Report `json:"-"`
}

// Err joins every failed step's error.
func (r *Result) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, s.Err))
		}
	}
	return errors.Join(errs...)
}

// Sink persists a view report.
type Sink interface {
	WriteReport(r *views.Report) error
}

// Options carries the optional collaborators of a Pipeline.
type Options struct {
	Filter   *source.Filter
	Sink     Sink
	Alerts   *alert.Manager
	Location *time.Location
	// RetentionDays prunes snapshots older than this many days. Zero keeps all.
	RetentionDays int
}

// Pipeline orchestrates collect, validate, upsert, prune, views, sink and notify.
type Pipeline struct {
	store  store.Store
	source source.Source
	engine *views.Engine
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

// New creates a new pipeline. src may be nil for view-only use.
func New(st store.Store, src source.Source, engine *views.Engine, opts Options, logger *zap.Logger) *Pipeline {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Pipeline{
		store:  st,
		source: src,
		engine: engine,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// SnapshotDate is the calendar day a run started now would be stored under.
func (p *Pipeline) SnapshotDate() string {
	return p.now().In(p.opts.Location).Format(store.DateFormat)
}

// Run executes the full pipeline. A failed ingest stops the run before the
// views so they are never refreshed over a stale snapshot.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()

	r := p.newResult()
	if !p.ingest(ctx, r) {
		p.finish(r)
		return r, nil
	}
	p.refresh(ctx, r)
	p.finish(r)
	return r, nil
}

// Ingest collects and stores today's snapshot without touching the views.
func (p *Pipeline) Ingest(ctx context.Context) (*Result, error) {
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()

	r := p.newResult()
	p.ingest(ctx, r)
	p.finish(r)
	return r, nil
}

// Refresh recomputes the views over the stored snapshots, writes them and
// sends the digest.
func (p *Pipeline) Refresh(ctx context.Context) (*Result, error) {
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()

	r := p.newResult()
	r.SnapshotDate = ""
	p.refresh(ctx, r)
	p.finish(r)
	return r, nil
}

func (p *Pipeline) newResult() *Result {
	return &Result{RunID: uuid.NewString(), SnapshotDate: p.SnapshotDate()}
}

func (p *Pipeline) ingest(ctx context.Context, r *Result) bool {
	if p.source == nil {
		r.Steps = append(r.Steps, StepResult{Name: StepCollect, Err: errors.New("no source configured")})
		return false
	}

	var videos []source.Video
	step := p.step(StepCollect, func() (string, error) {
		var err error
		videos, err = p.source.Collect(ctx)
		if err != nil {
			return "", err
		}
		if len(videos) == 0 {
			return "", errors.New("source returned no videos")
		}
		collected := len(videos)
		videos = p.opts.Filter.Apply(videos)
		return fmt.Sprintf("%d videos from %s (%d after filter)", collected, p.source.Name(), len(videos)), nil
	})
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return false
	}

	var rows []store.FactRow
	step = p.step(StepValidate, func() (string, error) {
		var (
			warnings []string
			err      error
		)
		rows, warnings, err = Validate(ToFactRows(videos, r.SnapshotDate))
		for _, w := range warnings {
			p.logger.Warn("row coerced", zap.String("detail", w))
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d rows valid, %d warnings", len(rows), len(warnings)), nil
	})
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return false
	}

	step = p.step(StepUpsert, func() (string, error) {
		n, err := p.store.UpsertSnapshot(ctx, rows)
		if err != nil {
			return "", err
		}
		metrics.IngestedRows.WithLabelValues(string(p.source.Name())).Add(float64(n))
		return fmt.Sprintf("%d rows upserted for %s", n, r.SnapshotDate), nil
	})
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return false
	}

	if p.opts.RetentionDays > 0 {
		// Prune failures do not block the views.
		r.Steps = append(r.Steps, p.step(StepPrune, func() (string, error) {
			day, err := time.Parse(store.DateFormat, r.SnapshotDate)
			if err != nil {
				return "", err
			}
			cutoff := day.AddDate(0, 0, -p.opts.RetentionDays).Format(store.DateFormat)
			n, err := p.store.Prune(ctx, cutoff)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d rows older than %s pruned", n, cutoff), nil
		}))
	}
	return true
}

func (p *Pipeline) refresh(ctx context.Context, r *Result) {
	step := p.step(StepViews, func() (string, error) {
		r.Report = p.engine.Run(ctx)
		r.Report.RunID = r.RunID
		if r.SnapshotDate == "" {
			r.SnapshotDate = r.Report.LatestDate
		}
		failed := len(r.Report.Failed())
		return fmt.Sprintf("%d/%d views computed", len(r.Report.Results)-failed, len(r.Report.Results)), r.Report.Err()
	})
	r.Steps = append(r.Steps, step)
	if r.Report == nil {
		return
	}

	if p.opts.Sink != nil {
		r.Steps = append(r.Steps, p.step(StepSink, func() (string, error) {
			if err := p.opts.Sink.WriteReport(r.Report); err != nil {
				return "", err
			}
			return "artifacts written", nil
		}))
	}

	if p.opts.Alerts.HasNotifiers() {
		r.Steps = append(r.Steps, p.step(StepNotify, func() (string, error) {
			n := alert.Digest(r.Report)
			if n.Empty() {
				return "nothing to report", nil
			}
			if err := p.opts.Alerts.Broadcast(ctx, n); err != nil {
				return "", err
			}
			return n.Body, nil
		}))
	}
}

func (p *Pipeline) step(name string, fn func() (string, error)) StepResult {
	start := time.Now()
	summary, err := fn()
	res := StepResult{Name: name, Summary: summary, Err: err, Duration: time.Since(start)}
	if err != nil {
		p.logger.Error("pipeline step failed", zap.String("step", name), zap.Error(err))
	} else {
		p.logger.Info("pipeline step done", zap.String("step", name), zap.String("summary", summary), zap.Duration("duration", res.Duration))
	}
	return res
}

func (p *Pipeline) finish(r *Result) {
	if err := r.Err(); err != nil {
		p.logger.Warn("pipeline run finished with errors", zap.String("run_id", r.RunID), zap.Error(err))
		return
	}
	metrics.LastSuccess.SetToCurrentTime()
	p.logger.Info("pipeline run finished", zap.String("run_id", r.RunID), zap.String("snapshot_date", r.SnapshotDate))
}
