// Package sink writes computed views to files for the dashboard.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/elonfeng/tubepulse/pkg/views"
	"github.com/goccy/go-json"
)

// ReportFile is the name of the run summary written next to the CSV artifacts.
const ReportFile = "report.json"

// CSV writes one <view>.csv file per successful view into Dir.
type CSV struct {
	Dir string
}

// NewCSV creates a CSV sink rooted at dir.
func NewCSV(dir string) *CSV {
	return &CSV{Dir: dir}
}

// Path returns the artifact path of a view.
func (c *CSV) Path(name views.Name) string {
	return filepath.Join(c.Dir, string(name)+".csv")
}

// WriteTable writes one view atomically: readers never see a half-written file.
func (c *CSV) WriteTable(t views.Table) error {
	return c.writeAtomic(c.Path(t.View()), func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(t.Columns()); err != nil {
			return err
		}
		if err := w.WriteAll(t.Records()); err != nil {
			return err
		}
		return w.Error()
	})
}

// WriteReport writes every successful view and the run summary. Failed views
// leave their previous artifact in place. The returned error joins write
// failures only; view failures are recorded in the summary.
func (c *CSV) WriteReport(r *views.Report) error {
	var firstErr error
	for _, res := range r.Results {
		if !res.OK() {
			continue
		}
		if err := c.WriteTable(res.Table); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("write %s: %w", res.View, err)
		}
	}

	data, err := json.MarshalIndent(Summarize(r), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := c.writeAtomic(filepath.Join(c.Dir, ReportFile), func(f *os.File) error {
		_, err := f.Write(data)
		return err
	}); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("write report: %w", err)
	}
	return firstErr
}

func (c *CSV) writeAtomic(path string, fill func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Summary is the JSON form of a run report.
type Summary struct {
	RunID      string        `json:"run_id"`
	LatestDate string        `json:"latest_date"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Views      []ViewSummary `json:"views"`
}

// ViewSummary is one view's status in a Summary.
type ViewSummary struct {
	View       views.Name `json:"view"`
	OK         bool       `json:"ok"`
	Rows       int        `json:"rows"`
	Kind       views.Kind `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMs float64    `json:"duration_ms"`
}

// Summarize converts a report to its JSON summary.
func Summarize(r *views.Report) Summary {
	s := Summary{
		RunID:      r.RunID,
		LatestDate: r.LatestDate,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for _, res := range r.Results {
		vs := ViewSummary{
			View:       res.View,
			OK:         res.OK(),
			DurationMs: float64(res.Duration.Microseconds()) / 1000.0,
		}
		if res.Table != nil {
			vs.Rows = res.Table.Len()
		}
		if res.Err != nil {
			vs.Kind = views.KindOf(res.Err)
			vs.Error = res.Err.Error()
		}
		s.Views = append(s.Views, vs)
	}
	return s
}
