package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/elonfeng/tubepulse/pkg/views"
)

// digestSize caps each list in a digest.
const digestSize = 5

// Entry is one video mentioned in a digest.
type Entry struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	Value   int64  `json:"value"`
	URL     string `json:"url"`
}

// Notification is the daily digest sent to alert destinations.
type Notification struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	RunID        string   `json:"run_id"`
	SnapshotDate string   `json:"snapshot_date"`
	NewEntries   []Entry  `json:"new_entries"`
	Risers       []Entry  `json:"risers"`
	FailedViews  []string `json:"failed_views,omitempty"`
}

// Empty reports whether the digest has nothing worth sending.
func (n *Notification) Empty() bool {
	return len(n.NewEntries) == 0 && len(n.Risers) == 0 && len(n.FailedViews) == 0
}

// Digest builds a notification from a view report: the chart's new
// entrants, the biggest view gainers and any views that failed.
func Digest(r *views.Report) *Notification {
	n := &Notification{
		Title:        fmt.Sprintf("Trending digest for %s", r.LatestDate),
		RunID:        r.RunID,
		SnapshotDate: r.LatestDate,
	}

	if res, ok := r.Get(views.NewEntriesView); ok && res.OK() {
		entrants, _ := res.Table.(views.NewEntrants)
		for _, e := range entrants {
			if len(n.NewEntries) == digestSize {
				break
			}
			n.NewEntries = append(n.NewEntries, Entry{VideoID: e.ItemID, Title: e.Title, URL: watchURL(e.ItemID)})
		}
	}
	if res, ok := r.Get(views.GrowthView); ok && res.OK() {
		growth, _ := res.Table.(views.Growth)
		for _, g := range growth {
			if len(n.Risers) == digestSize || g.Delta <= 0 {
				break
			}
			n.Risers = append(n.Risers, Entry{VideoID: g.ItemID, Title: g.Title, Value: g.Delta, URL: watchURL(g.ItemID)})
		}
	}
	for _, res := range r.Failed() {
		n.FailedViews = append(n.FailedViews, fmt.Sprintf("%s (%s)", res.View, views.KindOf(res.Err)))
	}

	n.Body = fmt.Sprintf("%d new entries, %d risers", len(n.NewEntries), len(n.Risers))
	if len(n.FailedViews) > 0 {
		n.Body += fmt.Sprintf(", %d failed views", len(n.FailedViews))
	}
	return n
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
