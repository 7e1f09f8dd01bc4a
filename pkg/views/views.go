// Package views computes the day-over-day analytical tables derived from the
// snapshot fact table. Every view resolves its reference date(s) from the data
// itself, so skipped days and first runs need no special handling by callers.
package views

import "strconv"

// Name identifies a derived view. It doubles as the artifact base name.
type Name string

const (
	TopVideosView  Name = "top_videos_by_views"
	GrowthView     Name = "daily_growth"
	RankMoversView Name = "daily_rank_movers"
	NewEntriesView Name = "new_entries"
	ChannelsView   Name = "channel_insights"
)

// All lists the views in report order.
var All = []Name{TopVideosView, GrowthView, RankMoversView, NewEntriesView, ChannelsView}

// Valid reports whether n names a known view.
func (n Name) Valid() bool {
	for _, v := range All {
		if v == n {
			return true
		}
	}
	return false
}

// Table is a computed view ready for a sink.
type Table interface {
	View() Name
	Columns() []string
	Records() [][]string
	Len() int
}

// TopVideo is one row of the Top-N view.
type TopVideo struct {
	ItemID    string `db:"item_id" json:"item_id"`
	Title     string `db:"title" json:"title"`
	ViewCount int64  `db:"view_count" json:"view_count"`
}

type TopVideos []TopVideo

func (TopVideos) View() Name { return TopVideosView }
func (TopVideos) Columns() []string {
	return []string{"item_id", "title", "view_count"}
}
func (t TopVideos) Len() int { return len(t) }
func (t TopVideos) Records() [][]string {
	out := make([][]string, len(t))
	for i, r := range t {
		out[i] = []string{r.ItemID, r.Title, itoa(r.ViewCount)}
	}
	return out
}

// GrowthRow is one row of the Growth view.
type GrowthRow struct {
	ItemID            string `db:"item_id" json:"item_id"`
	Title             string `db:"title" json:"title"`
	SnapshotDate      string `db:"snapshot_date" json:"snapshot_date"`
	ViewCount         int64  `db:"view_count" json:"view_count"`
	PreviousViewCount int64  `db:"previous_view_count" json:"previous_view_count"`
	Delta             int64  `db:"delta" json:"delta"`
}

type Growth []GrowthRow

func (Growth) View() Name { return GrowthView }
func (Growth) Columns() []string {
	return []string{"item_id", "title", "snapshot_date", "view_count", "previous_view_count", "delta"}
}
func (g Growth) Len() int { return len(g) }
func (g Growth) Records() [][]string {
	out := make([][]string, len(g))
	for i, r := range g {
		out[i] = []string{r.ItemID, r.Title, r.SnapshotDate, itoa(r.ViewCount), itoa(r.PreviousViewCount), itoa(r.Delta)}
	}
	return out
}

// RankMover is one row of the Rank-Movers view. Positive RankDelta means the
// video climbed the chart.
type RankMover struct {
	ItemID       string `db:"item_id" json:"item_id"`
	Title        string `db:"title" json:"title"`
	SnapshotDate string `db:"snapshot_date" json:"snapshot_date"`
	Rank         int    `db:"rank" json:"rank"`
	PreviousRank int    `db:"previous_rank" json:"previous_rank"`
	RankDelta    int    `db:"rank_delta" json:"rank_delta"`
}

type RankMovers []RankMover

func (RankMovers) View() Name { return RankMoversView }
func (RankMovers) Columns() []string {
	return []string{"item_id", "title", "snapshot_date", "rank", "previous_rank", "rank_delta"}
}
func (m RankMovers) Len() int { return len(m) }
func (m RankMovers) Records() [][]string {
	out := make([][]string, len(m))
	for i, r := range m {
		out[i] = []string{r.ItemID, r.Title, r.SnapshotDate,
			strconv.Itoa(r.Rank), strconv.Itoa(r.PreviousRank), strconv.Itoa(r.RankDelta)}
	}
	return out
}

// NewEntrant is a video present in the latest snapshot but not the one before it.
type NewEntrant struct {
	ItemID       string `db:"item_id" json:"item_id"`
	Title        string `db:"title" json:"title"`
	SnapshotDate string `db:"snapshot_date" json:"snapshot_date"`
}

type NewEntrants []NewEntrant

func (NewEntrants) View() Name { return NewEntriesView }
func (NewEntrants) Columns() []string {
	return []string{"item_id", "title", "snapshot_date"}
}
func (n NewEntrants) Len() int { return len(n) }
func (n NewEntrants) Records() [][]string {
	out := make([][]string, len(n))
	for i, r := range n {
		out[i] = []string{r.ItemID, r.Title, r.SnapshotDate}
	}
	return out
}

// ChannelTotal is one channel's summed views on the latest snapshot.
type ChannelTotal struct {
	ChannelID      string `db:"channel_id" json:"channel_id"`
	ChannelName    string `db:"channel_name" json:"channel_name"`
	TotalViewCount int64  `db:"total_view_count" json:"view_count"`
}

type ChannelTotals []ChannelTotal

func (ChannelTotals) View() Name { return ChannelsView }
func (ChannelTotals) Columns() []string {
	return []string{"channel_id", "channel_name", "view_count"}
}
func (c ChannelTotals) Len() int { return len(c) }
func (c ChannelTotals) Records() [][]string {
	out := make([][]string, len(c))
	for i, r := range c {
		out[i] = []string{r.ChannelID, r.ChannelName, itoa(r.TotalViewCount)}
	}
	return out
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
