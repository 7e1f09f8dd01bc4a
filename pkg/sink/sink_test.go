package sink

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/elonfeng/tubepulse/pkg/views"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriteTable(t *testing.T) {
	c := NewCSV(t.TempDir())

	err := c.WriteTable(views.Growth{
		{ItemID: "x", Title: "Hello, world", SnapshotDate: "2026-03-04", ViewCount: 200, PreviousViewCount: 150, Delta: 50},
	})
	require.NoError(t, err)

	records := readCSV(t, c.Path(views.GrowthView))
	assert.Equal(t, [][]string{
		{"item_id", "title", "snapshot_date", "view_count", "previous_view_count", "delta"},
		{"x", "Hello, world", "2026-03-04", "200", "150", "50"},
	}, records)
}

func TestWriteTableEmptyKeepsHeader(t *testing.T) {
	c := NewCSV(t.TempDir())
	require.NoError(t, c.WriteTable(views.NewEntrants{}))

	records := readCSV(t, c.Path(views.NewEntriesView))
	assert.Equal(t, [][]string{{"item_id", "title", "snapshot_date"}}, records)
}

func TestWriteReportSkipsFailedViews(t *testing.T) {
	dir := t.TempDir()
	c := NewCSV(dir)

	// A previous run's artifact must survive a failed recompute.
	require.NoError(t, c.WriteTable(views.TopVideos{{ItemID: "old", Title: "Old", ViewCount: 1}}))

	report := &views.Report{
		RunID:      "run-1",
		LatestDate: "2026-03-04",
		Results: []views.Result{
			{View: views.TopVideosView, Err: &views.Error{View: views.TopVideosView, Kind: views.KindQuery, Err: errors.New("boom")}},
			{View: views.ChannelsView, Table: views.ChannelTotals{{ChannelID: "C", ChannelName: "Chan", TotalViewCount: 400}}},
		},
	}
	require.NoError(t, c.WriteReport(report))

	top := readCSV(t, c.Path(views.TopVideosView))
	assert.Equal(t, "old", top[1][0])

	channels := readCSV(t, c.Path(views.ChannelsView))
	assert.Equal(t, []string{"channel_id", "channel_name", "view_count"}, channels[0])
	assert.Equal(t, []string{"C", "Chan", "400"}, channels[1])

	data, err := os.ReadFile(filepath.Join(dir, ReportFile))
	require.NoError(t, err)
	var s Summary
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, "run-1", s.RunID)
	require.Len(t, s.Views, 2)
	assert.False(t, s.Views[0].OK)
	assert.Equal(t, views.KindQuery, s.Views[0].Kind)
	assert.True(t, s.Views[1].OK)
	assert.Equal(t, 1, s.Views[1].Rows)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	c := NewCSV(dir)
	require.NoError(t, c.WriteTable(views.TopVideos{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "top_videos_by_views.csv", entries[0].Name())
}
