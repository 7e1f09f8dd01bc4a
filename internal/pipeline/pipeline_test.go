package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/tubepulse/internal/store"
	"github.com/elonfeng/tubepulse/pkg/source"
	"github.com/elonfeng/tubepulse/pkg/views"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	videos []source.Video
	err    error
	calls  int
}

func (f *fakeSource) Name() source.SourceType { return source.SourceYouTube }

func (f *fakeSource) Collect(context.Context) ([]source.Video, error) {
	f.calls++
	return f.videos, f.err
}

type recordingSink struct {
	reports []*views.Report
}

func (s *recordingSink) WriteReport(r *views.Report) error {
	s.reports = append(s.reports, r)
	return nil
}

func chart(ids ...string) []source.Video {
	videos := make([]source.Video, len(ids))
	for i, id := range ids {
		videos[i] = source.Video{
			ID:           id,
			Title:        "Title " + id,
			ChannelID:    "ch",
			ChannelTitle: "Channel",
			ViewCount:    int64(1000 - i*10),
			Rank:         i + 1,
			Tags:         []string{"a", "b"},
			Duration:     90 * time.Second,
			FetchedAt:    time.Now().UTC(),
		}
	}
	return videos
}

type harness struct {
	store *store.SQLStore
	src   *fakeSource
	sink  *recordingSink
	p     *Pipeline
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	st, err := store.New("sqlite", filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{store: st, src: &fakeSource{}, sink: &recordingSink{}}
	opts.Sink = h.sink
	logger := zaptest.NewLogger(t)
	engine := views.NewEngine(st.DB(), views.Options{Limit: 10, Parallelism: 5}, logger)
	h.p = New(st, h.src, engine, opts, logger)
	return h
}

func (h *harness) at(day string) {
	ts, _ := time.Parse(store.DateFormat, day)
	h.p.now = func() time.Time { return ts.Add(12 * time.Hour) }
}

func stepNames(r *Result) []string {
	var names []string
	for _, s := range r.Steps {
		names = append(names, s.Name)
	}
	return names
}

func TestRunStoresSnapshotAndRefreshesViews(t *testing.T) {
	h := newHarness(t, Options{})
	h.at("2026-03-01")
	h.src.videos = chart("a", "b", "c")

	r, err := h.p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.Err())
	assert.Equal(t, []string{StepCollect, StepValidate, StepUpsert, StepViews, StepSink}, stepNames(r))
	assert.Equal(t, "2026-03-01", r.SnapshotDate)

	rows, err := h.store.ListSnapshot(context.Background(), "2026-03-01")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a, b", rows[0].Tags)
	assert.Equal(t, int64(90), rows[0].DurationSeconds)

	require.Len(t, h.sink.reports, 1)
	assert.Equal(t, r.RunID, h.sink.reports[0].RunID)
	top, ok := r.Report.Get(views.TopVideosView)
	require.True(t, ok)
	assert.Equal(t, 3, top.Table.Len())
}

func TestRerunSameDayOverwrites(t *testing.T) {
	h := newHarness(t, Options{})
	h.at("2026-03-01")
	h.src.videos = chart("a", "b")

	_, err := h.p.Run(context.Background())
	require.NoError(t, err)

	h.src.videos = chart("a", "b")
	h.src.videos[0].ViewCount = 5000
	_, err = h.p.Run(context.Background())
	require.NoError(t, err)

	n, err := h.store.CountRows(context.Background(), "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := h.store.ListSnapshot(context.Background(), "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), rows[0].ViewCount)
}

func TestCollectFailureStopsBeforeViews(t *testing.T) {
	h := newHarness(t, Options{})
	h.src.err = errors.New("quota exceeded")

	r, err := h.p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{StepCollect}, stepNames(r))
	assert.ErrorContains(t, r.Err(), "quota exceeded")
	assert.Nil(t, r.Report)
	assert.Empty(t, h.sink.reports)
}

func TestInvalidPayloadWritesNothing(t *testing.T) {
	h := newHarness(t, Options{})
	h.at("2026-03-01")
	h.src.videos = chart("a", "a")

	r, err := h.p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{StepCollect, StepValidate}, stepNames(r))
	assert.ErrorIs(t, r.Err(), ErrInvalidRow)

	n, err := h.store.CountRows(context.Background(), "2026-03-01")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFilterReranksBeforeStoring(t *testing.T) {
	h := newHarness(t, Options{Filter: source.NewFilter([]string{"title b"}, nil)})
	h.at("2026-03-01")
	h.src.videos = chart("a", "b", "c")

	_, err := h.p.Ingest(context.Background())
	require.NoError(t, err)

	rows, err := h.store.ListSnapshot(context.Background(), "2026-03-01")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[1].ItemID)
	assert.Equal(t, 2, rows[1].Rank)
}

func TestRetentionPrunesOldSnapshots(t *testing.T) {
	h := newHarness(t, Options{RetentionDays: 2})
	for _, day := range []string{"2026-03-01", "2026-03-02", "2026-03-03", "2026-03-04"} {
		h.at(day)
		h.src.videos = chart("a")
		r, err := h.p.Ingest(context.Background())
		require.NoError(t, err)
		require.NoError(t, r.Err())
	}

	dates, err := h.store.SnapshotDates(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-04", "2026-03-03", "2026-03-02"}, dates)
}

func TestRefreshUsesLatestStoredDate(t *testing.T) {
	h := newHarness(t, Options{})
	h.at("2026-03-01")
	h.src.videos = chart("a")
	_, err := h.p.Ingest(context.Background())
	require.NoError(t, err)

	h.at("2026-03-09")
	r, err := h.p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", r.SnapshotDate)
	assert.Equal(t, 1, h.src.calls)
}

func TestConcurrentRunRejected(t *testing.T) {
	h := newHarness(t, Options{})
	h.p.mu.Lock()
	defer h.p.mu.Unlock()

	_, err := h.p.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestSnapshotDateUsesLocation(t *testing.T) {
	h := newHarness(t, Options{Location: time.FixedZone("WAT", 3600)})
	h.p.now = func() time.Time { return time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC) }
	assert.Equal(t, "2026-03-02", h.p.SnapshotDate())
}
