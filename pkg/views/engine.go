package views

import (
	"context"
	"fmt"
	"strings"

	"github.com/elonfeng/tubepulse/internal/store"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DB is the read side of the fact store the engine needs.
type DB interface {
	sqlx.QueryerContext
	PingContext(ctx context.Context) error
}

// Options configures an Engine.
type Options struct {
	// Limit is the Top-N row count. Zero or negative fails the Top-N view.
	Limit int
	// Parallelism bounds how many views Run computes at once.
	Parallelism int
}

// Engine computes the derived views. It never writes to the store.
type Engine struct {
	db          DB
	limit       int
	parallelism int
	logger      *zap.Logger
}

// NewEngine creates a view engine over db.
func NewEngine(db DB, opts Options, logger *zap.Logger) *Engine {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:          db,
		limit:       opts.Limit,
		parallelism: opts.Parallelism,
		logger:      logger,
	}
}

// latestDate is inlined into every latest-only query.
const latestDate = "(SELECT MAX(snapshot_date) FROM youtube_data)"

var topVideosQuery = `
SELECT item_id, title, view_count
FROM youtube_data
WHERE snapshot_date = ` + latestDate + `
ORDER BY view_count DESC, item_id ASC
LIMIT ?`

// The lag window only needs the history of items on the latest snapshot.
var growthQuery = `
WITH lagged AS (
    SELECT item_id, title, snapshot_date, view_count,
           LAG(view_count) OVER (PARTITION BY item_id ORDER BY snapshot_date) AS previous_view_count
    FROM youtube_data
    WHERE item_id IN (SELECT item_id FROM youtube_data WHERE snapshot_date = ` + latestDate + `)
),
growth AS (
    SELECT item_id, title, snapshot_date, view_count, previous_view_count,
           view_count - previous_view_count AS delta
    FROM lagged
    WHERE snapshot_date = ` + latestDate + `
      AND previous_view_count IS NOT NULL
)
SELECT item_id, title, snapshot_date, view_count, previous_view_count, delta
FROM growth
ORDER BY delta DESC, item_id ASC`

var rankMoversQuery = `
WITH lagged AS (
    SELECT item_id, title, snapshot_date, rank,
           LAG(rank) OVER (PARTITION BY item_id ORDER BY snapshot_date) AS previous_rank
    FROM youtube_data
    WHERE item_id IN (SELECT item_id FROM youtube_data WHERE snapshot_date = ` + latestDate + `)
),
moves AS (
    SELECT item_id, title, snapshot_date, rank, previous_rank,
           previous_rank - rank AS rank_delta
    FROM lagged
    WHERE snapshot_date = ` + latestDate + `
      AND previous_rank IS NOT NULL
)
SELECT item_id, title, snapshot_date, rank, previous_rank, rank_delta
FROM moves
WHERE rank_delta <> 0
ORDER BY ABS(rank_delta) DESC, item_id ASC`

const latestTwoDatesQuery = `
SELECT DISTINCT snapshot_date
FROM youtube_data
ORDER BY snapshot_date DESC
LIMIT 2`

const newEntrantsQuery = `
SELECT item_id, title, snapshot_date
FROM youtube_data
WHERE snapshot_date = ?
  AND item_id NOT IN (SELECT item_id FROM youtube_data WHERE snapshot_date = ?)
ORDER BY rank ASC, item_id ASC`

// Filtering to the latest date happens before the SUM so totals never
// accumulate across days.
var channelsQuery = `
SELECT channel_id,
       MAX(channel_name) AS channel_name,
       CAST(SUM(view_count) AS BIGINT) AS total_view_count
FROM youtube_data
WHERE snapshot_date = ` + latestDate + `
GROUP BY channel_id
ORDER BY total_view_count DESC, channel_id ASC`

// TopVideos returns the limit most viewed videos of the latest snapshot.
func (e *Engine) TopVideos(ctx context.Context, limit int) (TopVideos, error) {
	if limit <= 0 {
		return nil, &Error{View: TopVideosView, Kind: KindConfig, Err: fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)}
	}
	rows := make(TopVideos, 0, limit)
	if err := sqlx.SelectContext(ctx, e.db, &rows, topVideosQuery, limit); err != nil {
		return nil, e.fail(ctx, TopVideosView, err)
	}
	return rows, nil
}

// Growth returns each latest-snapshot video's view gain since its previous
// present snapshot, largest first. Videos with no earlier snapshot are omitted.
func (e *Engine) Growth(ctx context.Context) (Growth, error) {
	rows := make(Growth, 0)
	if err := sqlx.SelectContext(ctx, e.db, &rows, growthQuery); err != nil {
		return nil, e.fail(ctx, GrowthView, err)
	}
	return rows, nil
}

// RankMovers returns latest-snapshot videos whose rank changed since their
// previous present snapshot, largest move first.
func (e *Engine) RankMovers(ctx context.Context) (RankMovers, error) {
	rows := make(RankMovers, 0)
	if err := sqlx.SelectContext(ctx, e.db, &rows, rankMoversQuery); err != nil {
		return nil, e.fail(ctx, RankMoversView, err)
	}
	return rows, nil
}

// NewEntrants returns videos in the latest snapshot that were absent from the
// preceding distinct snapshot date. With fewer than two dates stored the
// result is empty.
func (e *Engine) NewEntrants(ctx context.Context) (NewEntrants, error) {
	var dates []string
	if err := sqlx.SelectContext(ctx, e.db, &dates, latestTwoDatesQuery); err != nil {
		return nil, e.fail(ctx, NewEntriesView, err)
	}

	rows := make(NewEntrants, 0)
	if len(dates) < 2 {
		e.logger.Debug("new entries: fewer than two snapshots, nothing to compare",
			zap.Int("dates", len(dates)))
		return rows, nil
	}

	if err := sqlx.SelectContext(ctx, e.db, &rows, newEntrantsQuery, dates[0], dates[1]); err != nil {
		return nil, e.fail(ctx, NewEntriesView, err)
	}
	return rows, nil
}

// ChannelInsights sums views per channel over the latest snapshot only.
func (e *Engine) ChannelInsights(ctx context.Context) (ChannelTotals, error) {
	rows := make(ChannelTotals, 0)
	if err := sqlx.SelectContext(ctx, e.db, &rows, channelsQuery); err != nil {
		return nil, e.fail(ctx, ChannelsView, err)
	}
	return rows, nil
}

// Compute runs one view by name using the engine's configured limit.
func (e *Engine) Compute(ctx context.Context, name Name) (Table, error) {
	switch name {
	case TopVideosView:
		return asTable(e.TopVideos(ctx, e.limit))
	case GrowthView:
		return asTable(e.Growth(ctx))
	case RankMoversView:
		return asTable(e.RankMovers(ctx))
	case NewEntriesView:
		return asTable(e.NewEntrants(ctx))
	case ChannelsView:
		return asTable(e.ChannelInsights(ctx))
	}
	return nil, &Error{View: name, Kind: KindConfig, Err: fmt.Errorf("unknown view %q", name)}
}

// asTable keeps a failed view's nil slice from becoming a non-nil Table.
func asTable[T Table](t T, err error) (Table, error) {
	if err != nil {
		return nil, err
	}
	return t, nil
}

// LatestDate returns MAX(snapshot_date), or "" when the store is empty.
func (e *Engine) LatestDate(ctx context.Context) (string, error) {
	var dates []string
	if err := sqlx.SelectContext(ctx, e.db, &dates, latestTwoDatesQuery); err != nil {
		return "", err
	}
	if len(dates) == 0 {
		return "", nil
	}
	return dates[0], nil
}

var schemaProbe = "SELECT " + strings.Join(store.FactColumns, ", ") + " FROM " + store.FactTable + " LIMIT 0"

// fail classifies a query error. A store that cannot be pinged is a
// connectivity failure; one that answers but lacks the expected columns is a
// schema mismatch; anything else is a query failure.
func (e *Engine) fail(ctx context.Context, view Name, err error) error {
	kind := KindQuery
	if ctx.Err() == nil {
		if perr := e.db.PingContext(ctx); perr != nil {
			kind = KindConnectivity
		} else if rows, qerr := e.db.QueryxContext(ctx, schemaProbe); qerr != nil {
			kind = KindSchema
		} else {
			rows.Close()
		}
	}
	return &Error{View: view, Kind: kind, Err: err}
}
