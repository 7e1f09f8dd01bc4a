package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DateFormat is the layout of snapshot_date values.
const DateFormat = "2006-01-02"

// ErrEmptyKey is returned when a row is missing part of its primary key.
var ErrEmptyKey = errors.New("fact row missing item_id or snapshot_date")

// FactRow is one video's state in one daily snapshot.
type FactRow struct {
	ItemID          string    `db:"item_id" json:"item_id"`
	Title           string    `db:"title" json:"title"`
	ChannelID       string    `db:"channel_id" json:"channel_id"`
	ChannelName     string    `db:"channel_name" json:"channel_name"`
	ViewCount       int64     `db:"view_count" json:"view_count"`
	LikeCount       int64     `db:"like_count" json:"like_count"`
	CommentCount    int64     `db:"comment_count" json:"comment_count"`
	Rank            int       `db:"rank" json:"rank"`
	FetchedAt       time.Time `db:"-" json:"fetched_at"`
	SnapshotDate    string    `db:"snapshot_date" json:"snapshot_date"`
	PublishedAt     string    `db:"published_at" json:"published_at,omitempty"`
	CategoryID      int       `db:"category_id" json:"category_id,omitempty"`
	DurationSeconds int64     `db:"duration_seconds" json:"duration_seconds,omitempty"`
	Description     string    `db:"description" json:"description,omitempty"`
	Tags            string    `db:"tags" json:"tags,omitempty"`
	ThumbnailURL    string    `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	IsLive          bool      `db:"is_live" json:"is_live"`
	Region          string    `db:"region" json:"region,omitempty"`
	FetchedAtRaw    string    `db:"fetched_at" json:"-"`
}

// DateSummary describes one stored snapshot.
type DateSummary struct {
	SnapshotDate string `db:"snapshot_date" json:"snapshot_date"`
	Rows         int    `db:"row_count" json:"rows"`
	TotalViews   int64  `db:"total_views" json:"total_views"`
}

// Store is the persistence interface for the fact table.
type Store interface {
	UpsertSnapshot(ctx context.Context, rows []FactRow) (int, error)
	LatestDate(ctx context.Context) (string, bool, error)
	SnapshotDates(ctx context.Context, limit int) ([]string, error)
	CountRows(ctx context.Context, date string) (int, error)
	ListSnapshot(ctx context.Context, date string) ([]FactRow, error)
	DateSummaries(ctx context.Context) ([]DateSummary, error)
	Prune(ctx context.Context, before string) (int64, error)

	Ping(ctx context.Context) error
	DB() *sqlx.DB
	Close() error
}

// SQLStore implements Store over sqlite or duckdb.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// New opens the fact store and creates the schema if needed.
func New(driver, dsn string) (*SQLStore, error) {
	if driver == "" {
		driver = "sqlite"
	}

	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		path := dsn
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	if driver == "sqlite" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s %s: %w", driver, dsn, err)
	}

	for _, stmt := range migrations(driver) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &SQLStore{db: db, driver: driver}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the read side for the derived-view engine.
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const upsertFact = `
INSERT INTO youtube_data (
    item_id, title, channel_id, channel_name, view_count, like_count, comment_count, rank,
    fetched_at, snapshot_date, published_at, category_id, duration_seconds, description,
    tags, thumbnail_url, is_live, region
) VALUES (
    :item_id, :title, :channel_id, :channel_name, :view_count, :like_count, :comment_count, :rank,
    :fetched_at, :snapshot_date, :published_at, :category_id, :duration_seconds, :description,
    :tags, :thumbnail_url, :is_live, :region
)
ON CONFLICT (item_id, snapshot_date) DO UPDATE SET
    title = excluded.title,
    channel_id = excluded.channel_id,
    channel_name = excluded.channel_name,
    view_count = excluded.view_count,
    like_count = excluded.like_count,
    comment_count = excluded.comment_count,
    rank = excluded.rank,
    fetched_at = excluded.fetched_at,
    published_at = excluded.published_at,
    category_id = excluded.category_id,
    duration_seconds = excluded.duration_seconds,
    description = excluded.description,
    tags = excluded.tags,
    thumbnail_url = excluded.thumbnail_url,
    is_live = excluded.is_live,
    region = excluded.region`

// UpsertSnapshot writes rows in a single transaction, replacing any row with the
// same (item_id, snapshot_date). Either every row lands or none does.
func (s *SQLStore) UpsertSnapshot(ctx context.Context, rows []FactRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for i := range rows {
		if rows[i].ItemID == "" || rows[i].SnapshotDate == "" {
			return 0, fmt.Errorf("row %d: %w", i, ErrEmptyKey)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, upsertFact)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		row := rows[i]
		if !row.FetchedAt.IsZero() {
			row.FetchedAtRaw = row.FetchedAt.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return 0, fmt.Errorf("upsert %s@%s: %w", row.ItemID, row.SnapshotDate, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(rows), nil
}

// LatestDate returns MAX(snapshot_date). ok is false when the table is empty.
func (s *SQLStore) LatestDate(ctx context.Context) (string, bool, error) {
	dates, err := s.SnapshotDates(ctx, 1)
	if err != nil {
		return "", false, err
	}
	if len(dates) == 0 {
		return "", false, nil
	}
	return dates[0], true, nil
}

// SnapshotDates returns up to limit distinct snapshot dates, newest first.
// A non-positive limit returns all of them.
func (s *SQLStore) SnapshotDates(ctx context.Context, limit int) ([]string, error) {
	query := "SELECT DISTINCT snapshot_date FROM youtube_data ORDER BY snapshot_date DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var dates []string
	if err := s.db.SelectContext(ctx, &dates, query, args...); err != nil {
		return nil, fmt.Errorf("list snapshot dates: %w", err)
	}
	return dates, nil
}

func (s *SQLStore) CountRows(ctx context.Context, date string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM youtube_data WHERE snapshot_date = ?", date)
	if err != nil {
		return 0, fmt.Errorf("count rows %s: %w", date, err)
	}
	return n, nil
}

// ListSnapshot returns every row of one snapshot ordered by rank.
func (s *SQLStore) ListSnapshot(ctx context.Context, date string) ([]FactRow, error) {
	var rows []FactRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM youtube_data WHERE snapshot_date = ? ORDER BY rank, item_id", date)
	if err != nil {
		return nil, fmt.Errorf("list snapshot %s: %w", date, err)
	}
	for i := range rows {
		rows[i].FetchedAt, _ = time.Parse(time.RFC3339, rows[i].FetchedAtRaw)
	}
	return rows, nil
}

func (s *SQLStore) DateSummaries(ctx context.Context) ([]DateSummary, error) {
	var out []DateSummary
	err := s.db.SelectContext(ctx, &out, `
		SELECT snapshot_date, COUNT(*) AS row_count, CAST(SUM(view_count) AS BIGINT) AS total_views
		FROM youtube_data
		GROUP BY snapshot_date
		ORDER BY snapshot_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("summarize snapshots: %w", err)
	}
	return out, nil
}

// Prune deletes snapshots older than before. The two most recent distinct dates
// are always kept so the day-over-day views stay computable.
func (s *SQLStore) Prune(ctx context.Context, before string) (int64, error) {
	dates, err := s.SnapshotDates(ctx, 2)
	if err != nil {
		return 0, err
	}
	if len(dates) < 2 {
		return 0, nil
	}
	cutoff := before
	if dates[1] < cutoff {
		cutoff = dates[1]
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM youtube_data WHERE snapshot_date < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune before %s: %w", cutoff, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
