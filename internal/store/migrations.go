package store

// FactTable is the snapshot fact table read by the derived views.
const FactTable = "youtube_data"

// FactColumns are the columns the derived views depend on.
var FactColumns = []string{
	"item_id", "title", "channel_id", "channel_name",
	"view_count", "like_count", "comment_count", "rank",
	"fetched_at", "snapshot_date",
}

// Statements are executed one at a time; duckdb and sqlite both accept this DDL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS youtube_data (
    item_id          TEXT    NOT NULL,
    title            TEXT    NOT NULL,
    channel_id       TEXT    NOT NULL DEFAULT '',
    channel_name     TEXT    NOT NULL DEFAULT '',
    view_count       BIGINT  NOT NULL DEFAULT 0,
    like_count       BIGINT  NOT NULL DEFAULT 0,
    comment_count    BIGINT  NOT NULL DEFAULT 0,
    rank             INTEGER NOT NULL,
    fetched_at       TEXT    NOT NULL,
    snapshot_date    TEXT    NOT NULL,
    published_at     TEXT    NOT NULL DEFAULT '',
    category_id      INTEGER NOT NULL DEFAULT 0,
    duration_seconds BIGINT  NOT NULL DEFAULT 0,
    description      TEXT    NOT NULL DEFAULT '',
    tags             TEXT    NOT NULL DEFAULT '',
    thumbnail_url    TEXT    NOT NULL DEFAULT '',
    is_live          BOOLEAN NOT NULL DEFAULT FALSE,
    region           TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (item_id, snapshot_date)
)`,
}

// sqliteIndexes are skipped on duckdb, which prunes by zone maps and restricts
// ON CONFLICT updates of indexed columns.
var sqliteIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_youtube_data_date ON youtube_data(snapshot_date)`,
	`CREATE INDEX IF NOT EXISTS idx_youtube_data_channel ON youtube_data(channel_id, snapshot_date)`,
}

func migrations(driver string) []string {
	if driver == "sqlite" {
		return append(append([]string{}, schema...), sqliteIndexes...)
	}
	return schema
}
