package store

import (
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jmoiron/sqlx"
)

func init() {
	// sqlx has no bindvar entry for duckdb; it accepts '?' placeholders.
	sqlx.BindDriver("duckdb", sqlx.QUESTION)
}
