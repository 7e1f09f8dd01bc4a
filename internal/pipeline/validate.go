package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elonfeng/tubepulse/internal/store"
	"github.com/elonfeng/tubepulse/pkg/source"
)

// ErrInvalidRow is wrapped by every validation failure.
var ErrInvalidRow = errors.New("invalid row")

// ToFactRows maps a collected chart to fact rows for one snapshot date.
func ToFactRows(videos []source.Video, snapshotDate string) []store.FactRow {
	rows := make([]store.FactRow, len(videos))
	for i, v := range videos {
		var published string
		if !v.PublishedAt.IsZero() {
			published = v.PublishedAt.UTC().Format(time.RFC3339)
		}
		rows[i] = store.FactRow{
			ItemID:          v.ID,
			Title:           v.Title,
			ChannelID:       v.ChannelID,
			ChannelName:     v.ChannelTitle,
			ViewCount:       v.ViewCount,
			LikeCount:       v.LikeCount,
			CommentCount:    v.CommentCount,
			Rank:            v.Rank,
			FetchedAt:       v.FetchedAt,
			SnapshotDate:    snapshotDate,
			PublishedAt:     published,
			CategoryID:      v.CategoryID,
			DurationSeconds: int64(v.Duration / time.Second),
			Description:     v.Description,
			Tags:            strings.Join(v.Tags, ", "),
			ThumbnailURL:    v.ThumbnailURL,
			IsLive:          v.IsLive,
			Region:          v.Region,
		}
	}
	return rows
}

// Validate checks a snapshot before it is written. Missing ids or titles and
// duplicate ids are errors; negative counters are clamped to zero and
// reported as warnings.
func Validate(rows []store.FactRow) ([]store.FactRow, []string, error) {
	var (
		errs     []error
		warnings []string
	)
	seen := make(map[string]int, len(rows))
	out := make([]store.FactRow, len(rows))

	for i, r := range rows {
		switch {
		case strings.TrimSpace(r.ItemID) == "":
			errs = append(errs, fmt.Errorf("%w: row %d: missing item_id", ErrInvalidRow, i))
			continue
		case strings.TrimSpace(r.Title) == "":
			errs = append(errs, fmt.Errorf("%w: row %d (%s): missing title", ErrInvalidRow, i, r.ItemID))
		}
		if first, dup := seen[r.ItemID]; dup {
			errs = append(errs, fmt.Errorf("%w: row %d: duplicate item_id %s (first at row %d)", ErrInvalidRow, i, r.ItemID, first))
		} else {
			seen[r.ItemID] = i
		}

		for _, c := range []struct {
			name string
			v    *int64
		}{
			{"view_count", &r.ViewCount},
			{"like_count", &r.LikeCount},
			{"comment_count", &r.CommentCount},
		} {
			if *c.v < 0 {
				warnings = append(warnings, fmt.Sprintf("%s: negative %s %d clamped to 0", r.ItemID, c.name, *c.v))
				*c.v = 0
			}
		}
		out[i] = r
	}

	if len(errs) > 0 {
		return nil, warnings, errors.Join(errs...)
	}
	return out, warnings, nil
}
