package source

import (
	"context"
	"time"
)

// SourceType identifies how a chart was collected.
type SourceType string

const (
	SourceYouTube SourceType = "youtube"
	SourceFeed    SourceType = "feed"
)

// Video is one normalized entry of a ranked chart.
type Video struct {
	ID           string        `json:"video_id"`
	Title        string        `json:"title"`
	ChannelID    string        `json:"channel_id"`
	ChannelTitle string        `json:"channel_title"`
	Description  string        `json:"description"`
	PublishedAt  time.Time     `json:"published_at"`
	CategoryID   int           `json:"category_id"`
	Duration     time.Duration `json:"duration"`
	Tags         []string      `json:"tags"`
	ThumbnailURL string        `json:"thumbnail"`
	IsLive       bool          `json:"is_live"`
	ViewCount    int64         `json:"view_count"`
	LikeCount    int64         `json:"like_count"`
	CommentCount int64         `json:"comment_count"`
	Rank         int           `json:"rank"`
	Region       string        `json:"region"`
	FetchedAt    time.Time     `json:"fetched_time"`
}

// Source is the interface every chart collector implements.
type Source interface {
	Name() SourceType
	Collect(ctx context.Context) ([]Video, error)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
