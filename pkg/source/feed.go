package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"go.uber.org/zap"
)

// DefaultFeedBaseURL serves a channel's recent uploads as Atom.
const DefaultFeedBaseURL = "https://www.youtube.com/feeds/videos.xml"

// FeedOptions configures the channel-feed collector.
type FeedOptions struct {
	BaseURL    string
	Channels   []string
	MaxResults int
	Region     string
	Timeout    time.Duration
}

// Feed builds a chart from YouTube channel Atom feeds. It needs no API key;
// counters come from the media:community extension (comments are not published).
type Feed struct {
	client *http.Client
	parser *gofeed.Parser
	opts   FeedOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewFeed creates a new channel-feed collector.
func NewFeed(opts FeedOptions, logger *zap.Logger) *Feed {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultFeedBaseURL
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = maxPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Feed{
		client: &http.Client{Timeout: opts.Timeout},
		parser: gofeed.NewParser(),
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

func (f *Feed) Name() SourceType { return SourceFeed }

// Collect merges every channel's entries, ranks them by views and keeps the
// top MaxResults. A failing channel is skipped unless every channel fails.
func (f *Feed) Collect(ctx context.Context) ([]Video, error) {
	fetched := f.now().UTC()
	seen := make(map[string]bool)
	var (
		videos []Video
		errs   []error
	)

	for _, channel := range f.opts.Channels {
		entries, err := f.collectChannel(ctx, channel, fetched)
		if err != nil {
			f.logger.Warn("channel feed failed", zap.String("channel", channel), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		for _, v := range entries {
			if seen[v.ID] {
				continue
			}
			seen[v.ID] = true
			videos = append(videos, v)
		}
	}
	if len(errs) > 0 && len(errs) == len(f.opts.Channels) {
		return nil, fmt.Errorf("all channel feeds failed: %w", errors.Join(errs...))
	}

	sort.SliceStable(videos, func(i, j int) bool {
		if videos[i].ViewCount != videos[j].ViewCount {
			return videos[i].ViewCount > videos[j].ViewCount
		}
		return videos[i].ID < videos[j].ID
	})
	if len(videos) > f.opts.MaxResults {
		videos = videos[:f.opts.MaxResults]
	}
	for i := range videos {
		videos[i].Rank = i + 1
	}
	return videos, nil
}

func (f *Feed) collectChannel(ctx context.Context, channel string, fetched time.Time) ([]Video, error) {
	reqURL := f.opts.BaseURL + "?" + url.Values{"channel_id": {channel}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request %s: %w", channel, err)
	}
	req.Header.Set("User-Agent", "tubepulse/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s status %d", channel, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", channel, err)
	}

	var videos []Video
	for _, entry := range parsed.Items {
		id := extValue(entry.Extensions, "yt", "videoId")
		if id == "" {
			id = strings.TrimPrefix(entry.GUID, "yt:video:")
		}
		if id == "" {
			continue
		}

		channelID := extValue(entry.Extensions, "yt", "channelId")
		if channelID == "" {
			channelID = channel
		}
		channelTitle := parsed.Title
		if len(entry.Authors) > 0 && entry.Authors[0].Name != "" {
			channelTitle = entry.Authors[0].Name
		}

		var published time.Time
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		}

		v := Video{
			ID:           id,
			Title:        strings.TrimSpace(entry.Title),
			ChannelID:    channelID,
			ChannelTitle: channelTitle,
			PublishedAt:  published,
			Region:       f.opts.Region,
			FetchedAt:    fetched,
		}
		if group := firstExt(entry.Extensions, "media", "group"); group != nil {
			v.Description = truncate(childValue(group, "description"), 5000)
			if thumb := firstChild(group, "thumbnail"); thumb != nil {
				v.ThumbnailURL = thumb.Attrs["url"]
			}
			if community := firstChild(group, "community"); community != nil {
				if stats := firstChild(community, "statistics"); stats != nil {
					v.ViewCount = parseCount(stats.Attrs["views"])
				}
				if rating := firstChild(community, "starRating"); rating != nil {
					v.LikeCount = parseCount(rating.Attrs["count"])
				}
			}
		}
		videos = append(videos, v)
	}
	return videos, nil
}

func firstExt(exts ext.Extensions, prefix, name string) *ext.Extension {
	if exts == nil {
		return nil
	}
	list := exts[prefix][name]
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

func extValue(exts ext.Extensions, prefix, name string) string {
	if e := firstExt(exts, prefix, name); e != nil {
		return strings.TrimSpace(e.Value)
	}
	return ""
}

func firstChild(e *ext.Extension, name string) *ext.Extension {
	list := e.Children[name]
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

func childValue(e *ext.Extension, name string) string {
	if c := firstChild(e, name); c != nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
