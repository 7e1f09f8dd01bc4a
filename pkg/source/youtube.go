package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// DefaultYouTubeBaseURL is the YouTube Data API v3 root.
const DefaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"

// maxPageSize is the Data API's upper bound for maxResults per request.
const maxPageSize = 50

// YouTubeOptions configures the most-popular chart collector.
type YouTubeOptions struct {
	APIKey     string
	BaseURL    string
	Region     string
	MaxResults int
	Timeout    time.Duration
	// ArchiveDir, if set, receives data_list_<date>.json with the normalized payload.
	ArchiveDir string
	Location   *time.Location
}

// YouTube collects the region's most-popular video chart.
type YouTube struct {
	client *http.Client
	opts   YouTubeOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewYouTube creates a new YouTube collector.
func NewYouTube(opts YouTubeOptions, logger *zap.Logger) *YouTube {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultYouTubeBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.MaxResults <= 0 {
		opts.MaxResults = maxPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &YouTube{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

func (y *YouTube) Name() SourceType { return SourceYouTube }

// Collect pages through the chart until MaxResults videos are gathered or
// the API reports no further page.
func (y *YouTube) Collect(ctx context.Context) ([]Video, error) {
	if y.opts.APIKey == "" {
		return nil, fmt.Errorf("youtube: API key required (set YOUTUBE_API_KEY)")
	}

	fetched := y.now().UTC()
	var videos []Video
	pageToken := ""
	for len(videos) < y.opts.MaxResults {
		page, err := y.fetchPage(ctx, pageToken, min(maxPageSize, y.opts.MaxResults-len(videos)))
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if len(videos) == y.opts.MaxResults {
				break
			}
			v := item.normalize(fetched, y.opts.Region)
			v.Rank = len(videos) + 1
			videos = append(videos, v)
		}
		y.logger.Debug("youtube page fetched",
			zap.Int("items", len(page.Items)),
			zap.Int("total", len(videos)),
			zap.Bool("has_next", page.NextPageToken != ""))

		if page.NextPageToken == "" || len(page.Items) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}

	if y.opts.ArchiveDir != "" {
		if err := y.archive(videos, fetched); err != nil {
			// Archive failures never fail the collect.
			y.logger.Warn("archive youtube payload", zap.Error(err))
		}
	}
	return videos, nil
}

func (y *YouTube) fetchPage(ctx context.Context, pageToken string, size int) (*ytVideoList, error) {
	params := url.Values{}
	params.Set("part", "snippet,statistics,contentDetails")
	params.Set("chart", "mostPopular")
	params.Set("regionCode", y.opts.Region)
	params.Set("maxResults", strconv.Itoa(size))
	params.Set("key", y.opts.APIKey)
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	reqURL := y.opts.BaseURL + "/videos?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create youtube request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch youtube chart: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read youtube chart: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr ytErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("youtube status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("youtube status %d", resp.StatusCode)
	}

	var page ytVideoList
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode youtube chart: %w", err)
	}
	return &page, nil
}

func (y *YouTube) archive(videos []Video, fetched time.Time) error {
	if err := os.MkdirAll(y.opts.ArchiveDir, 0o755); err != nil {
		return err
	}
	date := fetched.In(y.opts.Location).Format("2006-01-02")
	data, err := json.MarshalIndent(videos, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(y.opts.ArchiveDir, "data_list_"+date+".json")
	return os.WriteFile(path, data, 0o644)
}

type ytVideoList struct {
	NextPageToken string    `json:"nextPageToken"`
	Items         []ytVideo `json:"items"`
}

type ytVideo struct {
	ID      string `json:"id"`
	Snippet struct {
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		ChannelID    string   `json:"channelId"`
		ChannelTitle string   `json:"channelTitle"`
		PublishedAt  string   `json:"publishedAt"`
		CategoryID   count    `json:"categoryId"`
		Tags         []string `json:"tags"`
		Live         string   `json:"liveBroadcastContent"`
		Localized    struct {
			Description string `json:"description"`
		} `json:"localized"`
		Thumbnails map[string]struct {
			URL string `json:"url"`
		} `json:"thumbnails"`
	} `json:"snippet"`
	ContentDetails struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
	Statistics struct {
		ViewCount    count `json:"viewCount"`
		LikeCount    count `json:"likeCount"`
		CommentCount count `json:"commentCount"`
	} `json:"statistics"`
}

func (v ytVideo) normalize(fetched time.Time, region string) Video {
	s := v.Snippet
	desc := s.Localized.Description
	if desc == "" {
		desc = s.Description
	}
	published, _ := time.Parse(time.RFC3339, s.PublishedAt)

	var thumb string
	for _, size := range []string{"high", "medium", "default"} {
		if t, ok := s.Thumbnails[size]; ok && t.URL != "" {
			thumb = t.URL
			break
		}
	}

	return Video{
		ID:           v.ID,
		Title:        s.Title,
		ChannelID:    s.ChannelID,
		ChannelTitle: s.ChannelTitle,
		Description:  truncate(desc, 5000),
		PublishedAt:  published.UTC(),
		CategoryID:   int(s.CategoryID),
		Duration:     parseISODuration(v.ContentDetails.Duration),
		Tags:         s.Tags,
		ThumbnailURL: thumb,
		IsLive:       s.Live != "" && s.Live != "none",
		ViewCount:    int64(v.Statistics.ViewCount),
		LikeCount:    int64(v.Statistics.LikeCount),
		CommentCount: int64(v.Statistics.CommentCount),
		Region:       region,
		FetchedAt:    fetched,
	}
}

// count decodes the API's string-encoded counters. Missing, null or
// garbled values become zero; hidden like counts are simply absent.
type count int64

func (c *count) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		*c = 0
		return nil
	}
	*c = count(n)
	return nil
}

type ytErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
