package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
 <title>%[1]s</title>
 <yt:channelId>%[1]s</yt:channelId>
 %[2]s
</feed>`

const entryTemplate = `<entry>
  <id>yt:video:%[1]s</id>
  <yt:videoId>%[1]s</yt:videoId>
  <yt:channelId>%[2]s</yt:channelId>
  <title>%[1]s title</title>
  <author><name>Channel %[2]s</name></author>
  <published>2026-03-01T10:00:00+00:00</published>
  <media:group>
   <media:title>%[1]s title</media:title>
   <media:thumbnail url="https://i.ytimg.com/vi/%[1]s/hqdefault.jpg" width="480" height="360"/>
   <media:description>about %[1]s</media:description>
   <media:community>
    <media:starRating count="%[4]d" average="5.00" min="1" max="5"/>
    <media:statistics views="%[3]d"/>
   </media:community>
  </media:group>
 </entry>`

func entry(id, channel string, views, likes int) string {
	return fmt.Sprintf(entryTemplate, id, channel, views, likes)
}

func newFeedServer(t *testing.T, feeds map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channel := r.URL.Query().Get("channel_id")
		body, ok := feeds[channel]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprintf(w, feedTemplate, channel, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFeedCollectRanksAcrossChannels(t *testing.T) {
	srv := newFeedServer(t, map[string]string{
		"UCA": entry("a1", "UCA", 300, 12) + entry("a2", "UCA", 10, 1),
		"UCB": entry("b1", "UCB", 900, 40),
	})

	f := NewFeed(FeedOptions{BaseURL: srv.URL, Channels: []string{"UCA", "UCB"}, MaxResults: 2, Region: "NG"}, zaptest.NewLogger(t))
	videos, err := f.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, videos, 2)

	assert.Equal(t, "b1", videos[0].ID)
	assert.Equal(t, 1, videos[0].Rank)
	assert.Equal(t, int64(900), videos[0].ViewCount)
	assert.Equal(t, int64(40), videos[0].LikeCount)
	assert.Equal(t, "UCB", videos[0].ChannelID)
	assert.Equal(t, "Channel UCB", videos[0].ChannelTitle)

	assert.Equal(t, "a1", videos[1].ID)
	assert.Equal(t, 2, videos[1].Rank)
	assert.Equal(t, "about a1", videos[1].Description)
	assert.Equal(t, "https://i.ytimg.com/vi/a1/hqdefault.jpg", videos[1].ThumbnailURL)
	assert.Equal(t, "NG", videos[1].Region)
	assert.False(t, videos[1].PublishedAt.IsZero())
}

func TestFeedSkipsFailingChannel(t *testing.T) {
	srv := newFeedServer(t, map[string]string{
		"UCA": entry("a1", "UCA", 5, 0),
	})

	f := NewFeed(FeedOptions{BaseURL: srv.URL, Channels: []string{"UCA", "missing"}}, zaptest.NewLogger(t))
	videos, err := f.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "a1", videos[0].ID)
}

func TestFeedAllChannelsFailing(t *testing.T) {
	srv := newFeedServer(t, nil)

	f := NewFeed(FeedOptions{BaseURL: srv.URL, Channels: []string{"x", "y"}}, zaptest.NewLogger(t))
	_, err := f.Collect(context.Background())
	assert.ErrorContains(t, err, "all channel feeds failed")
}
