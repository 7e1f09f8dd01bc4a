package alert

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elonfeng/tubepulse/pkg/views"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *views.Report {
	return &views.Report{
		RunID:      "run-7",
		LatestDate: "2026-03-04",
		Results: []views.Result{
			{View: views.NewEntriesView, Table: views.NewEntrants{
				{ItemID: "n1", Title: "Fresh", SnapshotDate: "2026-03-04"},
			}},
			{View: views.GrowthView, Table: views.Growth{
				{ItemID: "g1", Title: "Rising", Delta: 500},
				{ItemID: "g2", Title: "Flat", Delta: 0},
				{ItemID: "g3", Title: "Falling", Delta: -20},
			}},
			{View: views.ChannelsView, Err: &views.Error{View: views.ChannelsView, Kind: views.KindSchema, Err: errors.New("no column")}},
		},
	}
}

func TestDigest(t *testing.T) {
	n := Digest(sampleReport())

	assert.Equal(t, "run-7", n.RunID)
	assert.Equal(t, "2026-03-04", n.SnapshotDate)
	assert.Equal(t, []Entry{{VideoID: "n1", Title: "Fresh", URL: "https://www.youtube.com/watch?v=n1"}}, n.NewEntries)
	require.Len(t, n.Risers, 1, "only positive growth counts as rising")
	assert.Equal(t, int64(500), n.Risers[0].Value)
	assert.Equal(t, []string{"channel_insights (schema)"}, n.FailedViews)
	assert.Equal(t, "1 new entries, 1 risers, 1 failed views", n.Body)
	assert.False(t, n.Empty())
}

func TestDigestEmpty(t *testing.T) {
	n := Digest(&views.Report{LatestDate: "2026-03-04"})
	assert.True(t, n.Empty())
}

func TestWebhookSignsBody(t *testing.T) {
	var (
		gotBody     []byte
		gotSig      string
		gotDelivery string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotDelivery = r.Header.Get(DeliveryHeader)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := Digest(sampleReport())
	require.NoError(t, NewWebhook(srv.URL, "s3cret").Send(context.Background(), n))

	assert.Equal(t, Sign("s3cret", gotBody), gotSig)
	var env Envelope
	require.NoError(t, json.Unmarshal(gotBody, &env))
	assert.Equal(t, "chart.digest", env.Event)
	assert.Equal(t, gotDelivery, env.DeliveryID)
	assert.NotEmpty(t, env.DeliveryID)
	require.NotNil(t, env.Digest)
	assert.Equal(t, n.RunID, env.Digest.RunID)
	assert.Equal(t, n.Risers, env.Digest.Risers)
}

func TestWebhookErrorIncludesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		http.Error(w, "receiver down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "").Send(context.Background(), Digest(sampleReport()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "receiver down")
}

type stubNotifier struct {
	name string
	err  error
	sent int
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Send(context.Context, *Notification) error {
	s.sent++
	return s.err
}

func TestBroadcastJoinsErrors(t *testing.T) {
	ok := &stubNotifier{name: "ok"}
	bad := &stubNotifier{name: "bad", err: errors.New("down")}
	m := NewManager([]Notifier{bad, ok})

	err := m.Broadcast(context.Background(), &Notification{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, 1, ok.sent, "one failing destination must not block the others")
	assert.True(t, m.HasNotifiers())

	var none *Manager
	assert.False(t, none.HasNotifiers())
	assert.NoError(t, none.Broadcast(context.Background(), &Notification{}))
}

func TestSlackAndDiscordPost(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := Digest(sampleReport())
	require.NoError(t, NewSlack(srv.URL).Send(context.Background(), n))
	require.NoError(t, NewDiscord(srv.URL).Send(context.Background(), n))
	assert.Equal(t, 2, hits)
}
