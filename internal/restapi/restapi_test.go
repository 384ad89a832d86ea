package restapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calview/internal/httpcache"
)

const payload = `{"events":[
 {"title":"2025-03-03","data":[{"_id":"e2","subject":"Review","startTime":"2:00 PM","endTime":"3:00 PM","meeting":true,"repeat":"weekly","meetingLink":"https://meet.example.com/r"}]},
 {"title":"2025-03-02","data":[{"date":"2025-03-02","meeting":false}]}
]}`

type netState struct{ online atomic.Bool }

func (n *netState) Online() bool { return n.online.Load() }

func TestFetchEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/event/", r.URL.Path)
		assert.Equal(t, "biz-1", r.URL.Query().Get("businessId"))
		assert.Equal(t, "2025-03", r.URL.Query().Get("month"))
		assert.Equal(t, "true", r.URL.Query().Get("mobile"))
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		assert.Equal(t, "mobile", r.Header.Get("platform-type"))
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/", Token: "secret", HTTPClient: srv.Client()})
	buckets, err := c.FetchEvents(context.Background(), "biz-1", "2025-03")
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	assert.Equal(t, "2025-03-02", buckets[0].Title, "buckets ascend by title")
	review := buckets[1].Data[0]
	assert.Equal(t, "e2", review.ID)
	assert.Equal(t, "2025-03-03", review.Date, "date filled from the bucket")
	assert.True(t, review.Online())
}

func TestFetchEventsOfflineFailsFast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Net: &netState{}, HTTPClient: srv.Client()})
	_, err := c.FetchEvents(context.Background(), "biz-1", "2025-03")
	assert.ErrorIs(t, err, ErrOffline)
	assert.Zero(t, hits.Load())
}

func TestFetchEventsServesCacheOnOutage(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	net := &netState{}
	net.online.Store(true)
	c := New(Options{BaseURL: srv.URL, Net: net, CacheDir: t.TempDir(), HTTPClient: srv.Client()})

	_, err := c.FetchEvents(context.Background(), "biz-1", "2025-03")
	require.NoError(t, err)

	down.Store(true)
	buckets, err := c.FetchEvents(context.Background(), "biz-1", "2025-03")
	require.NoError(t, err)
	assert.Len(t, buckets, 2)
}

func TestFetchEventsErrors(t *testing.T) {
	_, err := New(Options{}).FetchEvents(context.Background(), "b", "2025-03")
	assert.ErrorIs(t, err, ErrNoBaseURL)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("month") {
		case "2025-04":
			_, _ = w.Write([]byte("not json"))
		default:
			http.Error(w, "denied", http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err = c.FetchEvents(context.Background(), "b", "2025-03")
	var se *httpcache.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)

	_, err = c.FetchEvents(context.Background(), "b", "2025-04")
	assert.ErrorContains(t, err, "decode")
}
