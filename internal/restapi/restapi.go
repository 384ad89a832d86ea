// Package restapi fetches month buckets from the scheduling backend.
package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"calview/internal/httpcache"
	appLog "calview/internal/log"
	"calview/internal/model"
)

// ErrOffline is returned without a request while the watcher reports no
// connectivity.
var ErrOffline = errors.New("restapi: network unavailable")

// ErrNoBaseURL is returned when the client has nowhere to send requests.
var ErrNoBaseURL = errors.New("restapi: base URL is empty")

// Connectivity reports whether the network is believed reachable.
type Connectivity interface {
	Online() bool
}

// Client talks to GET {base}/event/.
type Client struct {
	base  string
	token string
	http  *httpcache.Client
	net   Connectivity
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	CacheDir string
	Net      Connectivity

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// New builds a Client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:  strings.TrimRight(opts.BaseURL, "/"),
		token: opts.Token,
		http:  httpcache.New(hc, opts.CacheDir),
		net:   opts.Net,
	}
}

type eventsResponse struct {
	Events []model.DayBucket `json:"events"`
}

// FetchEvents returns the buckets of month for businessID, ascending by
// title. It satisfies coordinator.Fetcher.
func (c *Client) FetchEvents(ctx context.Context, businessID, month string) ([]model.DayBucket, error) {
	if c.base == "" {
		return nil, ErrNoBaseURL
	}
	if c.net != nil && !c.net.Online() {
		appLog.Warn("restapi: offline, request not sent", "month", month)
		return nil, ErrOffline
	}

	q := url.Values{}
	q.Set("businessId", businessID)
	q.Set("month", month)
	q.Set("mobile", "true")
	endpoint := c.base + "/event/?" + q.Encode()

	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("restapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("platform-type", "mobile")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	res, err := c.http.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("restapi: fetch %s: %w", month, err)
	}

	var body eventsResponse
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return nil, fmt.Errorf("restapi: decode %s: %w", month, err)
	}

	buckets := body.Events
	for i := range buckets {
		for j := range buckets[i].Data {
			if buckets[i].Data[j].Date == "" {
				buckets[i].Data[j].Date = buckets[i].Title
			}
		}
	}
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].Title < buckets[j].Title })

	appLog.Info("restapi: events fetched", "month", month, "days", len(buckets), "from_cache", res.FromCache)
	return buckets, nil
}
