package ics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"calview/internal/httpcache"
	appLog "calview/internal/log"
)

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier (e.g., config ICS ID).
	ID string
	// Name labels the feed in logs.
	Name string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

// Connectivity reports whether the network is believed reachable.
type Connectivity interface {
	Online() bool
}

// Fetcher downloads feeds through the conditional-GET disk cache. While the
// connectivity watcher reports offline, feeds are served from the cache
// without touching the network.
type Fetcher struct {
	cache *httpcache.Client
	net   Connectivity
}

// NewFetcher creates a Fetcher caching under cacheDir. net may be nil.
func NewFetcher(cacheDir string, timeout time.Duration, net Connectivity) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		cache: httpcache.New(&http.Client{Timeout: timeout}, cacheDir),
		net:   net,
	}
}

// FetchAll fetches every source. Sources that fail are logged and reported
// in the error slice; the rest are returned.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	var errs []error

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, err)
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", httpcache.Redact(src.URL))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// ErrOfflineNoCache is returned for an offline fetch of a never-cached feed.
var ErrOfflineNoCache = errors.New("ics: offline and no cached copy")

// FetchOne fetches a single source.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("ics: source URL is empty")
	}

	if f.net != nil && !f.net.Online() {
		body, ok := f.cache.Cached(src.URL)
		if !ok {
			return FetchResult{}, ErrOfflineNoCache
		}
		appLog.Info("ics offline; using cached feed", "id", src.ID)
		return FetchResult{Source: src, Body: body, FromCache: true}, nil
	}

	req, err := http.NewRequest(http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar")

	res, err := f.cache.Get(ctx, req)
	if err != nil {
		return FetchResult{}, err
	}
	appLog.Info("ics fetch success", "id", src.ID, "url", httpcache.Redact(src.URL), "from_cache", res.FromCache)
	return FetchResult{Source: src, Body: res.Body, FromCache: res.FromCache}, nil
}
