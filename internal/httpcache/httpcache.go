// Package httpcache performs conditional GETs (ETag / Last-Modified) backed
// by a per-URL disk cache, falling back to the cached body when the network
// or the origin fails.
package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "calview/internal/log"
)

// ErrNoCachedBody is returned for a 304 answer with nothing on disk.
var ErrNoCachedBody = errors.New("httpcache: 304 Not Modified but no cached body")

// entry holds the validators of one cached URL.
type entry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Result is the body served for one request.
type Result struct {
	Body      []byte
	FromCache bool
	Status    int
}

// StatusError is a non-OK answer that could not be served from cache.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "httpcache: unexpected status " + e.Status
}

// Client wraps an http.Client with the disk cache. A Client with an empty
// dir performs plain GETs.
type Client struct {
	http *http.Client
	dir  string
}

// New returns a Client storing entries under dir.
func New(hc *http.Client, dir string) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{http: hc, dir: dir}
}

// Get performs req (a GET) with conditional headers from the cache.
func (c *Client) Get(ctx context.Context, req *http.Request) (Result, error) {
	req = req.WithContext(ctx)
	key := req.URL.String()
	safe := Redact(key)

	path := c.pathFor(key)
	var (
		meta   entry
		cached []byte
	)
	if path != "" {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return Result{}, err
		}
		meta, _ = loadMeta(path)
		cached, _ = os.ReadFile(filepath.Join(path, "body"))
		if len(cached) > 0 {
			if meta.ETag != "" {
				req.Header.Set("If-None-Match", meta.ETag)
			}
			if meta.LastModified != "" {
				req.Header.Set("If-Modified-Since", meta.LastModified)
			}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("httpcache: network error, using cached body", err, "url", safe)
			return Result{Body: cached, FromCache: true}, nil
		}
		return Result{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Result{}, err
		}
		if path != "" {
			fresh := entry{
				URL:          key,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := save(path, fresh, body); err != nil {
				appLog.Error("httpcache: save failed", err, "url", safe)
			}
		}
		appLog.Debug("httpcache: fetched", "url", safe, "bytes", len(body))
		return Result{Body: body, Status: resp.StatusCode}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return Result{}, ErrNoCachedBody
		}
		appLog.Debug("httpcache: not modified", "url", safe)
		return Result{Body: cached, FromCache: true, Status: resp.StatusCode}, nil

	default:
		if len(cached) > 0 {
			appLog.Error("httpcache: non-OK status, using cached body", errors.New(resp.Status), "url", safe, "status", resp.StatusCode)
			return Result{Body: cached, FromCache: true, Status: resp.StatusCode}, nil
		}
		return Result{}, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
}

// Cached returns the stored body for rawURL without touching the network.
func (c *Client) Cached(rawURL string) ([]byte, bool) {
	path := c.pathFor(rawURL)
	if path == "" {
		return nil, false
	}
	body, err := os.ReadFile(filepath.Join(path, "body"))
	if err != nil || len(body) == 0 {
		return nil, false
	}
	return body, true
}

func (c *Client) pathFor(rawURL string) string {
	if c.dir == "" || rawURL == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8]))
}

func loadMeta(path string) (entry, error) {
	var meta entry
	data, err := os.ReadFile(filepath.Join(path, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return entry{}, fmt.Errorf("httpcache: corrupt meta: %w", err)
	}
	return meta, nil
}

// save writes the body before the meta so meta never points at a missing body.
func save(path string, meta entry, body []byte) error {
	if err := os.WriteFile(filepath.Join(path, "body"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(path, "meta.json"), data, 0o600)
}

// Redact keeps scheme and host of u so tokens in paths or queries never
// reach the log.
func Redact(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/...(redacted)"
}
