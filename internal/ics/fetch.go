package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	appLog "nextmeet/internal/log"
)

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier (e.g., config calendar ID).
	ID string
	// Name is the display name used when the feed carries no X-WR-CALNAME.
	Name string
	// URL is the ICS endpoint: http(s)://, file:// or a plain file path.
	URL string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused the cached body
}

// StatusError is returned for non-OK HTTP responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "ics fetch: unexpected status " + e.Status
}

// Unauthorized reports whether the server refused access to the feed.
func (e *StatusError) Unauthorized() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// HTTPDoer is the subset of *http.Client used by the Fetcher.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher fetches ICS feeds with HTTP caching (ETag / Last-Modified), a
// disk-backed body cache and retries for transient network failures.
type Fetcher struct {
	client    HTTPDoer
	cacheDir  string
	retries   uint64
	retryBase time.Duration
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c HTTPDoer) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithRetry sets how many times a transient failure is retried and the
// initial backoff between attempts.
func WithRetry(retries uint64, base time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.retries = retries
		if base > 0 {
			f.retryBase = base
		}
	}
}

// NewFetcher creates a new ICS Fetcher.
//
// cacheDir is the base directory where per-URL cache subdirectories and
// metadata will be stored. Example: "~/.cache/nextmeet/ics".
func NewFetcher(cacheDir string, opts ...FetcherOption) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	f := &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir:  cacheDir,
		retries:   2,
		retryBase: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchOne fetches a single ICS source. HTTP sources honor ETag and
// Last-Modified and fall back to the disk cache when the network fails;
// file sources are read directly.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}
	if path, ok := localPath(src.URL); ok {
		body, err := os.ReadFile(path)
		if err != nil {
			return FetchResult{}, err
		}
		return FetchResult{Source: src, Body: body}, nil
	}

	cachePath, err := f.cachePathForURL(src.URL)
	if err != nil {
		return FetchResult{}, err
	}

	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)
	if len(cachedBody) == 0 {
		// Validators without a body would turn every 304 into a failure.
		meta = cacheEntry{}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", appLog.RedactURL(src.URL))

	resp, err := f.do(ctx, src.URL, meta)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Unauthorized() {
			return FetchResult{}, err
		}
		if len(cachedBody) > 0 && ctx.Err() == nil {
			appLog.Error("ics fetch failed, using cached body", err, "id", src.ID, "url", appLog.RedactURL(src.URL))
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID, "url", appLog.RedactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, err
	}

	newMeta := cacheEntry{
		URL:          src.URL,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if err := f.saveCache(cachePath, newMeta, body); err != nil {
		// Log but still return the freshly fetched body.
		appLog.Error("ics cache save failed", err, "id", src.ID, "url", appLog.RedactURL(src.URL))
	}

	appLog.Debug("ics fetch success", "id", src.ID, "url", appLog.RedactURL(src.URL), "bytes", len(body))
	return FetchResult{Source: src, Body: body}, nil
}

// do performs the conditional GET, retrying network errors and 5xx
// responses. The returned response is either 200 or 304.
func (f *Fetcher) do(ctx context.Context, rawURL string, meta cacheEntry) (*http.Response, error) {
	var resp *http.Response
	backoff := retry.WithMaxRetries(f.retries, retry.NewExponential(f.retryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}

		r, err := f.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		switch {
		case r.StatusCode == http.StatusOK || r.StatusCode == http.StatusNotModified:
			resp = r
			return nil
		case r.StatusCode >= 500:
			r.Body.Close()
			return retry.RetryableError(&StatusError{Code: r.StatusCode, Status: r.Status})
		default:
			r.Body.Close()
			return &StatusError{Code: r.StatusCode, Status: r.Status}
		}
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// localPath reports whether u names a local file and returns its path.
func localPath(u string) (string, bool) {
	if strings.HasPrefix(u, "file://") {
		parsed, err := url.Parse(u)
		if err != nil {
			return "", false
		}
		return parsed.Path, true
	}
	if strings.Contains(u, "://") {
		return "", false
	}
	return u, true
}

func (f *Fetcher) cachePathForURL(u string) (string, error) {
	if u == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(u))
	// Use first 16 hex chars as directory name.
	dir := hex.EncodeToString(sum[:8])
	return filepath.Join(f.cacheDir, dir), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache meta: %w", err)
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
