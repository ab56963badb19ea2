package remotedb

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// HTTPStatusError distinguishes a definitive 4xx/5xx HTTP response from a
// transport-level failure, keeping client errors, server errors, and
// network errors separately classifiable.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return errors.Errorf("%s: %s", e.URL, http.StatusText(e.StatusCode)).Error()
}

func (e *HTTPStatusError) IsClientError() bool { return e.StatusCode >= 400 && e.StatusCode < 500 }
func (e *HTTPStatusError) IsServerError() bool { return e.StatusCode >= 500 }

// Fetcher implements the remote package database's cache-freshness
// protocol: plain net/http requests, explicit status-code dispatch, no
// retry built in.
type Fetcher struct {
	Client *http.Client
	Cache  *Cache
}

// NewFetcher returns a Fetcher with a default HTTP client. Unlike the
// artifact downloader (internal/download), the index fetch is not
// HTTPS-only: it accepts whatever scheme the caller's base URL uses,
// which keeps file- and plain-http-served test registries usable.
func NewFetcher(cache *Cache) *Fetcher {
	return &Fetcher{
		Client: &http.Client{},
		Cache:  cache,
	}
}

// Fetch returns the index's raw bytes for a single index URL, serving
// from cache when the origin's Last-Modified is not newer than the
// cached copy.
func (f *Fetcher) Fetch(ctx context.Context, indexURL string) ([]byte, error) {
	cachePath := CanonicalCachePath(indexURL)
	cached, hasCached, err := f.Cache.Get(cachePath)
	if err != nil {
		return nil, err
	}

	lastModified, haveHeader, err := f.headLastModified(ctx, indexURL+".zip")
	if err != nil {
		if hasCached {
			return cached.Content, nil
		}
		return f.fetchUnconditional(ctx, indexURL, cachePath)
	}

	if !haveHeader {
		// HEAD didn't provide Last-Modified; serve from cache, fetch
		// unconditionally only on a cache miss.
		if hasCached {
			return cached.Content, nil
		}
		return f.fetchUnconditional(ctx, indexURL, cachePath)
	}

	if hasCached && !lastModified.After(cached.LastModified) {
		return cached.Content, nil
	}

	body, err := f.fetchZipEntry(ctx, indexURL+".zip")
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.IsClientError() {
			// 4xx on the zip URL falls back to the unzipped URL.
			body, err = f.fetchPlain(ctx, indexURL)
		}
		if err != nil {
			if hasCached {
				return cached.Content, nil
			}
			return nil, err
		}
	}

	if err := f.Cache.Put(cachePath, CachedIndex{Content: body, LastModified: lastModified, FetchedAt: time.Now()}); err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) fetchUnconditional(ctx context.Context, indexURL, cachePath string) ([]byte, error) {
	body, err := f.fetchZipEntry(ctx, indexURL+".zip")
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.IsClientError() {
			body, err = f.fetchPlain(ctx, indexURL)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := f.Cache.Put(cachePath, CachedIndex{Content: body, FetchedAt: time.Now()}); err != nil {
		return nil, err
	}
	return body, nil
}

// headLastModified issues a HEAD request and parses the Last-Modified
// response header, reporting whether one was present.
func (f *Fetcher) headLastModified(ctx context.Context, indexURL string) (time.Time, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, indexURL, nil)
	if err != nil {
		return time.Time{}, false, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return time.Time{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, false, &HTTPStatusError{URL: indexURL, StatusCode: resp.StatusCode}
	}

	header := resp.Header.Get("Last-Modified")
	if header == "" {
		return time.Time{}, false, nil
	}
	t, err := http.ParseTime(header)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// fetchPlain performs a plain GET, returning the full body.
func (f *Fetcher) fetchPlain(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// fetchZipEntry fetches zipURL and extracts the first entry whose name
// begins with "manifest-".
func (f *Fetcher) fetchZipEntry(ctx context.Context, zipURL string) ([]byte, error) {
	raw, err := f.fetchPlain(ctx, zipURL)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, errors.Wrapf(err, "opening manifest zip archive %s", zipURL)
	}

	var manifestFile *zip.File
	for _, zf := range zr.File {
		if strings.HasPrefix(zf.Name, "manifest-") {
			manifestFile = zf
			break
		}
	}
	if manifestFile == nil {
		return nil, errors.Errorf("manifest zip archive %s has no manifest-<version> entry", zipURL)
	}

	rc, err := manifestFile.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s inside %s", manifestFile.Name, zipURL)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// IndexURLForLuaVersion builds the canonical index URL for a given
// lua-version-compatibility string under a base repository URL.
func IndexURLForLuaVersion(baseURL, luaVersion string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.Wrapf(err, "parsing repository base URL %q", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/manifest-" + luaVersion
	return u.String(), nil
}

// fallbackPath is the wildcard-matchable query path for a registry's
// Lua-version manifests, paired with RegisterFallbackPattern keys of the
// form CanonicalCachePath(baseURL)+"/:luaversion".
func fallbackPath(baseURL, luaVersion string) string {
	return CanonicalCachePath(baseURL) + "/" + luaVersion
}

// Load fetches and parses the index for luaVersion. A cache hit that
// fails to parse is discarded and refetched once from origin; if that
// also fails to parse, the error propagates.
func Load(ctx context.Context, f *Fetcher, baseURL, luaVersion string) (*Index, error) {
	indexURL, err := IndexURLForLuaVersion(baseURL, luaVersion)
	if err != nil {
		return nil, err
	}

	body, err := f.Fetch(ctx, indexURL)
	if err != nil {
		if fallback, ok, fbErr := f.Cache.MatchFallback(fallbackPath(baseURL, luaVersion)); fbErr == nil && ok {
			return ParseIndex(fallback.Content)
		}
		return nil, err
	}

	idx, parseErr := ParseIndex(body)
	if parseErr == nil {
		return idx, nil
	}

	if err := f.Cache.Delete(CanonicalCachePath(indexURL)); err != nil {
		return nil, err
	}
	body, err = f.fetchUnconditional(ctx, indexURL, CanonicalCachePath(indexURL))
	if err != nil {
		return nil, errors.Wrap(parseErr, "manifest cache was invalid and refetch failed: "+err.Error())
	}

	idx, err = ParseIndex(body)
	if err != nil {
		return nil, errors.Wrap(err, "refetched manifest also failed to parse")
	}
	return idx, nil
}
