package remotedb

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipBytes(t *testing.T, entryName, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(entryName)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// newTestServer serves a zip archive at "/manifest-5.1.zip" and the same
// content unzipped at "/manifest-5.1", reporting lastModified on HEAD.
func newTestServer(t *testing.T, content string, lastModified time.Time) *httptest.Server {
	t.Helper()
	zipped := zipBytes(t, "manifest-5.1", content)
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest-5.1.zip", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
			return
		}
		w.Write(zipped)
	})
	mux.HandleFunc("/manifest-5.1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(content))
	})
	return httptest.NewServer(mux)
}

func TestFetchFreshCacheMissFetchesZipAndExtracts(t *testing.T) {
	srv := newTestServer(t, `{"neorg":{"8.8.1-1":[{"arch":"src"}]}}`, time.Now().Add(-time.Hour))
	defer srv.Close()

	cache, err := OpenCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	f := NewFetcher(cache)
	body, err := f.Fetch(context.Background(), srv.URL+"/manifest-5.1")
	require.NoError(t, err)
	assert.Contains(t, string(body), "neorg")
}

func TestFetchServesFromCacheWhenServerNotNewer(t *testing.T) {
	old := time.Now().Add(-24 * time.Hour)
	srv := newTestServer(t, `{"neorg":{"8.8.1-1":[{"arch":"src"}]}}`, old)
	defer srv.Close()

	cache, err := OpenCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	cachePath := CanonicalCachePath(srv.URL + "/manifest-5.1")
	require.NoError(t, cache.Put(cachePath, CachedIndex{
		Content:      []byte(`{"cached":"content"}`),
		LastModified: old.Add(time.Hour), // cache is newer than the server's reported mtime
	}))

	f := NewFetcher(cache)
	body, err := f.Fetch(context.Background(), srv.URL+"/manifest-5.1")
	require.NoError(t, err)
	assert.Equal(t, `{"cached":"content"}`, string(body))
}

func TestFetchRefreshesWhenServerIsNewer(t *testing.T) {
	fresh := time.Now()
	srv := newTestServer(t, `{"neorg":{"9.0.0-1":[{"arch":"src"}]}}`, fresh)
	defer srv.Close()

	cache, err := OpenCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	cachePath := CanonicalCachePath(srv.URL + "/manifest-5.1")
	require.NoError(t, cache.Put(cachePath, CachedIndex{
		Content:      []byte(`{"neorg":{"8.0.0-1":[{"arch":"src"}]}}`),
		LastModified: fresh.Add(-48 * time.Hour),
	}))

	f := NewFetcher(cache)
	body, err := f.Fetch(context.Background(), srv.URL+"/manifest-5.1")
	require.NoError(t, err)
	assert.Contains(t, string(body), "9.0.0-1")
}

func TestFetchFallsBackToUnzippedOn4xx(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest-5.1.zip", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Last-Modified", time.Now().Format(http.TimeFormat))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/manifest-5.1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"neorg":{"8.8.1-1":[{"arch":"src"}]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cache, err := OpenCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	f := NewFetcher(cache)
	body, err := f.Fetch(context.Background(), srv.URL+"/manifest-5.1")
	require.NoError(t, err)
	assert.Contains(t, string(body), "neorg")
}

func TestLoadDiscardsUnparsableCacheAndRefetches(t *testing.T) {
	fresh := time.Now()
	srv := newTestServer(t, `{"neorg":{"8.8.1-1":[{"arch":"src"}]}}`, fresh.Add(-time.Hour))
	defer srv.Close()

	cache, err := OpenCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	cachePath := CanonicalCachePath(srv.URL + "/manifest-5.1")
	require.NoError(t, cache.Put(cachePath, CachedIndex{
		Content:      []byte(`not json at all`),
		LastModified: fresh, // newer than server's reported mtime, so Fetch would normally trust cache
	}))

	f := NewFetcher(cache)
	idx, err := Load(context.Background(), f, srv.URL, "5.1")
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}
