package download

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, entryName, content string) []byte {
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

func TestFetchInlineReturnsManifestVerbatim(t *testing.T) {
	c := NewClient()
	art, err := c.Fetch(context.Background(), Request{
		Tag:            SourceInline,
		InlineManifest: "package = \"neorg\"",
	})
	require.NoError(t, err)
	assert.Equal(t, "package = \"neorg\"", art.ManifestText)
	assert.Nil(t, art.ArchiveBytes)
}

func TestFetchRejectsNonHTTPSURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("should never be served"))
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Fetch(context.Background(), Request{Tag: SourceRockspecOnly, URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-https")
}

func TestFetchRockspecOnlyGetsPlainBody(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("package = \"neorg\""))
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client()}
	art, err := c.Fetch(context.Background(), Request{Tag: SourceRockspecOnly, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "package = \"neorg\"", art.ManifestText)
}

func TestFetchArchiveExtractsEmbeddedManifest(t *testing.T) {
	archive := buildZip(t, "neorg-8.8.1-1.rockspec", "package = \"neorg\"")
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client()}
	art, err := c.Fetch(context.Background(), Request{
		Tag:     SourceSourceArchive,
		Name:    "neorg",
		Version: "8.8.1-1",
		URL:     srv.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "package = \"neorg\"", art.ManifestText)
	assert.Equal(t, archive, art.ArchiveBytes)
}

func TestFetchArchiveMissingManifestEntryIsFatal(t *testing.T) {
	archive := buildZip(t, "some-other-file.txt", "not a manifest")
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client()}
	_, err := c.Fetch(context.Background(), Request{
		Tag:     SourceBinaryArchive,
		Name:    "neorg",
		Version: "8.8.1-1",
		URL:     srv.URL,
	})
	require.Error(t, err)
}

func TestFetchSurfaces4xxAsStatusError(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client()}
	_, err := c.Fetch(context.Background(), Request{Tag: SourceRockspecOnly, URL: srv.URL})
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.IsClientError())
	assert.False(t, statusErr.IsServerError())
}

func TestFetchSurfaces5xxAsStatusError(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client()}
	_, err := c.Fetch(context.Background(), Request{Tag: SourceRockspecOnly, URL: srv.URL})
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.IsServerError())
}

func TestExtractEmbeddedManifestRequiresExactEntryName(t *testing.T) {
	archive := buildZip(t, "neorg-8.8.1-1.rockspec", "package = \"neorg\"")
	manifest, err := ExtractEmbeddedManifest(archive, "neorg", "8.8.1-1")
	require.NoError(t, err)
	assert.Equal(t, "package = \"neorg\"", manifest)

	_, err = ExtractEmbeddedManifest(archive, "neorg", "9.0.0-1")
	require.Error(t, err)
}

func buildMultiFileZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractArchiveStripsCommonTopLevelDirectory(t *testing.T) {
	archive := buildMultiFileZip(t, map[string]string{
		"neorg-8.8.1/src/neorg.lua":        "return {}",
		"neorg-8.8.1/neorg-8.8.1.rockspec": "package = \"neorg\"",
	})
	dst := t.TempDir()
	require.NoError(t, ExtractArchive(archive, dst))

	content, err := os.ReadFile(filepath.Join(dst, "src", "neorg.lua"))
	require.NoError(t, err)
	assert.Equal(t, "return {}", string(content))
}

func TestExtractArchiveKeepsLayoutWithoutCommonDirectory(t *testing.T) {
	archive := buildMultiFileZip(t, map[string]string{
		"src/neorg.lua": "return {}",
		"other.txt":     "x",
	})
	dst := t.TempDir()
	require.NoError(t, ExtractArchive(archive, dst))

	content, err := os.ReadFile(filepath.Join(dst, "src", "neorg.lua"))
	require.NoError(t, err)
	assert.Equal(t, "return {}", string(content))
	_, err = os.Stat(filepath.Join(dst, "other.txt"))
	require.NoError(t, err)
}
