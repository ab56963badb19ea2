// Package download implements the downloader: given a package
// requirement and a resolved remote-database hit, obtain either a plain
// manifest or an archive with an embedded manifest.
package download

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// SourceTag is the remote-source variant that decides which kind of
// artifact a Fetch call produces.
type SourceTag uint8

const (
	SourceRockspecOnly SourceTag = iota
	SourceInline
	SourceBinaryArchive
	SourceSourceArchive
)

// Request describes what to fetch: a source tag, the target name/version
// (used to locate the embedded manifest entry inside an archive), and
// either a URL or inline manifest text depending on the tag.
type Request struct {
	Tag            SourceTag
	Name           string
	Version        string
	URL            string
	InlineManifest string
}

// Artifact is what Fetch returns: the manifest text, always present, plus
// the raw archive bytes when the source was an archive.
type Artifact struct {
	ManifestText string
	ArchiveBytes []byte
}

// StatusError distinguishes a definitive 4xx/5xx HTTP response from a
// transport-level failure.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, http.StatusText(e.StatusCode))
}

func (e *StatusError) IsClientError() bool { return e.StatusCode >= 400 && e.StatusCode < 500 }
func (e *StatusError) IsServerError() bool { return e.StatusCode >= 500 }

// Client fetches downloader artifacts over HTTPS only: a non-https URL
// is rejected up front, and redirects that would downgrade the scheme
// are refused.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client whose redirect policy refuses non-HTTPS
// targets.
func NewClient() *Client {
	return &Client{
		HTTP: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if req.URL.Scheme != "https" {
					return errors.Errorf("refusing to follow redirect to non-https URL %s", req.URL)
				}
				return nil
			},
		},
	}
}

// Fetch dispatches on req.Tag to produce an Artifact.
func (c *Client) Fetch(ctx context.Context, req Request) (Artifact, error) {
	switch req.Tag {
	case SourceInline:
		return Artifact{ManifestText: req.InlineManifest}, nil
	case SourceRockspecOnly:
		text, err := c.getText(ctx, req.URL)
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{ManifestText: text}, nil
	case SourceBinaryArchive, SourceSourceArchive:
		raw, err := c.getBytes(ctx, req.URL)
		if err != nil {
			return Artifact{}, err
		}
		manifest, err := ExtractEmbeddedManifest(raw, req.Name, req.Version)
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{ManifestText: manifest, ArchiveBytes: raw}, nil
	default:
		return Artifact{}, errors.Errorf("unknown download source tag %d", req.Tag)
	}
}

func (c *Client) getBytes(ctx context.Context, u string) ([]byte, error) {
	if u == "" {
		return nil, errors.New("download request has no URL")
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing download URL %q", u)
	}
	if parsed.Scheme != "https" {
		return nil, errors.Errorf("refusing to fetch non-https URL %s", u)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building request for %s", u)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", u)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) getText(ctx context.Context, u string) (string, error) {
	raw, err := c.getBytes(ctx, u)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ExtractEmbeddedManifest reads the "<name>-<version>.rockspec" entry
// from a zip archive's bytes. A missing entry is fatal.
func ExtractEmbeddedManifest(archiveBytes []byte, name, version string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(archiveBytes), int64(len(archiveBytes)))
	if err != nil {
		return "", errors.Wrap(err, "opening downloaded archive")
	}

	entryName := fmt.Sprintf("%s-%s.rockspec", name, version)
	for _, f := range zr.File {
		if f.Name == entryName {
			rc, err := f.Open()
			if err != nil {
				return "", errors.Wrapf(err, "opening embedded manifest %s", entryName)
			}
			defer rc.Close()
			raw, err := io.ReadAll(rc)
			if err != nil {
				return "", errors.Wrapf(err, "reading embedded manifest %s", entryName)
			}
			return string(raw), nil
		}
	}
	return "", errors.Errorf("archive has no embedded manifest entry %q", entryName)
}

// ExtractArchive unpacks every entry of a zip archive into dst, used by
// the install pipeline to materialize a package's source tree from an
// archive fetch. Archives conventionally wrap their contents in a single
// top-level directory; when every entry shares one, it is stripped so
// dst holds the tree's own root.
func ExtractArchive(archiveBytes []byte, dst string) error {
	zr, err := zip.NewReader(bytes.NewReader(archiveBytes), int64(len(archiveBytes)))
	if err != nil {
		return errors.Wrap(err, "opening source archive")
	}

	prefix := commonTopLevelDir(zr.File)

	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, prefix)
		if name == "" {
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, "creating %s", target)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", filepath.Dir(target))
		}
		if err := extractZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "opening archive entry %s", f.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
	if err != nil {
		return errors.Wrapf(err, "creating %s", target)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return errors.Wrapf(err, "writing %s", target)
	}
	return nil
}

// commonTopLevelDir returns "<name>/" when every entry in files shares
// that first path segment, or "" otherwise.
func commonTopLevelDir(files []*zip.File) string {
	var top string
	for i, f := range files {
		segs := strings.SplitN(f.Name, "/", 2)
		if len(segs) != 2 || segs[0] == "" {
			return ""
		}
		if i == 0 {
			top = segs[0]
		} else if segs[0] != top {
			return ""
		}
	}
	if top == "" {
		return ""
	}
	return top + "/"
}
