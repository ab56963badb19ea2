package remotedb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/jmank88/nuts"
	"github.com/pkg/errors"
)

var cacheBucket = []byte("manifests")
var patternBucket = []byte("manifest_patterns")

// Cache is a BoltDB-backed store of fetched remote indexes, keyed by a
// canonical path derived from the index URL: cached content plus the
// server's Last-Modified time, used by the freshness protocol in
// fetch.go.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if necessary) a BoltDB file under dir.
func OpenCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating remote db cache directory %s", dir)
	}
	path := filepath.Join(dir, "remotedb.bolt")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening remote db cache %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(cacheBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(patternBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing remote db cache bucket")
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying BoltDB file.
func (c *Cache) Close() error {
	return errors.Wrap(c.db.Close(), "closing remote db cache")
}

// CachedIndex is one cache entry: the raw index bytes and the
// Last-Modified value reported by the server when they were fetched.
type CachedIndex struct {
	Content      []byte    `json:"content"`
	LastModified time.Time `json:"last_modified"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// CanonicalCachePath derives a stable, filesystem-safe cache key from an
// index URL.
func CanonicalCachePath(indexURL string) string {
	sum := sha256.Sum256([]byte(indexURL))
	return hex.EncodeToString(sum[:])
}

// Get looks up a cached index by its canonical path.
func (c *Cache) Get(cachePath string) (CachedIndex, bool, error) {
	var entry CachedIndex
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		raw := b.Get([]byte(cachePath))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return CachedIndex{}, false, errors.Wrap(err, "reading remote db cache entry")
	}
	return entry, found, nil
}

// Put stores (or replaces) a cache entry.
func (c *Cache) Put(cachePath string, entry CachedIndex) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encoding remote db cache entry")
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Put([]byte(cachePath), raw)
	})
	return errors.Wrap(err, "writing remote db cache entry")
}

// Delete discards a cache entry, used by the parse-failure fallback.
func (c *Cache) Delete(cachePath string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Delete([]byte(cachePath))
	})
	return errors.Wrap(err, "deleting remote db cache entry")
}

// RegisterFallbackPattern records that cachePath answers any query path
// matching pattern, where pattern's segments may be fixed (a registry
// hash) or wildcard (":luaversion"). A registry that only ever publishes
// one compatibility manifest for several Lua versions registers one
// pattern per hash instead of a cache row per version. The pattern is
// stored with a leading '/', as nuts's path grammar requires.
func (c *Cache) RegisterFallbackPattern(pattern, cachePath string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(patternBucket).Put([]byte("/"+pattern), []byte(cachePath))
	})
	return errors.Wrap(err, "registering remote db cache fallback pattern")
}

// MatchFallback resolves queryPath (e.g. "<registry-hash>/5.1") against
// the registered fallback patterns, using nuts's path-segment matcher,
// and returns the cache entry the winning pattern points at. Used when
// Get reports no exact entry for a given Lua version: a registry-wide
// fallback may still apply.
func (c *Cache) MatchFallback(queryPath string) (CachedIndex, bool, error) {
	var cachePath []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(patternBucket)
		_, v := nuts.SeekPathMatch(b.Cursor(), []byte("/"+queryPath))
		if v != nil {
			cachePath = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return CachedIndex{}, false, errors.Wrap(err, "matching remote db cache fallback pattern")
	}
	if cachePath == nil {
		return CachedIndex{}, false, nil
	}
	return c.Get(string(cachePath))
}
