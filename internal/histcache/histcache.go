// Package histcache caches per-commit manifest observations so repeated
// history scans avoid re-reading the same blobs. Entries never go stale: a
// commit hash pins its manifest content forever.
package histcache

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"
)

// Cache stores one row per (commit, manifest path) pair: the version string
// read there, a digest of the raw bytes, and the zstd-compressed blob.
type Cache struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	commit_hash TEXT NOT NULL,
	path TEXT NOT NULL,
	version TEXT NOT NULL,
	digest TEXT NOT NULL,
	blob BLOB,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (commit_hash, path)
);
`

// Entry is one cached observation. An empty Version means the manifest was
// absent or carried no parsable version at that commit.
type Entry struct {
	CommitHash string
	Path       string
	Version    string
	Digest     string
}

// Open opens or creates the scan cache for the repository at baseDir. The
// database is stored at {baseDir}/.fvc/cache/scan.db.
func Open(baseDir string) (*Cache, error) {
	return OpenDir(filepath.Join(baseDir, ".fvc", "cache"))
}

// OpenDir opens or creates the scan cache in an explicit directory.
func OpenDir(cacheDir string) (*Cache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(cacheDir, "scan.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the cached observation for a commit, if any.
func (c *Cache) Get(commitHash, path string) (*Entry, bool, error) {
	var e Entry
	err := c.db.QueryRow(
		"SELECT commit_hash, path, version, digest FROM observations WHERE commit_hash = ? AND path = ?",
		commitHash, path,
	).Scan(&e.CommitHash, &e.Path, &e.Version, &e.Digest)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

// Put records an observation. raw is the manifest blob at that commit, nil
// when the file was absent; ver is the parsed version string, empty when the
// blob had no usable version.
func (c *Cache) Put(commitHash, path string, raw []byte, ver string) (*Entry, error) {
	e := &Entry{CommitHash: commitHash, Path: path, Version: ver}

	var blob []byte
	if raw != nil {
		sum := blake3.Sum256(raw)
		e.Digest = hex.EncodeToString(sum[:])

		var err error
		blob, err = compress(raw)
		if err != nil {
			return nil, err
		}
	}

	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO observations (commit_hash, path, version, digest, blob, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		commitHash, path, ver, e.Digest, blob, time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("storing observation: %w", err)
	}

	return e, nil
}

// Blob returns the decompressed manifest bytes cached for a commit. Absent
// manifests yield (nil, nil).
func (c *Cache) Blob(commitHash, path string) ([]byte, error) {
	var blob []byte
	err := c.db.QueryRow(
		"SELECT blob FROM observations WHERE commit_hash = ? AND path = ?",
		commitHash, path,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}
	return decompress(blob)
}

// Clear removes all entries from the cache.
func (c *Cache) Clear() error {
	_, err := c.db.Exec("DELETE FROM observations")
	return err
}

// Stats describes cache contents.
type Stats struct {
	TotalEntries int64
	WithVersion  int64
	BlobBytes    int64
}

func (c *Cache) Stats() (*Stats, error) {
	var s Stats
	err := c.db.QueryRow(
		`SELECT COUNT(*),
		        COUNT(CASE WHEN version != '' THEN 1 END),
		        COALESCE(SUM(LENGTH(blob)), 0)
		 FROM observations`,
	).Scan(&s.TotalEntries, &s.WithVersion, &s.BlobBytes)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(data); err != nil {
		encoder.Close()
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(blob []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return data, nil
}
