// Package cache stores compiled program images in SQLite, keyed by
// source hash, so repeated runs of an unchanged script skip the
// compiler.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("hebi.cache")

// ErrNotFound indicates no cached image exists for the hash.
var ErrNotFound = errors.New("image not found")

// Cache is a SQLite-backed image store.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open creates or opens a cache database, creating parent directories
// as needed.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		source_hash TEXT PRIMARY KEY,
		build_id    TEXT NOT NULL,
		image       BLOB NOT NULL,
		created_at  INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Put stores an image under its source hash, returning the build id
// assigned to this entry. An existing entry for the hash is replaced.
func (c *Cache) Put(sourceHash [32]byte, image []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buildID := uuid.NewString()
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO images (source_hash, build_id, image, created_at) VALUES (?, ?, ?, ?)",
		hexHash(sourceHash), buildID, image, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("storing image: %w", err)
	}
	log.Debugf("cached image %s (%d bytes)", buildID, len(image))
	return buildID, nil
}

// Get retrieves the cached image for a source hash.
func (c *Cache) Get(sourceHash [32]byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var image []byte
	err := c.db.QueryRow(
		"SELECT image FROM images WHERE source_hash = ?",
		hexHash(sourceHash),
	).Scan(&image)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading image: %w", err)
	}
	return image, nil
}

// Prune removes entries older than the given age. Returns the number
// of entries removed.
func (c *Cache) Prune(maxAge time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := c.db.Exec("DELETE FROM images WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Infof("pruned %d cached images", n)
	}
	return n, nil
}

func hexHash(h [32]byte) string {
	return fmt.Sprintf("%x", h)
}
