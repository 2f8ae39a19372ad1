package sqlite

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vibelog/vibelog/pkg/models"
)

// Cache is a content-addressed response cache backed by SQLite. Keys are
// derived from the operation kind and the raw input bytes, so identical
// input always maps to the same entry regardless of caller identity.
type Cache struct {
	db     *sql.DB
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	content_key TEXT NOT NULL,
	operation TEXT NOT NULL,
	result BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (content_key, operation)
);
`

// Stats reports cache performance metrics.
type Stats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// New creates a Cache with the given database path.
func New(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db}, nil
}

// Key computes the content address for an operation and its canonical
// input bytes: SHA-256 over the kind followed by the raw input.
func Key(op models.Operation, input []byte) string {
	h := sha256.New()
	h.Write([]byte(op))
	h.Write(input)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get retrieves a cached result. Returns false if absent.
func (c *Cache) Get(key string, op models.Operation) ([]byte, bool) {
	var result []byte
	err := c.db.QueryRow(
		`SELECT result FROM cache_entries WHERE content_key = ? AND operation = ?`,
		key, string(op),
	).Scan(&result)

	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return result, true
}

// Put stores a successful result. Failed attempts must never be cached.
func (c *Cache) Put(key string, op models.Operation, result []byte) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO cache_entries (content_key, operation, result, created_at)
		 VALUES (?, ?, ?, ?)`,
		key, string(op), result, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() (Stats, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	return Stats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes all cache entries.
func (c *Cache) Clear() error {
	if _, err := c.db.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
