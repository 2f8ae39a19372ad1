// Package resource persists generation results onto the target resources
// they enrich, and captures paid results that could not be persisted so
// they can be recovered manually instead of silently lost.
package resource

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vibelog/vibelog/pkg/models"
)

// Enrichment is one generation result attached to a target resource.
type Enrichment struct {
	ResourceID string           `json:"resource_id"`
	Operation  models.Operation `json:"operation"`
	Provider   string           `json:"provider"`
	Degraded   bool             `json:"degraded"`
	Body       json.RawMessage  `json:"body"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Repo stores enrichments in SQLite, one row per (resource, operation).
type Repo struct {
	db *sql.DB
}

const createEnrichments = `
CREATE TABLE IF NOT EXISTS enrichments (
	resource_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	degraded INTEGER NOT NULL DEFAULT 0,
	body BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (resource_id, operation)
);
CREATE INDEX IF NOT EXISTS idx_enrichments_resource ON enrichments(resource_id);
`

// NewRepo opens the enrichment database and creates the schema.
func NewRepo(dbPath string) (*Repo, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open resource db: %w", err)
	}
	if _, err := db.Exec(createEnrichments); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate resource db: %w", err)
	}
	return &Repo{db: db}, nil
}

// Save upserts an enrichment; a regeneration replaces the previous result.
func (r *Repo) Save(ctx context.Context, e Enrichment) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO enrichments (resource_id, operation, provider, degraded, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(resource_id, operation) DO UPDATE SET
		   provider = excluded.provider,
		   degraded = excluded.degraded,
		   body = excluded.body,
		   updated_at = excluded.updated_at`,
		e.ResourceID, string(e.Operation), e.Provider, boolToInt(e.Degraded), []byte(e.Body), now, now,
	)
	if err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}
	return nil
}

// Get returns one enrichment, or sql.ErrNoRows if absent.
func (r *Repo) Get(ctx context.Context, resourceID string, op models.Operation) (*Enrichment, error) {
	var e Enrichment
	var opStr string
	var degraded int
	var body []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT resource_id, operation, provider, degraded, body, created_at, updated_at
		 FROM enrichments WHERE resource_id = ? AND operation = ?`,
		resourceID, string(op),
	).Scan(&e.ResourceID, &opStr, &e.Provider, &degraded, &body, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Operation = models.Operation(opStr)
	e.Degraded = degraded != 0
	e.Body = body
	return &e, nil
}

// List returns every enrichment attached to a resource.
func (r *Repo) List(ctx context.Context, resourceID string) ([]Enrichment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT resource_id, operation, provider, degraded, body, created_at, updated_at
		 FROM enrichments WHERE resource_id = ? ORDER BY operation`,
		resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list enrichments: %w", err)
	}
	defer rows.Close()

	var out []Enrichment
	for rows.Next() {
		var e Enrichment
		var opStr string
		var degraded int
		var body []byte
		if err := rows.Scan(&e.ResourceID, &opStr, &e.Provider, &degraded, &body, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan enrichment: %w", err)
		}
		e.Operation = models.Operation(opStr)
		e.Degraded = degraded != 0
		e.Body = body
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (r *Repo) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
