package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vibelog/vibelog/pkg/models"
)

// Ledger records and queries generation spend.
type Ledger interface {
	// Record appends a cost event. Events are immutable once written.
	Record(ctx context.Context, ev models.CostEvent) error
	// TotalSince returns the summed cost of all events at or after since.
	TotalSince(ctx context.Context, since time.Time) (float64, error)
	// TotalByIdentity returns the summed cost for one identity since a given time.
	TotalByIdentity(ctx context.Context, identity string, since time.Time) (float64, error)
	// EventsSince returns events at or after since, newest first.
	EventsSince(ctx context.Context, since time.Time, limit int) ([]models.CostEvent, error)
	// Summary returns aggregated spend grouped by operation and provider.
	Summary(ctx context.Context) ([]models.SpendSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteLedger implements Ledger with a SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS cost_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	identity TEXT NOT NULL,
	operation TEXT NOT NULL,
	provider TEXT NOT NULL,
	cost_usd REAL NOT NULL,
	cache_hit INTEGER NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cost_time ON cost_events(created_at);
CREATE INDEX IF NOT EXISTS idx_cost_identity_time ON cost_events(identity, created_at);
`

// New creates a SQLiteLedger and runs auto-migration.
func New(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

// Record appends a cost event.
func (l *SQLiteLedger) Record(ctx context.Context, ev models.CostEvent) error {
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO cost_events (identity, operation, provider, cost_usd, cache_hit, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Identity, string(ev.Operation), ev.Provider, ev.CostUSD, boolToInt(ev.CacheHit), ev.Metadata, created,
	)
	if err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	return nil
}

// TotalSince returns the summed cost of all events at or after since.
func (l *SQLiteLedger) TotalSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_events WHERE created_at >= ?`,
		since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total spend: %w", err)
	}
	return total, nil
}

// TotalByIdentity returns the summed cost for one identity since a given time.
func (l *SQLiteLedger) TotalByIdentity(ctx context.Context, identity string, since time.Time) (float64, error) {
	var total float64
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_events WHERE identity = ? AND created_at >= ?`,
		identity, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total spend by identity: %w", err)
	}
	return total, nil
}

// EventsSince returns events at or after since, newest first.
func (l *SQLiteLedger) EventsSince(ctx context.Context, since time.Time, limit int) ([]models.CostEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, identity, operation, provider, cost_usd, cache_hit, metadata, created_at
		 FROM cost_events WHERE created_at >= ? ORDER BY created_at DESC LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query cost events: %w", err)
	}
	defer rows.Close()

	var events []models.CostEvent
	for rows.Next() {
		var ev models.CostEvent
		var op string
		var hit int
		if err := rows.Scan(&ev.ID, &ev.Identity, &op, &ev.Provider, &ev.CostUSD, &hit, &ev.Metadata, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cost event: %w", err)
		}
		ev.Operation = models.Operation(op)
		ev.CacheHit = hit != 0
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Summary returns aggregated spend grouped by operation and provider.
func (l *SQLiteLedger) Summary(ctx context.Context) ([]models.SpendSummary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT operation, provider, COUNT(*), COALESCE(SUM(cost_usd), 0)
		 FROM cost_events GROUP BY operation, provider ORDER BY operation, provider`,
	)
	if err != nil {
		return nil, fmt.Errorf("spend summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.SpendSummary
	for rows.Next() {
		var s models.SpendSummary
		var op string
		if err := rows.Scan(&op, &s.Provider, &s.RequestCount, &s.TotalUSD); err != nil {
			return nil, fmt.Errorf("scan spend summary: %w", err)
		}
		s.Operation = models.Operation(op)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
