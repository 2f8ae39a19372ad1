package models

import "time"

// CostEvent is one append-only spend record. Every completed provider
// attempt produces one, and cache hits and dedup joins are recorded at
// zero cost so the audit trail stays complete.
type CostEvent struct {
	ID        int64     `json:"id"`
	Identity  string    `json:"identity,omitempty"` // user id, or anon:<addr>; empty for system
	Operation Operation `json:"operation"`
	Provider  string    `json:"provider"`
	CostUSD   float64   `json:"cost_usd"`
	CacheHit  bool      `json:"cache_hit,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SpendSummary is an aggregated spend row grouped by operation and provider.
type SpendSummary struct {
	Operation    Operation `json:"operation"`
	Provider     string    `json:"provider"`
	RequestCount int64     `json:"request_count"`
	TotalUSD     float64   `json:"total_usd"`
}

// DayStart returns the UTC midnight that opens the day containing t.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
