package ratelimit

import (
	"sync"
	"time"

	"github.com/vibelog/vibelog/pkg/config"
	"github.com/vibelog/vibelog/pkg/models"
)

// Identity is a rate-limiting subject: a verified user id or an anonymous
// network address. It is always derived server-side.
type Identity struct {
	UserID string
	Addr   string
}

// Authenticated reports whether the identity carries a verified user id.
func (id Identity) Authenticated() bool { return id.UserID != "" }

// Key returns the ledger/limiter key for the identity.
func (id Identity) Key() string {
	if id.UserID != "" {
		return id.UserID
	}
	return "anon:" + id.Addr
}

// Decision is the outcome of a limiter check. A denial is a first-class
// outcome, not an error.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Window    time.Duration
	ResetAt   time.Time
}

// window is one active fixed window for an (identity, operation) pair.
type window struct {
	start time.Time
	count int
}

// Limiter bounds request frequency per identity per operation using fixed
// windows. State is in-memory and per-process.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limits  map[models.Operation]config.OperationLimits
	now     func() time.Time
}

// New creates a Limiter from the configured per-operation limits.
func New(limits map[models.Operation]config.OperationLimits) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		limits:  limits,
		now:     time.Now,
	}
}

// Check consumes one slot for the identity and operation, or denies the
// request when the active window is exhausted. Both permitted and denied
// attempts touch the window.
func (l *Limiter) Check(id Identity, op models.Operation) Decision {
	lim := l.limitFor(id, op)
	if lim.Max <= 0 {
		return Decision{Allowed: true, Limit: 0, Remaining: -1, Window: lim.Window}
	}

	key := id.Key() + "|" + string(op)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil || now.Sub(w.start) >= lim.Window {
		w = &window{start: now}
		l.windows[key] = w
	}

	resetAt := w.start.Add(lim.Window)
	if w.count >= lim.Max {
		return Decision{Allowed: false, Limit: lim.Max, Remaining: 0, Window: lim.Window, ResetAt: resetAt}
	}

	w.count++
	return Decision{
		Allowed:   true,
		Limit:     lim.Max,
		Remaining: lim.Max - w.count,
		Window:    lim.Window,
		ResetAt:   resetAt,
	}
}

func (l *Limiter) limitFor(id Identity, op models.Operation) config.Limit {
	ol, ok := l.limits[op]
	if !ok {
		ol = config.OperationLimits{
			Anonymous:     config.Limit{Max: 10, Window: 24 * time.Hour},
			Authenticated: config.Limit{Max: 100, Window: 24 * time.Hour},
		}
	}
	if id.Authenticated() {
		return ol.Authenticated
	}
	return ol.Anonymous
}
