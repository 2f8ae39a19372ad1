package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vibelog/vibelog/pkg/ledger"
	"github.com/vibelog/vibelog/pkg/models"
)

// ErrOpen is returned when today's aggregate spend has reached the ceiling.
var ErrOpen = errors.New("spend circuit breaker open")

// Breaker is the global daily spend circuit breaker. It guards the start of
// new paid work; it never prevents finished work from being recorded.
type Breaker struct {
	ledger  ledger.Ledger
	ceiling float64
	now     func() time.Time
}

// New creates a Breaker with the given daily ceiling in USD. A ceiling of
// zero or less disables the breaker.
func New(l ledger.Ledger, ceilingUSD float64) *Breaker {
	return &Breaker{ledger: l, ceiling: ceilingUSD, now: time.Now}
}

// Allow returns ErrOpen once today's UTC spend meets or exceeds the ceiling.
// The check is advisory: two requests passing concurrently just under the
// ceiling may jointly overshoot it by at most one call's cost.
func (b *Breaker) Allow(ctx context.Context) error {
	tripped, _, err := b.status(ctx)
	if err != nil {
		return err
	}
	if tripped {
		return ErrOpen
	}
	return nil
}

// Tripped reports whether the breaker is currently open.
func (b *Breaker) Tripped(ctx context.Context) (bool, error) {
	tripped, _, err := b.status(ctx)
	return tripped, err
}

// Status returns today's spend and the configured ceiling.
func (b *Breaker) Status(ctx context.Context) (spentUSD, ceilingUSD float64, err error) {
	_, spent, err := b.status(ctx)
	return spent, b.ceiling, err
}

func (b *Breaker) status(ctx context.Context) (bool, float64, error) {
	if b.ceiling <= 0 {
		return false, 0, nil
	}
	spent, err := b.ledger.TotalSince(ctx, models.DayStart(b.now()))
	if err != nil {
		return false, 0, fmt.Errorf("breaker check: %w", err)
	}
	return spent >= b.ceiling, spent, nil
}
