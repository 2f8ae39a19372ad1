package breaker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vibelog/vibelog/pkg/ledger"
	"github.com/vibelog/vibelog/pkg/models"
)

func setup(t *testing.T, ceiling float64) (*Breaker, ledger.Ledger, context.Context) {
	t.Helper()
	led, err := ledger.New(filepath.Join(t.TempDir(), "breaker_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { led.Close() })
	return New(led, ceiling), led, context.Background()
}

func spend(t *testing.T, led ledger.Ledger, usd float64) {
	t.Helper()
	err := led.Record(context.Background(), models.CostEvent{
		Identity: "user-1", Operation: models.OpCoverImage,
		Provider: "openai-images", CostUSD: usd, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAllowUnderCeiling(t *testing.T) {
	b, led, ctx := setup(t, 25)
	spend(t, led, 24.99)

	if err := b.Allow(ctx); err != nil {
		t.Errorf("expected allow under ceiling, got %v", err)
	}
}

func TestOpenAtCeiling(t *testing.T) {
	b, led, ctx := setup(t, 25)
	spend(t, led, 25)

	if err := b.Allow(ctx); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen at ceiling, got %v", err)
	}

	tripped, err := b.Tripped(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !tripped {
		t.Error("expected breaker to report tripped")
	}
}

func TestRecordingStillAllowedWhileOpen(t *testing.T) {
	b, led, ctx := setup(t, 25)
	spend(t, led, 30)

	if err := b.Allow(ctx); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}

	// In-flight work that completes after the trip still records its cost.
	spend(t, led, 0.5)

	current, ceiling, err := b.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ceiling != 25 {
		t.Errorf("expected ceiling 25, got %f", ceiling)
	}
	if current < 30.4 {
		t.Errorf("expected spend to keep growing past the ceiling, got %f", current)
	}
}

func TestZeroCeilingDisablesBreaker(t *testing.T) {
	b, led, ctx := setup(t, 0)
	spend(t, led, 10000)

	if err := b.Allow(ctx); err != nil {
		t.Errorf("expected disabled breaker to always allow, got %v", err)
	}
}

func TestResetsAtUTCMidnight(t *testing.T) {
	b, led, ctx := setup(t, 25)

	yesterday := models.DayStart(time.Now()).Add(-time.Hour)
	err := led.Record(ctx, models.CostEvent{
		Identity: "user-1", Operation: models.OpCoverImage,
		Provider: "openai-images", CostUSD: 100, CreatedAt: yesterday,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Allow(ctx); err != nil {
		t.Errorf("expected yesterday's spend to be ignored, got %v", err)
	}
}
