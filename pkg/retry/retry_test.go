package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type classifiedErr struct {
	msg       string
	retryable bool
}

func (e *classifiedErr) Error() string   { return e.msg }
func (e *classifiedErr) Retryable() bool { return e.retryable }

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		Multiplier:  2,
	}
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &classifiedErr{msg: "upstream 503", retryable: true}
		}
		return nil
	}

	var observed []time.Duration
	obs := func(err error, attempt int, delay time.Duration) {
		if err == nil {
			t.Error("observer should never see a nil error")
		}
		if attempt != len(observed)+1 {
			t.Errorf("expected attempt %d, got %d", len(observed)+1, attempt)
		}
		observed = append(observed, delay)
	}

	if err := Do(context.Background(), fastPolicy(5), fn, obs); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	// Exactly one observation per failed attempt.
	if len(observed) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(observed))
	}
	if observed[1] < observed[0] {
		t.Errorf("delays should be non-decreasing without jitter: %v then %v", observed[0], observed[1])
	}
}

func TestNonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	terminal := &classifiedErr{msg: "invalid request", retryable: false}
	fn := func(ctx context.Context) error {
		calls++
		return terminal
	}

	observations := 0
	err := Do(context.Background(), fastPolicy(5), fn, func(error, int, time.Duration) { observations++ })
	if !errors.Is(err, terminal) {
		t.Errorf("expected the terminal error unwrapped, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
	if observations != 0 {
		t.Errorf("observer must not fire for a terminal failure, got %d", observations)
	}
}

func TestExhaustion(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context) error {
		calls++
		return &classifiedErr{msg: "still down", retryable: true}
	}

	err := Do(context.Background(), fastPolicy(3), fn, nil)
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestTotalTimeout(t *testing.T) {
	p := Policy{
		MaxAttempts:  100,
		BaseDelay:    50 * time.Millisecond,
		Multiplier:   1,
		TotalTimeout: 80 * time.Millisecond,
	}
	fn := func(ctx context.Context) error {
		return &classifiedErr{msg: "slow outage", retryable: true}
	}

	err := Do(context.Background(), p, fn, nil)
	if !errors.Is(err, ErrTotalTimeout) {
		t.Errorf("expected ErrTotalTimeout, got %v", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("timeout must be distinguishable from exhaustion")
	}
}

func TestParentDeadlineReportedAsContextError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	p := Policy{
		MaxAttempts:  100,
		BaseDelay:    50 * time.Millisecond,
		Multiplier:   1,
		TotalTimeout: 5 * time.Second,
	}
	fn := func(ctx context.Context) error {
		return &classifiedErr{msg: "upstream 503", retryable: true}
	}

	err := Do(ctx, p, fn, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the caller's deadline error, got %v", err)
	}
	if errors.Is(err, ErrTotalTimeout) {
		t.Error("a parent deadline must not be reported as the policy timeout")
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fn := func(ctx context.Context) error {
		cancel()
		return &classifiedErr{msg: "transient", retryable: true}
	}

	err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: time.Second}, fn, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDelaySchedule(t *testing.T) {
	p := Policy{BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2}

	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.n); got != tc.want {
			t.Errorf("Delay(%d): expected %v, got %v", tc.n, tc.want, got)
		}
	}
}

func TestDelayJitterBounded(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 2, Jitter: true, JitterCap: 100 * time.Millisecond}

	for i := 0; i < 50; i++ {
		d := p.Delay(0)
		if d < time.Second || d >= time.Second+100*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"classified transient", &classifiedErr{retryable: true}, true},
		{"classified terminal", &classifiedErr{retryable: false}, false},
		{"wrapped classified", errors.Join(errors.New("outer"), &classifiedErr{retryable: true}), true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
