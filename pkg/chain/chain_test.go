package chain

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/vibelog/vibelog/pkg/config"
	"github.com/vibelog/vibelog/pkg/ledger"
	"github.com/vibelog/vibelog/pkg/models"
	"github.com/vibelog/vibelog/pkg/provider"
	"github.com/vibelog/vibelog/pkg/retry"
)

// stubProvider scripts one provider's behavior for chain tests.
type stubProvider struct {
	name          string
	op            models.Operation
	configured    bool
	invoke        func(ctx context.Context, req *provider.Request) (*provider.Result, error)
	billsFailures bool
	attemptCost   float64
	retryPolicy   retry.Policy
	calls         int
}

func (s *stubProvider) Name() string                { return s.name }
func (s *stubProvider) Operation() models.Operation { return s.op }
func (s *stubProvider) Configured() bool            { return s.configured }
func (s *stubProvider) BillsFailures() bool         { return s.billsFailures }
func (s *stubProvider) AttemptCostUSD() float64     { return s.attemptCost }

func (s *stubProvider) Retry() retry.Policy {
	if s.retryPolicy.MaxAttempts > 0 {
		return s.retryPolicy
	}
	return retry.Policy{MaxAttempts: 1}
}

func (s *stubProvider) Invoke(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	s.calls++
	return s.invoke(ctx, req)
}

func newLedger(t *testing.T) *ledger.SQLiteLedger {
	t.Helper()
	led, err := ledger.New(filepath.Join(t.TempDir(), "chain_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { led.Close() })
	return led
}

func succeeding(name string, cost float64) *stubProvider {
	return &stubProvider{
		name: name, op: models.OpCoverImage, configured: true,
		invoke: func(ctx context.Context, req *provider.Request) (*provider.Result, error) {
			return &provider.Result{Body: []byte(`{"imageUrl":"https://img/ok.png"}`), CostUSD: cost}, nil
		},
	}
}

func failing(name string) *stubProvider {
	return &stubProvider{
		name: name, op: models.OpCoverImage, configured: true,
		invoke: func(ctx context.Context, req *provider.Request) (*provider.Result, error) {
			return nil, &provider.Error{Provider: name, Status: 503, Reason: provider.ReasonTransient}
		},
	}
}

var testDegraded = config.DegradedConfig{
	ImageURL: "/static/cover-default.png",
	Width:    1024,
	Height:   576,
}

func TestFirstProviderSucceeds(t *testing.T) {
	led := newLedger(t)
	a := succeeding("provider-a", 0.08)
	b := succeeding("provider-b", 0.03)
	c := New(models.OpCoverImage, []provider.Provider{a, b}, led, testDegraded)

	out := c.Run(context.Background(), "user-1", &provider.Request{Operation: models.OpCoverImage})
	if out.Degraded {
		t.Fatal("expected a live result")
	}
	if out.Provider != "provider-a" {
		t.Errorf("expected provider-a, got %s", out.Provider)
	}
	if b.calls != 0 {
		t.Error("second provider should not be tried after first succeeds")
	}

	total, err := led.TotalByIdentity(context.Background(), "user-1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if total < 0.079 || total > 0.081 {
		t.Errorf("expected recorded cost near 0.08, got %f", total)
	}
}

func TestFallbackToSecondProvider(t *testing.T) {
	led := newLedger(t)
	a := failing("provider-a")
	b := succeeding("provider-b", 0.03)
	c := New(models.OpCoverImage, []provider.Provider{a, b}, led, testDegraded)

	out := c.Run(context.Background(), "user-1", &provider.Request{Operation: models.OpCoverImage})
	if out.Degraded {
		t.Fatal("expected fallback provider to serve the request")
	}
	if out.Provider != "provider-b" {
		t.Errorf("expected provider-b, got %s", out.Provider)
	}
	if a.calls != 1 {
		t.Errorf("expected provider-a to be tried once, got %d", a.calls)
	}
}

func TestAllFailDegrades(t *testing.T) {
	led := newLedger(t)
	c := New(models.OpCoverImage, []provider.Provider{failing("provider-a"), failing("provider-b")}, led, testDegraded)

	out := c.Run(context.Background(), "user-1", &provider.Request{Operation: models.OpCoverImage})
	if !out.Degraded {
		t.Fatal("expected degraded outcome when every provider fails")
	}

	var result models.CoverImageResult
	if err := json.Unmarshal(out.Result.Body, &result); err != nil {
		t.Fatal(err)
	}
	if result.ImageURL != testDegraded.ImageURL {
		t.Errorf("expected static placeholder url, got %s", result.ImageURL)
	}
	if !result.Degraded {
		t.Error("degraded result must be flagged")
	}
}

func TestBilledFailedAttemptsRecorded(t *testing.T) {
	led := newLedger(t)
	a := failing("provider-a")
	a.billsFailures = true
	a.attemptCost = 0.01
	c := New(models.OpCoverImage, []provider.Provider{a}, led, testDegraded)

	_ = c.Run(context.Background(), "user-1", &provider.Request{Operation: models.OpCoverImage})

	events, err := led.EventsSince(context.Background(), time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 cost event for the billed failure, got %d", len(events))
	}
	if events[0].CostUSD != 0.01 || events[0].Metadata != "failed_attempt" {
		t.Errorf("unexpected failed-attempt event: %+v", events[0])
	}
}

func TestEveryBilledRetryAttemptRecorded(t *testing.T) {
	led := newLedger(t)
	a := failing("provider-a")
	a.billsFailures = true
	a.attemptCost = 0.01
	a.retryPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	c := New(models.OpCoverImage, []provider.Provider{a}, led, testDegraded)

	_ = c.Run(context.Background(), "user-1", &provider.Request{Operation: models.OpCoverImage})

	if a.calls != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", a.calls)
	}
	events, err := led.EventsSince(context.Background(), time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected one cost event per billed attempt, got %d", len(events))
	}
	for _, ev := range events {
		if ev.CostUSD != 0.01 || ev.Metadata != "failed_attempt" {
			t.Errorf("unexpected attempt event: %+v", ev)
		}
	}
}

func TestBilledFailureThenSuccessRecordsBoth(t *testing.T) {
	led := newLedger(t)
	a := failing("provider-a")
	a.billsFailures = true
	a.attemptCost = 0.01
	b := succeeding("provider-b", 0.03)
	c := New(models.OpCoverImage, []provider.Provider{a, b}, led, testDegraded)

	out := c.Run(context.Background(), "user-1", &provider.Request{Operation: models.OpCoverImage})
	if out.Provider != "provider-b" {
		t.Fatalf("expected provider-b, got %s", out.Provider)
	}

	events, err := led.EventsSince(context.Background(), time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 cost events, got %d", len(events))
	}
	byProvider := map[string]float64{}
	for _, ev := range events {
		byProvider[ev.Provider] = ev.CostUSD
	}
	if byProvider["provider-a"] != 0.01 {
		t.Errorf("expected billed failure 0.01 for provider-a, got %f", byProvider["provider-a"])
	}
	if byProvider["provider-b"] != 0.03 {
		t.Errorf("expected success cost 0.03 for provider-b, got %f", byProvider["provider-b"])
	}
}

func TestUnconfiguredProviderSkipped(t *testing.T) {
	led := newLedger(t)
	a := succeeding("provider-a", 0.08)
	a.configured = false
	b := succeeding("provider-b", 0.03)
	c := New(models.OpCoverImage, []provider.Provider{a, b}, led, testDegraded)

	out := c.Run(context.Background(), "user-1", &provider.Request{Operation: models.OpCoverImage})
	if out.Provider != "provider-b" {
		t.Errorf("expected provider-b after skip, got %s", out.Provider)
	}
	if a.calls != 0 {
		t.Error("unconfigured provider must never be invoked")
	}
}

func TestContentPolicySkipsRemainingProviders(t *testing.T) {
	led := newLedger(t)
	a := &stubProvider{
		name: "provider-a", op: models.OpCoverImage, configured: true,
		invoke: func(ctx context.Context, req *provider.Request) (*provider.Result, error) {
			return nil, &provider.Error{Provider: "provider-a", Status: 400, Reason: provider.ReasonContentPolicy}
		},
	}
	b := succeeding("provider-b", 0.03)
	c := New(models.OpCoverImage, []provider.Provider{a, b}, led, testDegraded)

	out := c.Run(context.Background(), "user-1", &provider.Request{Operation: models.OpCoverImage})
	if !out.Degraded {
		t.Fatal("content policy rejection should degrade immediately")
	}
	if b.calls != 0 {
		t.Error("remaining providers must not see a policy-rejected input")
	}
}

func TestTranslationDegradedIsIdentityCopy(t *testing.T) {
	led := newLedger(t)
	c := New(models.OpTranslation, []provider.Provider{}, led, testDegraded)

	req := &provider.Request{
		Operation: models.OpTranslation,
		Translation: &models.TranslationInput{
			Fields:      map[string]string{"title": "Hello", "summary": "A post"},
			TargetLangs: []string{"es", "fr"},
		},
	}
	out := c.Run(context.Background(), "user-1", req)
	if !out.Degraded {
		t.Fatal("expected degraded outcome with no providers")
	}

	var result models.TranslationResult
	if err := json.Unmarshal(out.Result.Body, &result); err != nil {
		t.Fatal(err)
	}
	for _, lang := range []string{"es", "fr"} {
		fields, ok := result.Translations[lang]
		if !ok {
			t.Fatalf("missing degraded translation for %s", lang)
		}
		if fields["title"] != "Hello" || fields["summary"] != "A post" {
			t.Errorf("degraded %s should copy source fields, got %v", lang, fields)
		}
	}
}
