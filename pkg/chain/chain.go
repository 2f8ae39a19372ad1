// Package chain orchestrates an ordered list of interchangeable providers
// for one operation, trying each until one succeeds. When every configured
// provider fails the chain returns a static degraded result instead of an
// error: optional enrichment must never hard-fail the primary request.
package chain

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/vibelog/vibelog/pkg/config"
	"github.com/vibelog/vibelog/pkg/ledger"
	"github.com/vibelog/vibelog/pkg/models"
	"github.com/vibelog/vibelog/pkg/provider"
	"github.com/vibelog/vibelog/pkg/retry"
)

// Outcome is the chain's terminal result. Degraded outcomes are success
// cases for the caller, never errors.
type Outcome struct {
	Result   *provider.Result
	Provider string
	Degraded bool
}

// Chain runs one operation's fallback providers in configured order.
type Chain struct {
	operation models.Operation
	providers []provider.Provider
	ledger    ledger.Ledger
	degraded  config.DegradedConfig
}

// New creates a Chain. The ledger receives one cost event per upstream
// call, including every failed attempt when the provider bills for them.
func New(op models.Operation, providers []provider.Provider, l ledger.Ledger, degraded config.DegradedConfig) *Chain {
	return &Chain{operation: op, providers: providers, ledger: l, degraded: degraded}
}

// Run tries each provider in order, each wrapped by the retry executor
// with that provider's own policy. Unconfigured providers are skipped
// without counting as a failed attempt. Content-policy rejections mean no
// provider can serve this input, so the chain degrades immediately.
func (c *Chain) Run(ctx context.Context, identity string, req *provider.Request) *Outcome {
	for _, p := range c.providers {
		if !p.Configured() {
			log.Printf("provider %s not configured, skipping", p.Name())
			continue
		}

		var res *provider.Result
		start := time.Now()
		err := retry.Do(ctx, p.Retry(), func(attemptCtx context.Context) error {
			r, ierr := p.Invoke(attemptCtx, req)
			if ierr != nil {
				// Some providers bill every upstream call, retried or
				// not, so each failed attempt lands in the ledger.
				if p.BillsFailures() {
					c.record(ctx, identity, p.Name(), p.AttemptCostUSD(), "failed_attempt")
				}
				return ierr
			}
			res = r
			return nil
		}, func(err error, attempt int, delay time.Duration) {
			log.Printf("provider %s attempt %d failed: %v (retrying in %s)", p.Name(), attempt, err, delay)
		})

		if err == nil {
			c.record(ctx, identity, p.Name(), res.CostUSD, "")
			return &Outcome{Result: res, Provider: p.Name()}
		}

		if provider.IsContentPolicy(err) {
			// Expected for some inputs, not a provider outage.
			log.Printf("provider %s rejected input (%s after %s): degrading", p.Name(), err, time.Since(start).Round(time.Millisecond))
			break
		}

		log.Printf("provider %s failed after %s: %v, trying next", p.Name(), time.Since(start).Round(time.Millisecond), err)
	}

	return &Outcome{Result: c.Degraded(req), Degraded: true}
}

// record appends a cost event. Ledger writes are best-effort: a failure is
// logged and the response proceeds regardless.
func (c *Chain) record(ctx context.Context, identity, providerName string, cost float64, metadata string) {
	err := c.ledger.Record(ctx, models.CostEvent{
		Identity:  identity,
		Operation: c.operation,
		Provider:  providerName,
		CostUSD:   cost,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("record cost for %s: %v", providerName, err)
	}
}

// Degraded builds the static placeholder result for the chain's operation.
func (c *Chain) Degraded(req *provider.Request) *provider.Result {
	var body []byte
	switch c.operation {
	case models.OpCoverImage:
		body, _ = json.Marshal(models.CoverImageResult{
			ImageURL: c.degraded.ImageURL,
			Width:    c.degraded.Width,
			Height:   c.degraded.Height,
			Degraded: true,
		})
	case models.OpTranslation:
		// Identity fallback: every target language carries the source
		// fields untranslated.
		translations := map[string]map[string]string{}
		if req.Translation != nil {
			for _, lang := range req.Translation.TargetLangs {
				fields := make(map[string]string, len(req.Translation.Fields))
				for k, v := range req.Translation.Fields {
					fields[k] = v
				}
				translations[lang] = fields
			}
		}
		body, _ = json.Marshal(models.TranslationResult{Translations: translations})
	case models.OpSpeech:
		result := models.SpeechResult{}
		if req.Speech != nil {
			result.Language = req.Speech.Language
			result.TextLength = len(req.Speech.Text)
		}
		body, _ = json.Marshal(result)
	default:
		body, _ = json.Marshal(models.TranscriptionResult{})
	}
	return &provider.Result{Body: body}
}
