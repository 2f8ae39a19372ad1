// Package provider abstracts external AI providers behind a single invoke
// contract. Each adapter normalizes its upstream's distinct error shapes
// into the shared classification vocabulary, so retry and fallback logic
// never depend on a specific provider's failure types.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vibelog/vibelog/pkg/config"
	"github.com/vibelog/vibelog/pkg/models"
	"github.com/vibelog/vibelog/pkg/retry"
	"github.com/vibelog/vibelog/pkg/store"
)

// Request is the opaque unit of work handed to a provider. Exactly one of
// the operation payloads is set, matching Operation.
type Request struct {
	Operation     models.Operation
	Transcription *models.TranscriptionInput
	Image         *models.CoverImageInput
	Translation   *models.TranslationInput
	Speech        *models.SpeechInput
}

// Result is a successful provider outcome: the marshaled operation output
// plus the cost the call incurred.
type Result struct {
	Body    json.RawMessage
	CostUSD float64
}

// Provider is one interchangeable upstream in a fallback chain.
type Provider interface {
	// Name identifies the provider in cost events and responses.
	Name() string
	// Operation is the kind this provider serves.
	Operation() models.Operation
	// Configured reports whether the provider has the credentials it
	// needs. Unconfigured providers are skipped without counting as a
	// failed attempt.
	Configured() bool
	// Invoke performs one generation call.
	Invoke(ctx context.Context, req *Request) (*Result, error)
	// Retry returns the provider's own retry policy; providers differ in
	// cost and typical latency.
	Retry() retry.Policy
	// BillsFailures reports whether the provider charges for failed
	// attempts, and AttemptCostUSD is what such an attempt costs.
	BillsFailures() bool
	AttemptCostUSD() float64
}

// base carries the configuration shared by all adapters.
type base struct {
	cfg config.ProviderConfig
	op  models.Operation
}

func (b base) Name() string                { return b.cfg.Name }
func (b base) Operation() models.Operation { return b.op }
func (b base) Configured() bool            { return b.cfg.APIKey != "" && b.cfg.URL != "" }
func (b base) BillsFailures() bool         { return b.cfg.BillsFailures }
func (b base) AttemptCostUSD() float64     { return b.cfg.AttemptCostUSD }

func (b base) Retry() retry.Policy {
	rc := config.DefaultRetry(b.cfg.Retry)
	return retry.Policy{
		MaxAttempts:  rc.MaxAttempts,
		BaseDelay:    rc.BaseDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		Jitter:       rc.Jitter,
		JitterCap:    rc.JitterCap,
		TotalTimeout: rc.TotalTimeout,
	}
}

// textCost prices a text payload: flat per-call cost plus the per-1k-chars
// rate when configured.
func (b base) textCost(chars int) float64 {
	return b.cfg.CostUSD + b.cfg.CostPer1KChars*float64(chars)/1000
}

// httpClient is shared by the HTTP adapters. Per-call deadlines come from
// the retry executor's total-timeout context.
var httpClient = &http.Client{Timeout: 90 * time.Second}

// Build constructs the adapter selected by pc.Type. Adapters that produce
// raw media bytes receive the blob store to publish them.
func Build(op models.Operation, pc config.ProviderConfig, blobs store.Store) (Provider, error) {
	b := base{cfg: pc, op: op}
	switch pc.Type {
	case "openai_transcribe":
		return &openAITranscriber{base: b}, nil
	case "openai_image":
		return &openAIImager{base: b}, nil
	case "openai_chat":
		return &openAITranslator{base: b}, nil
	case "stability":
		return &stabilityImager{base: b, blobs: blobs}, nil
	case "gemini":
		return &geminiTranslator{base: b}, nil
	case "modal_speech":
		return &modalSpeech{base: b, blobs: blobs}, nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

// BuildChains constructs every configured fallback chain, keyed by
// operation, preserving the configured order.
func BuildChains(cfg *config.Config, blobs store.Store) (map[models.Operation][]Provider, error) {
	chains := make(map[models.Operation][]Provider, len(cfg.Providers))
	for op, pcs := range cfg.Providers {
		for _, pc := range pcs {
			p, err := Build(op, pc, blobs)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
			}
			chains[op] = append(chains[op], p)
		}
	}
	return chains, nil
}
