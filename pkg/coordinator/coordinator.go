// Package coordinator is the single entry point for generation requests.
// Per request it checks the spend breaker, the rate limiter, and the
// content-addressed cache, dedups concurrent work on the same resource,
// runs the provider fallback chain, records cost, persists the result,
// and triggers fire-and-forget downstream enrichment.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/vibelog/vibelog/pkg/breaker"
	cachepkg "github.com/vibelog/vibelog/pkg/cache/sqlite"
	"github.com/vibelog/vibelog/pkg/chain"
	"github.com/vibelog/vibelog/pkg/config"
	"github.com/vibelog/vibelog/pkg/flight"
	"github.com/vibelog/vibelog/pkg/ledger"
	"github.com/vibelog/vibelog/pkg/models"
	"github.com/vibelog/vibelog/pkg/provider"
	"github.com/vibelog/vibelog/pkg/ratelimit"
	"github.com/vibelog/vibelog/pkg/resource"
	"github.com/vibelog/vibelog/pkg/tasks"
)

// Status is the terminal state of one coordinator invocation. Every value
// maps to a response, never to a coordinator-level retry.
type Status string

const (
	StatusGenerated   Status = "generated"
	StatusCacheHit    Status = "cache_hit"
	StatusJoined      Status = "joined"
	StatusDegraded    Status = "degraded"
	StatusRateLimited Status = "rate_limited"
	StatusBreakerOpen Status = "breaker_open"
)

// metadataOp keys derived-metadata enrichments in the resource repo. It is
// produced by background tasks, never requested directly.
const metadataOp models.Operation = "metadata"

// Request is one generation request, identity already verified upstream.
type Request struct {
	Operation models.Operation
	Identity  ratelimit.Identity
	// ResourceKey dedups concurrent requests for the same target entity.
	// Distinct from the cache key, which addresses identical content.
	ResourceKey string
	// CanonicalInput is the byte content the cache key is derived from.
	CanonicalInput []byte
	Input          *provider.Request
}

// Response is the coordinator's terminal answer.
type Response struct {
	Status    Status
	Body      json.RawMessage
	Provider  string
	Degraded  bool
	Warning   string
	RateLimit ratelimit.Decision
}

// Coordinator composes the orchestration components. Construct one per
// process and share it across requests.
type Coordinator struct {
	cfg     *config.Config
	ledger  ledger.Ledger
	breaker *breaker.Breaker
	limiter *ratelimit.Limiter
	cache   *cachepkg.Cache
	flights *flight.Registry
	chains  map[models.Operation]*chain.Chain
	repo    *resource.Repo
	capture *resource.Capture
	queue   *tasks.Queue
}

// New wires a Coordinator. cache and repo may be nil to disable caching
// and persistence.
func New(
	cfg *config.Config,
	l ledger.Ledger,
	b *breaker.Breaker,
	rl *ratelimit.Limiter,
	cache *cachepkg.Cache,
	chains map[models.Operation]*chain.Chain,
	repo *resource.Repo,
	capture *resource.Capture,
	queue *tasks.Queue,
) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		ledger:  l,
		breaker: b,
		limiter: rl,
		cache:   cache,
		flights: flight.New(),
		chains:  chains,
		repo:    repo,
		capture: capture,
		queue:   queue,
	}
}

// Pending exposes the dedup registry depth, for observability and tests.
func (c *Coordinator) Pending() int { return c.flights.Pending() }

// generated is the settled outcome shared by every caller on one ticket.
type generated struct {
	outcome *chain.Outcome
	warning string
}

// Generate runs the full pipeline for one request. Unexpected panics are
// caught at this boundary, capture-written, and returned as plain errors:
// a paid result must never be silently dropped.
func (c *Coordinator) Generate(ctx context.Context, req *Request) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("coordinator panic for %s/%s: %v", req.Operation, req.ResourceKey, r)
			c.captureWrite(resource.CaptureRecord{
				ResourceID: req.ResourceKey,
				Operation:  req.Operation,
				Identity:   req.Identity.Key(),
				Reason:     fmt.Sprintf("panic: %v", r),
			})
			resp, err = nil, fmt.Errorf("generation failed for %s", req.Operation)
		}
	}()

	ch, ok := c.chains[req.Operation]
	if !ok {
		return nil, fmt.Errorf("no providers configured for %s", req.Operation)
	}

	// Breaker first: no expensive work may start once the daily ceiling
	// is reached. A failed ledger read fails open; availability of the
	// feature outranks perfect accounting.
	tripped, berr := c.breaker.Tripped(ctx)
	if berr != nil {
		log.Printf("breaker check failed, allowing request: %v", berr)
	}
	if tripped {
		return &Response{Status: StatusBreakerOpen}, nil
	}

	decision := c.limiter.Check(req.Identity, req.Operation)
	if !decision.Allowed {
		return &Response{Status: StatusRateLimited, RateLimit: decision}, nil
	}

	cacheKey := ""
	if c.cache != nil && len(req.CanonicalInput) > 0 {
		cacheKey = cachepkg.Key(req.Operation, req.CanonicalInput)
		if body, hit := c.cache.Get(cacheKey, req.Operation); hit {
			c.recordZero(ctx, req, "cache", true, "")
			return &Response{Status: StatusCacheHit, Body: body}, nil
		}
	}

	flightKey := string(req.Operation) + "|" + req.ResourceKey
	if req.ResourceKey == "" {
		// Without a resource key concurrent identical payloads still
		// share one call through the content address.
		flightKey = string(req.Operation) + "|" + cacheKey
	}

	v, joined, err := c.flights.Do(flightKey, func() (any, error) {
		// The owner's request context must not cancel the shared call:
		// joined callers are still waiting on it and the upstream charge
		// lands either way. Each provider's retry total-timeout bounds
		// the work instead.
		return c.run(context.WithoutCancel(ctx), ch, req, cacheKey), nil
	})
	if err != nil {
		return nil, err
	}
	gen := v.(*generated)

	if joined {
		c.recordZero(ctx, req, gen.outcome.Provider, false, "dedup_join")
		return &Response{
			Status:   StatusJoined,
			Body:     gen.outcome.Result.Body,
			Provider: gen.outcome.Provider,
			Degraded: gen.outcome.Degraded,
			Warning:  gen.warning,
		}, nil
	}

	status := StatusGenerated
	if gen.outcome.Degraded {
		status = StatusDegraded
	}
	return &Response{
		Status:   status,
		Body:     gen.outcome.Result.Body,
		Provider: gen.outcome.Provider,
		Degraded: gen.outcome.Degraded,
		Warning:  gen.warning,
	}, nil
}

// run executes the paid portion of the pipeline exactly once per ticket.
func (c *Coordinator) run(ctx context.Context, ch *chain.Chain, req *Request, cacheKey string) *generated {
	outcome := ch.Run(ctx, req.Identity.Key(), req.Input)
	gen := &generated{outcome: outcome}

	if outcome.Degraded {
		// Failed or degraded attempts are never cached; a transient
		// outage must not poison future identical requests.
		return gen
	}

	if c.cache != nil && cacheKey != "" {
		if err := c.cache.Put(cacheKey, req.Operation, outcome.Result.Body); err != nil {
			log.Printf("cache put failed for %s: %v", req.Operation, err)
		}
	}

	if req.ResourceKey != "" && c.repo != nil {
		err := c.repo.Save(ctx, resource.Enrichment{
			ResourceID: req.ResourceKey,
			Operation:  req.Operation,
			Provider:   outcome.Provider,
			Body:       outcome.Result.Body,
		})
		if err != nil {
			// The provider already billed us. Capture the result for
			// manual recovery and report success with a warning.
			log.Printf("persist enrichment for %s: %v", req.ResourceKey, err)
			c.captureWrite(resource.CaptureRecord{
				ResourceID: req.ResourceKey,
				Operation:  req.Operation,
				Provider:   outcome.Provider,
				Identity:   req.Identity.Key(),
				Body:       outcome.Result.Body,
				Reason:     fmt.Sprintf("persist failed: %v", err),
			})
			gen.warning = "result generated but could not be saved; it has been captured for recovery"
			return gen
		}
	}

	c.enqueueFollowups(req, outcome)
	return gen
}

// enqueueFollowups submits downstream enrichment to the background queue.
// These tasks are independent of the originating request: their failures
// are logged, never surfaced or retried for the caller.
func (c *Coordinator) enqueueFollowups(req *Request, outcome *chain.Outcome) {
	if c.queue == nil || req.ResourceKey == "" {
		return
	}

	switch req.Operation {
	case models.OpTranscription:
		var tr models.TranscriptionResult
		if err := json.Unmarshal(outcome.Result.Body, &tr); err != nil || tr.Text == "" {
			return
		}

		if c.repo != nil {
			key, text, lang := req.ResourceKey, tr.Text, tr.Language
			c.queue.Submit(tasks.Task{
				Name: "extract-metadata",
				Run: func(ctx context.Context) error {
					body, _ := json.Marshal(map[string]any{
						"charCount": len(text),
						"language":  lang,
					})
					return c.repo.Save(ctx, resource.Enrichment{
						ResourceID: key,
						Operation:  metadataOp,
						Provider:   "internal",
						Body:       body,
					})
				},
			})
		}

		if langs := c.followupLanguages(tr.Language); len(langs) > 0 {
			key, text, lang := req.ResourceKey, tr.Text, tr.Language
			c.queue.Submit(tasks.Task{
				Name: "auto-translate",
				Run: func(ctx context.Context) error {
					return c.translateFollowup(ctx, key, text, lang, langs)
				},
			})
		}
	}
}

// translateFollowup re-enters the coordinator as the system identity so
// the background translation gets the same breaker, cache, and dedup
// treatment as a user-initiated one.
func (c *Coordinator) translateFollowup(ctx context.Context, resourceKey, text, sourceLang string, targets []string) error {
	in := &models.TranslationInput{
		Fields:      map[string]string{"body": text},
		SourceLang:  sourceLang,
		TargetLangs: targets,
	}
	canonical, _ := json.Marshal(in)
	_, err := c.Generate(ctx, &Request{
		Operation:      models.OpTranslation,
		Identity:       ratelimit.Identity{UserID: "system"},
		ResourceKey:    resourceKey,
		CanonicalInput: canonical,
		Input:          &provider.Request{Operation: models.OpTranslation, Translation: in},
	})
	return err
}

// followupLanguages returns the configured auto-translation targets minus
// the detected source language.
func (c *Coordinator) followupLanguages(source string) []string {
	var out []string
	for _, l := range c.cfg.FollowupLanguages {
		if l != source {
			out = append(out, l)
		}
	}
	return out
}

// recordZero appends a zero-cost audit event for cache hits and dedup
// joins. Best-effort, like every ledger write on the response path.
func (c *Coordinator) recordZero(ctx context.Context, req *Request, providerName string, cacheHit bool, metadata string) {
	err := c.ledger.Record(ctx, models.CostEvent{
		Identity:  req.Identity.Key(),
		Operation: req.Operation,
		Provider:  providerName,
		CacheHit:  cacheHit,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("record zero-cost event: %v", err)
	}
}

func (c *Coordinator) captureWrite(rec resource.CaptureRecord) {
	if c.capture == nil {
		return
	}
	if path, err := c.capture.Write(rec); err != nil {
		log.Printf("failure capture write failed: %v", err)
	} else {
		log.Printf("captured unpersisted result to %s", path)
	}
}
