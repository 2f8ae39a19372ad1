// Package server exposes the generation coordinator over thin HTTP
// endpoints. All policy lives one level down; handlers only parse input,
// derive identity, and map coordinator outcomes onto response shapes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/vibelog/vibelog/pkg/breaker"
	"github.com/vibelog/vibelog/pkg/config"
	"github.com/vibelog/vibelog/pkg/coordinator"
	"github.com/vibelog/vibelog/pkg/models"
	"github.com/vibelog/vibelog/pkg/ratelimit"
	"github.com/vibelog/vibelog/pkg/store"
)

// Server is the vibelog HTTP front.
type Server struct {
	cfg     *config.Config
	coord   *coordinator.Coordinator
	breaker *breaker.Breaker
	auth    Authenticator
	blobs   store.Store
	mux     *http.ServeMux
}

// New creates a Server wired with all dependencies. blobDir, when
// non-empty, is served under /blobs/ for locally stored media.
func New(cfg *config.Config, coord *coordinator.Coordinator, b *breaker.Breaker, auth Authenticator, blobs store.Store, blobDir string) *Server {
	s := &Server{
		cfg:     cfg,
		coord:   coord,
		breaker: b,
		auth:    auth,
		blobs:   blobs,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /v1/transcriptions", s.handleTranscription)
	s.mux.HandleFunc("POST /v1/cover-images", s.handleCoverImage)
	s.mux.HandleFunc("POST /v1/translations", s.handleTranslation)
	s.mux.HandleFunc("POST /v1/speech", s.handleSpeech)
	s.mux.HandleFunc("GET /v1/spend", s.handleSpend)
	s.mux.HandleFunc("GET /v1/limits", s.handleLimits)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if blobDir != "" {
		s.mux.Handle("GET /blobs/", http.StripPrefix("/blobs/", http.FileServer(http.Dir(blobDir))))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("vibelog listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "vibelog",
	})
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	spent, ceiling, err := s.breaker.Status(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "spend status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"spentUsd":   spent,
		"ceilingUsd": ceiling,
		"tripped":    ceiling > 0 && spent >= ceiling,
	})
}

// handleLimits reports the caller's configured limits per operation, so
// clients can surface remaining quota before attempting a generation.
func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	id := s.identify(r)

	limits := make(map[string]map[string]any, len(models.Operations))
	for _, op := range models.Operations {
		ol := s.cfg.LimitsFor(op)
		l := ol.Anonymous
		if id.Authenticated() {
			l = ol.Authenticated
		}
		limits[string(op)] = map[string]any{
			"max":    l.Max,
			"window": l.Window.String(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": id.Authenticated(),
		"limits":        limits,
	})
}

// respond maps a coordinator outcome onto the HTTP contract: policy
// denials get their own shapes, everything else is a 200 success envelope
// where degraded results are marked isFallback rather than failed.
func (s *Server) respond(w http.ResponseWriter, id ratelimit.Identity, resp *coordinator.Response) {
	switch resp.Status {
	case coordinator.StatusRateLimited:
		writeRateLimited(w, id, resp.RateLimit)
	case coordinator.StatusBreakerOpen:
		// Reset happens at the next UTC day boundary, a fixed schedule
		// callers already know; no Retry-After is computed.
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   "service temporarily unavailable",
			"message": "daily generation capacity reached, try again tomorrow",
		})
	default:
		envelope := map[string]any{
			"success":    true,
			"isFallback": resp.Degraded,
			"cacheHit":   resp.Status == coordinator.StatusCacheHit,
			"result":     json.RawMessage(resp.Body),
		}
		if resp.Provider != "" {
			envelope["providerUsed"] = resp.Provider
		}
		if resp.Warning != "" {
			envelope["warning"] = resp.Warning
		}
		writeJSON(w, http.StatusOK, envelope)
	}
}

func writeRateLimited(w http.ResponseWriter, id ratelimit.Identity, d ratelimit.Decision) {
	retryAfter := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
	if retryAfter < 0 {
		retryAfter = 0
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))

	body := map[string]any{
		"error":          "rate_limited",
		"message":        "request limit reached for this operation",
		"limit":          d.Limit,
		"window":         d.Window.String(),
		"resetAtEpochMs": d.ResetAt.UnixMilli(),
	}
	if !id.Authenticated() {
		body["upgradeHint"] = map[string]any{
			"benefitsList": []string{
				"higher daily generation limits",
				"saved voice profiles",
				"automatic translations of your posts",
			},
		}
	}
	writeJSON(w, http.StatusTooManyRequests, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"code":%d}}`, message, code)
}
