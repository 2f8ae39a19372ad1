package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/vibelog/vibelog/pkg/config"
	"github.com/vibelog/vibelog/pkg/ratelimit"
)

// Authenticator turns a presented session token into a verified user id.
// The limiter and ledger never see a client-asserted identity.
type Authenticator interface {
	Verify(token string) (userID string, ok bool)
}

// TokenAuthenticator verifies sessions against the configured token map.
type TokenAuthenticator struct {
	tokens map[string]string
}

// NewTokenAuthenticator creates an authenticator from config.
func NewTokenAuthenticator(cfg config.AuthConfig) *TokenAuthenticator {
	return &TokenAuthenticator{tokens: cfg.SessionTokens}
}

// Verify implements Authenticator.
func (a *TokenAuthenticator) Verify(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	userID, ok := a.tokens[token]
	return userID, ok
}

// identify derives the caller identity for a request: a verified user id
// when the bearer token checks out, otherwise the network address.
func (s *Server) identify(r *http.Request) ratelimit.Identity {
	if token := bearerToken(r); token != "" {
		if userID, ok := s.auth.Verify(token); ok {
			return ratelimit.Identity{UserID: userID}
		}
	}
	return ratelimit.Identity{Addr: s.clientAddr(r)}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// clientAddr returns the caller's network address. X-Forwarded-For is
// honored only when the deployment fronts this service with a trusted
// proxy.
func (s *Server) clientAddr(r *http.Request) string {
	if s.cfg.Auth.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			parts := strings.Split(fwd, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
