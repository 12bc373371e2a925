package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/gate"
	"github.com/driftapp/drift/internal/identity"
	"github.com/driftapp/drift/internal/metrics"
)

type ctxKey int

const sessionKey ctxKey = iota

// sessionFrom returns the session the auth middleware resolved, or nil
// on unauthenticated routes.
func sessionFrom(r *http.Request) *identity.Session {
	s, _ := r.Context().Value(sessionKey).(*identity.Session)
	return s
}

// bearerToken extracts the session token from the Authorization header,
// falling back to the token query parameter for WebSocket clients that
// cannot set headers.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// rateLimit drops requests over the per-IP budget before any work
// happens.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiters.get(clientIP(r)).Allow() {
			metrics.RateLimitHitsTotal.Inc()
			writeError(w, http.StatusTooManyRequests,
				string(gate.CodeRateLimited), "Too many requests.", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireSession resolves the bearer token to a session and injects it
// into the request context. When the Redis registry is wired, revoked
// tokens are refused and live ones have their TTL refreshed; registry
// outages fail open so a Redis blip does not log everyone out. Banned
// actors are refused outright.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeGateError(w, gate.InvalidSession())
			return
		}

		sess, err := s.deps.Issuer.Resolve(token)
		if err != nil {
			writeGateError(w, gate.InvalidSession())
			return
		}

		if s.deps.Sessions != nil {
			active, err := s.deps.Sessions.Active(r.Context(), sess.Token)
			switch {
			case err != nil:
				s.log.Debug("session registry unavailable", zap.Error(err))
			case !active:
				writeGateError(w, gate.InvalidSession())
				return
			default:
				if err := s.deps.Sessions.Touch(r.Context(), sess.Token); err != nil {
					s.log.Debug("session touch failed", zap.Error(err))
				}
			}
		}

		if s.deps.Bans != nil {
			banned, remaining, reason, err := s.deps.Bans.IsBanned(r.Context(), sess.ActorKey())
			if err != nil {
				s.log.Debug("ban check unavailable", zap.Error(err))
			} else if banned {
				writeError(w, http.StatusForbidden,
					string(gate.CodeUnauthorizedAction), "Account temporarily suspended.",
					map[string]any{"retryAfterSeconds": remaining, "reason": reason})
				return
			}
		}

		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
