package gatewaytest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const bearerPrefix = "bearer "

type contextKey struct{ name string }

var (
	userIDKey    = contextKey{"user_id"}
	sessionIDKey = contextKey{"session_id"}
)

func withIdentity(ctx context.Context, userID int64, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func identity(ctx context.Context) (userID int64, sessionID string) {
	userID, _ = ctx.Value(userIDKey).(int64)
	sessionID, _ = ctx.Value(sessionIDKey).(string)
	return userID, sessionID
}

// requireAccess admits requests whose bearer token is a live access token of an active
// session and puts the user and session ids into the request context.
func (g *Gateway) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authentication credentials were not provided.", nil)
			return
		}
		claims, err := g.tokens.ValidateAccess(token)
		if err != nil {
			writeTokenInvalid(w)
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			writeTokenInvalid(w)
			return
		}

		g.mu.Lock()
		sid, live := g.access[claims.ID]
		s := g.sessions[claims.SessionID]
		ok := live && sid == claims.SessionID && s != nil && s.active(g.now())
		if ok {
			s.lastActivity = g.now().UTC()
		}
		g.mu.Unlock()
		if !ok {
			writeTokenInvalid(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), userID, claims.SessionID)))
	})
}

// extractBearer returns the bearer token of r, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Str("request_id", r.Header.Get("X-Request-ID")).
			Dur("took", time.Since(start)).
			Msg("gatewaytest: request")
	})
}
