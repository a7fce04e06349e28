package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFromContext returns the token claims stored by authMiddleware, or
// nil for an unauthenticated request.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// bearerToken returns the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// clientAddr is the caller's host, taken from the first X-Forwarded-For
// entry when a proxy set one.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// originAllowed reports whether origin is in the whitelist. An empty
// whitelist allows every origin.
func originAllowed(whitelist []string, origin string) bool {
	if len(whitelist) == 0 {
		return true
	}
	for _, o := range whitelist {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// authMiddleware requires a valid bearer token and stores its claims in
// the request context.
func authMiddleware(auth *AuthService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
			return
		}
		claims, err := auth.ValidateToken(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func corsMiddleware(whitelist []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(whitelist, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// throttle allows a fixed number of requests per caller in each window.
// A caller is an account when the request carries a valid token, otherwise
// a client address, so players behind one NAT do not share a budget.
type throttle struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	callers map[string]*usage
}

type usage struct {
	start time.Time
	n     int
}

func newThrottle(perMinute int) *throttle {
	return &throttle{
		limit:   perMinute,
		window:  time.Minute,
		callers: make(map[string]*usage),
	}
}

// allow records one request for key at now. A limit of zero or less
// disables throttling.
func (t *throttle) allow(key string, now time.Time) bool {
	if t.limit <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.callers[key]
	if u == nil || now.Sub(u.start) >= t.window {
		t.callers[key] = &usage{start: now, n: 1}
		return true
	}
	u.n++
	return u.n <= t.limit
}

// prune forgets callers whose window has passed.
func (t *throttle) prune(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, u := range t.callers {
		if now.Sub(u.start) >= t.window {
			delete(t.callers, k)
		}
	}
}

// callerKey names the budget a request is charged to.
func callerKey(auth *AuthService, r *http.Request) string {
	if tok := bearerToken(r); tok != "" {
		if c, err := auth.ValidateToken(tok); err == nil {
			return "account:" + strconv.FormatInt(c.AccountID, 10)
		}
	}
	return "addr:" + clientAddr(r)
}

func throttleMiddleware(t *throttle, auth *AuthService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(callerKey(auth, r), time.Now()) {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
