package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type ctxKey string

const ctxIdentityKey ctxKey = "identity"

// identityFrom returns the authenticated caller identity, or empty when the
// request was not authenticated.
func identityFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxIdentityKey).(string); ok {
		return v
	}
	return ""
}

// withAuth resolves the caller identity from the bearer token and records an
// audit entry for every request. With no tokens configured the X-Identity
// header is trusted as-is; that mode exists for local development only.
func withAuth(tokens map[string]string, audit *auditLog, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		var identity string
		if len(tokens) == 0 {
			identity = strings.TrimSpace(r.Header.Get("X-Identity"))
		} else {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			mapped, ok := tokens[token]
			if !ok {
				writeError(w, http.StatusUnauthorized, errors.New("unknown bearer token"))
				return
			}
			identity = mapped
		}

		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		ctx := context.WithValue(r.Context(), ctxIdentityKey, identity)
		next.ServeHTTP(rec, r.WithContext(ctx))

		if audit != nil && r.Method != http.MethodGet {
			audit.add(auditEntry{
				Time:       timeNow(),
				Identity:   identity,
				Path:       r.URL.Path,
				Method:     r.Method,
				Status:     rec.status,
				RemoteAddr: r.RemoteAddr,
				UserAgent:  r.UserAgent(),
			})
		}
	})
}

// withCORS answers preflight requests and stamps CORS headers for configured
// origins. With no origins configured the middleware is a pass-through; an
// Origin outside the allow list is rejected before auth runs.
func withCORS(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	allowed := make(map[string]bool, len(origins))
	allowAll := false
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !allowAll && !allowed[origin] {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Identity")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
