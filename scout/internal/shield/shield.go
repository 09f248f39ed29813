// Package shield is the HTTP middleware stack of the read-only inspection
// API: HEAD handling, security headers for JSON responses, and a per-request
// trace id with a request-scoped logger.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"
)

type contextKey string

const (
	loggerKey  contextKey = "shield_logger"
	traceIDKey contextKey = "shield_trace_id"
)

// HeaderConfig defines the security headers applied to every response.
type HeaderConfig struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	CacheControl        string
}

// APIHeaders locks responses down to data: nothing may be framed, sniffed
// or executed.
func APIHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
		CacheControl:        "no-store",
	}
}

// SecurityHeaders sets the configured headers on every response.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range map[string]string{
				"Content-Security-Policy": cfg.CSP,
				"X-Frame-Options":         cfg.XFrameOptions,
				"X-Content-Type-Options":  cfg.XContentTypeOptions,
				"Referrer-Policy":         cfg.ReferrerPolicy,
				"Cache-Control":           cfg.CacheControl,
			} {
				if v != "" {
					h.Set(k, v)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HeadToGet lets routes registered with r.Get answer HEAD; net/http drops
// the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// TraceID tags each request with a random id, echoed in X-Trace-ID, and
// stores a logger carrying it in the context.
func TraceID(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := make([]byte, 4)
			rand.Read(id)
			traceID := hex.EncodeToString(id)
			w.Header().Set("X-Trace-ID", traceID)

			logger := base.With("trace_id", traceID, "method", r.Method, "path", r.URL.Path)
			ctx := context.WithValue(r.Context(), traceIDKey, traceID)
			ctx = context.WithValue(ctx, loggerKey, logger)

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.Debug("shield: request", "duration", time.Since(start))
		})
	}
}

// GetLogger returns the request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// GetTraceID returns the request trace id, or "".
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// APIStack is HeadToGet, SecurityHeaders(APIHeaders()) then TraceID.
func APIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		TraceID(logger),
	}
}
