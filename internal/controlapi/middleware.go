package controlapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/srab2001/featuregate/internal/logger"
	"github.com/srab2001/featuregate/internal/observability"
)

// apiKeyHeader carries the raw API key. "Authorization: Bearer <key>" is accepted too.
const apiKeyHeader = "X-API-Key"

// RequestLogger returns a middleware that puts a request-scoped logger into the
// context and logs the end of each request.
// We use Info level for success, Warn for 4xx, Error for 5xx.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			log := base.With(slog.String("request_id", middleware.GetReqID(r.Context())))
			r = r.WithContext(logger.WithContext(r.Context(), log))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			status := ww.Status()
			if status >= 500 {
				level = slog.LevelError
			} else if status >= 400 {
				level = slog.LevelWarn
			}

			log.Log(r.Context(), level, "HTTP request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.String("duration", time.Since(start).String()),
				slog.String("remote_ip", r.RemoteAddr),
			)
		})
	}
}

// RequestMetrics records request count and latency per route pattern, which keeps
// label cardinality bounded by the route table rather than by flag names.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "not_found"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.ControlPlaneReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		observability.ControlPlaneReqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// authenticateAPIKey rejects requests whose API key does not hash to a.apiKeyHash.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if key == "" || !a.validKey(key) {
			logger.FromContext(r.Context()).Warn("rejected request with invalid api key")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "A valid API key is required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) validKey(key string) bool {
	sum := sha256.Sum256([]byte(key))
	got := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(a.apiKeyHash))) == 1
}
