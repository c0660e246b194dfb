package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/metrics"
	"github.com/angelmondragon/custody-backend/pkg/tracing"
)

const unmatchedRoute = "unmatched"

// probePaths are polled by the platform and logged at debug only.
var probePaths = map[string]struct{}{
	"/health/live":  {},
	"/health/ready": {},
	"/metrics":      {},
}

// Logging wraps each request in a server span, records it against the matched
// chi route, and writes one completion line. 5xx completions log at warn; the
// error itself is logged by the response writer.
func Logging(logg *logger.Logger, httpMetrics *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tracing.StartSpan(r.Context(), "http.request",
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{"method": r.Method, "path": r.URL.Path})
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(rec, r)

			route := matchedRoute(r)
			elapsed := time.Since(start)
			httpMetrics.Observe(r.Method, route, rec.status, elapsed)

			span.SetName(r.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", rec.status))
			var spanErr error
			if rec.status >= http.StatusInternalServerError {
				spanErr = fmt.Errorf("http %d", rec.status)
			}
			tracing.End(span, spanErr)

			if logg == nil {
				return
			}
			logCtx := logg.WithFields(ctx, map[string]any{
				"route":       route,
				"status":      rec.status,
				"bytes":       rec.bytes,
				"duration_ms": elapsed.Milliseconds(),
				"remote_ip":   clientIP(r),
			})
			switch {
			case rec.status >= http.StatusInternalServerError:
				logg.Warn(logCtx, "request.failed")
			case isProbe(r.URL.Path):
				logg.Debug(logCtx, "request.complete")
			default:
				logg.Info(logCtx, "request.complete")
			}
		})
	}
}

func isProbe(path string) bool {
	_, ok := probePaths[path]
	return ok
}

func matchedRoute(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
