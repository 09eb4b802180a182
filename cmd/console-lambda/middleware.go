package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/traffic-console/internal/console"
	"github.com/fpang/traffic-console/internal/metrics"
)

// withOriginVerify rejects requests lacking the correct x-origin-verify
// header. CloudFront injects this header via a custom origin header, so
// direct API Gateway access is blocked. The health check is always allowed.
func withOriginVerify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if originVerifySecret == "" || r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("x-origin-verify") != originVerifySecret {
			log.Warn().Str("path", r.URL.Path).Msg("Blocked request: missing or invalid x-origin-verify header")
			httpError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// withMetrics emits per-request EMF metrics: RequestLatencyMs and
// RequestCount with an Endpoint dimension.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		metrics.New().
			Dimension("Endpoint", normalizeEndpoint(r.URL.Path)).
			Duration("RequestLatencyMs", start).
			Count("RequestCount").
			Property("method", r.Method).
			Property("statusCode", sr.statusCode).
			Flush()
	})
}

// normalizeEndpoint collapses session IDs so the Endpoint dimension stays
// low-cardinality: /api/session/{uuid}/select -> /api/session/*/select.
func normalizeEndpoint(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if console.ValidSessionID(p) {
			parts[i] = "*"
		}
	}
	return "/" + strings.Join(parts, "/")
}
