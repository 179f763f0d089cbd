package middleware

import (
	"net/http"
	"sync/atomic"
)

// MetricsCollector feeds the counters surfaced by the metrics endpoint.
// The counters live on the caller so the collector adds no per-request
// allocation.
type MetricsCollector struct {
	requestCount *atomic.Int64
	errorCount   *atomic.Int64
	inFlight     *atomic.Int64
}

func NewMetricsCollector(requestCount, errorCount, inFlight *atomic.Int64) *MetricsCollector {
	return &MetricsCollector{
		requestCount: requestCount,
		errorCount:   errorCount,
		inFlight:     inFlight,
	}
}

// Middleware counts every request, tracks how many are in flight, and counts
// responses with status >= 400 as errors.
func (mc *MetricsCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mc.requestCount.Add(1)
		mc.inFlight.Add(1)
		defer mc.inFlight.Add(-1)

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		if rw.statusCode >= 400 {
			mc.errorCount.Add(1)
		}
	})
}
