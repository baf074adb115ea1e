package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsRecorder is the subset of the metrics manager the HTTP layer needs.
type MetricsRecorder interface {
	RecordHTTPRequest(method, route, status string, duration time.Duration)
	IncInFlight()
	DecInFlight()
}

// Metrics records request counts, latency and the in-flight gauge. The route
// label is chi's route pattern, so "/api/v1/deadletters/abc123" is recorded
// as "/api/v1/deadletters/{id}" and label cardinality stays fixed no matter
// what IDs clients request. The scrape endpoint itself is not measured.
func Metrics(rec MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			rec.IncInFlight()
			defer rec.DecInFlight()

			sw := wrapWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			// The route pattern is resolved during routing, so it is only
			// available after the handler ran.
			rec.RecordHTTPRequest(r.Method, routePattern(r), strconv.Itoa(sw.status), time.Since(start))
		})
	}
}
