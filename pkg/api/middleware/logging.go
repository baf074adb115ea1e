package middleware

import (
	"net/http"
	"time"

	"github.com/docsieve/docsieve/pkg/logger"
)

// quietPaths are polled by orchestrators and scrapers; logging every probe
// would drown out real traffic.
var quietPaths = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
}

// Logger emits one access-log line per request. Lines go through the
// context-aware variant so they carry trace IDs when tracing is enabled.
func Logger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, quiet := quietPaths[r.URL.Path]; quiet {
				next.ServeHTTP(w, r)
				return
			}

			sw := wrapWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			log.InfoContext(r.Context(), "http request",
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
