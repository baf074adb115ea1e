package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/docsieve/docsieve/pkg/api/response"
	"github.com/docsieve/docsieve/pkg/logger"
)

// Recovery converts a handler panic into a 500 envelope instead of tearing
// down the connection. The panic value and stack go to the log only; the
// client sees a generic message.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				requestID := GetRequestID(r.Context())
				log.Error("handler panic",
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)
				response.Error(w, http.StatusInternalServerError,
					response.ErrCodeInternalServer, "internal server error", requestID)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
