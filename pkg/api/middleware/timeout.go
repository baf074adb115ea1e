package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/docsieve/docsieve/pkg/api/response"
)

// Timeout cancels the request context after d and answers 504 if the handler
// has not produced a response by then. Once the deadline fires, anything the
// handler still writes is discarded so the timeout answer and a late handler
// response can never interleave on the wire. Upgrade requests are exempt; a
// websocket session is expected to outlive any per-request deadline.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d <= 0 || r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			dw := &deadlineWriter{inner: w}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(dw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if dw.expire() {
					response.Error(w, http.StatusGatewayTimeout,
						response.ErrCodeGatewayTimeout, "request timed out",
						GetRequestID(r.Context()))
				}
			}
		})
	}
}

// deadlineWriter serializes access to the response and drops all writes once
// the deadline has expired.
type deadlineWriter struct {
	mu      sync.Mutex
	inner   http.ResponseWriter
	expired bool
	wrote   bool
}

func (dw *deadlineWriter) Header() http.Header {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.expired {
		return http.Header{}
	}
	return dw.inner.Header()
}

func (dw *deadlineWriter) WriteHeader(code int) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.expired {
		return
	}
	dw.wrote = true
	dw.inner.WriteHeader(code)
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.expired {
		return len(b), nil
	}
	dw.wrote = true
	return dw.inner.Write(b)
}

// expire cuts the handler off from the response. It reports false when the
// handler already wrote, in which case the 504 must not be sent.
func (dw *deadlineWriter) expire() bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.wrote {
		return false
	}
	dw.expired = true
	return true
}
