package http

import (
	"log"
	"net/http"
	"time"
)

// RequestLogger logs one line per request: method, path, the agent the
// call acted for, the resulting status and the latency.
func RequestLogger(next http.Handler, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		agent := r.Header.Get(agentHeader)
		if agent == "" {
			agent = "-"
		}
		logger.Printf(
			"request method=%s path=%s agent=%s status=%d duration=%s",
			r.Method,
			r.URL.Path,
			agent,
			rec.status,
			time.Since(start),
		)
	})
}

// Recover turns a panicking handler into a 500 response instead of
// tearing down the connection, and logs the panic value.
func Recover(next http.Handler, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Printf("panic method=%s path=%s value=%v", r.Method, r.URL.Path, v)
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written downstream. Handlers
// that never call WriteHeader implicitly answer 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
