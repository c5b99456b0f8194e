package http

import (
	"fmt"
	"net/http"
)

// NotFoundHandler answers unknown routes with the same JSON error envelope
// used everywhere else, naming the path that missed.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
}
