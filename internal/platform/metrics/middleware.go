package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestMiddleware returns chi-compatible middleware that counts requests and
// error responses (status >= 400). With a nil Metrics it passes requests through.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			m.IncRequests()
			// Status is 0 when the handler wrote nothing, which net/http sends as 200.
			if ww.Status() >= http.StatusBadRequest {
				m.IncErrors()
			}
		})
	}
}
