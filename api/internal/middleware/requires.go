package middleware

import (
	"net/http"

	"berthing-hub/shared/httpx"
)

// RequiresMiddleware answers 503 on matching routes while a backing
// dependency (Redis for cached snapshots, say) is not configured.
type RequiresMiddleware struct {
	Name      string
	Available func() bool
	Match     func(*http.Request) bool
}

func (m RequiresMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Match != nil && !m.Match(r) {
			next.ServeHTTP(w, r)
			return
		}
		if m.Available == nil || !m.Available() {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, httpx.CodeFailedPrecondition, m.Name+" not configured", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
