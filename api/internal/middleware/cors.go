package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"berthing-hub/shared/httpx"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, X-Request-ID"
)

// CORSMiddleware lets browser dashboards read the API. Origins come from
// CORS_ORIGINS and may be exact ("https://ops.example"), a subdomain
// wildcard ("https://*.ops.example") or "*". An empty list allows any
// origin. The API carries no credentials, so none are ever allowed.
type CORSMiddleware struct {
	Origins []string
	MaxAge  time.Duration
	Skip    func(*http.Request) bool
}

func (m CORSMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" || (m.Skip != nil && m.Skip(r)) {
			next.ServeHTTP(w, r)
			return
		}

		allowed, all := m.match(origin)
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		if !all {
			w.Header().Add("Vary", "Origin")
		}
		if !allowed {
			if preflight {
				httpx.WriteError(w, r, http.StatusForbidden, httpx.CodeForbidden, "origin not allowed", map[string]any{"origin": origin})
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if all {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		if !preflight {
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Methods", corsMethods)
		w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
		if m.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(m.MaxAge/time.Second)))
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// match reports whether origin is allowed and whether that is because
// every origin is.
func (m CORSMiddleware) match(origin string) (allowed bool, all bool) {
	if len(m.Origins) == 0 {
		return true, true
	}
	for _, pattern := range m.Origins {
		pattern = strings.TrimSpace(pattern)
		switch {
		case pattern == "*":
			return true, true
		case strings.EqualFold(pattern, origin):
			return true, false
		case originWildcard(pattern, origin):
			return true, false
		}
	}
	return false, false
}

func originWildcard(pattern, origin string) bool {
	scheme, host, ok := strings.Cut(pattern, "://*.")
	if !ok {
		return false
	}
	prefix := strings.ToLower(scheme + "://")
	origin = strings.ToLower(origin)
	if !strings.HasPrefix(origin, prefix) {
		return false
	}
	sub, found := strings.CutSuffix(origin[len(prefix):], "."+strings.ToLower(host))
	return found && sub != "" && !strings.Contains(sub, "/")
}
