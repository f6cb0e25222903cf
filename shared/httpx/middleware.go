package httpx

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"berthing-hub/shared/logx"
)

const routeUnmatched = "unmatched"

type requestKey struct{}

// requestInfo travels in the context from WithRequestID inwards. The mux
// wrapper fills route once a pattern matches; outer layers read it after
// the handler returns.
type requestInfo struct {
	id    string
	route atomic.Value
}

func infoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestKey{}).(*requestInfo)
	return info
}

// WithRequestID accepts a caller's X-Request-ID when it looks sane and
// mints a uuid otherwise.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if !validRequestID(requestID) {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		info := &requestInfo{id: requestID}
		ctx := context.WithValue(r.Context(), requestKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, c := range id {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

func RequestIDFromContext(ctx context.Context) string {
	if info := infoFrom(ctx); info != nil {
		return info.id
	}
	return ""
}

// RouteFromContext is the matched mux pattern, e.g.
// "GET /api/v1/port-calls/{id}", or "unmatched".
func RouteFromContext(ctx context.Context) string {
	if info := infoFrom(ctx); info != nil {
		if route, ok := info.route.Load().(string); ok {
			return route
		}
	}
	return routeUnmatched
}

// WrapServeMux dispatches to mux and falls back to next when no pattern
// matches, so unknown routes get the JSON envelope instead of text.
func WrapServeMux(mux *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, pattern := mux.Handler(r)
		if pattern == "" {
			next.ServeHTTP(w, r)
			return
		}
		if info := infoFrom(r.Context()); info != nil {
			info.route.Store(pattern)
		}
		h.ServeHTTP(w, r)
	})
}

func WithRecover(l logx.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(r.Context())),
				slog.String("route", RouteFromContext(r.Context())),
				slog.String("error_code", CodeInternal),
				slog.Any("error", rec),
			}
			if strings.ToLower(l.Env()) != "prod" {
				attrs = append(attrs, slog.String("stack", string(debug.Stack())))
			}
			l.Error(r.Context(), "panic", "panic recovered", attrs...)
			WriteError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
		}()
		next.ServeHTTP(w, r)
	})
}

type RequestLogOptions struct {
	SkipPaths map[string]bool
}

// WithRequestLog logs one line per request. It must sit inside
// WithRequestID to see the id and route.
func WithRequestLog(l logx.Logger, opts RequestLogOptions, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.SkipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := &StatusWriter{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(sw, r)

		attrs := []slog.Attr{
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("route", RouteFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Int("status_code", sw.Status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("client_ip", ClientIP(r)),
		}
		switch {
		case sw.Status >= http.StatusInternalServerError:
			l.Warn(r.Context(), "http_request", "http request failed", attrs...)
		case r.Method == http.MethodGet:
			l.Debug(r.Context(), "http_request", "http request", attrs...)
		default:
			l.Info(r.Context(), "http_request", "http request", attrs...)
		}
	})
}

// WithTimeout bounds the handler's context and answers 504 when it runs
// over. Panics inside the handler goroutine are not seen by outer layers,
// so WithRecover has to be wrapped inside this one.
func WithTimeout(timeout time.Duration, next http.Handler) http.Handler {
	if timeout <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		done := make(chan struct{})
		buf := &bufferedWriter{header: make(http.Header), status: http.StatusOK}
		go func() {
			defer close(done)
			next.ServeHTTP(buf, r.WithContext(ctx))
		}()

		select {
		case <-done:
			buf.flushTo(w)
		case <-ctx.Done():
			WriteError(w, r, http.StatusGatewayTimeout, CodeTimeout, "request timeout", map[string]any{"timeout_ms": timeout.Milliseconds()})
		}
	})
}

// StatusWriter records the status code written through it.
type StatusWriter struct {
	http.ResponseWriter
	Status int
}

func (w *StatusWriter) WriteHeader(statusCode int) {
	w.Status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

type bufferedWriter struct {
	header http.Header
	status int
	body   []byte
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(statusCode int) { w.status = statusCode }

func (w *bufferedWriter) Write(p []byte) (int, error) {
	w.body = append(w.body, p...)
	return len(p), nil
}

func (w *bufferedWriter) flushTo(dst http.ResponseWriter) {
	for k, v := range w.header {
		dst.Header()[k] = append(dst.Header()[k], v...)
	}
	dst.WriteHeader(w.status)
	_, _ = dst.Write(w.body)
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func ClientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); v != "" {
		first, _, _ := strings.Cut(v, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
