package server

import (
	"context"
	"net/http"
	"strconv"
)

// quotaContextKey is the context key for quota snapshot info.
type quotaContextKey struct{}

// QuotaInfo carries the monthly quota snapshot observed while handling a
// request, for the response-header middleware to write.
type QuotaInfo struct {
	Limit     int64
	Remaining int64
	ResetDate string
}

// SetQuotaInfo stores a quota snapshot in context for the middleware to
// write as response headers.
func SetQuotaInfo(ctx context.Context, q *QuotaInfo) context.Context {
	// Under QuotaHeaderMiddleware the context already holds the slot the
	// middleware reads, so fill that slot in place.
	if slot, ok := ctx.Value(quotaContextKey{}).(*QuotaInfo); ok && slot != nil {
		*slot = *q
		return ctx
	}
	return context.WithValue(ctx, quotaContextKey{}, q)
}

// GetQuotaInfo retrieves the quota snapshot from context, or nil if none
// was set.
func GetQuotaInfo(ctx context.Context) *QuotaInfo {
	if q, ok := ctx.Value(quotaContextKey{}).(*QuotaInfo); ok {
		return q
	}
	return nil
}

// QuotaHeaderMiddleware writes X-RateLimit-* response headers from the
// quota snapshot the proxy handlers record in the request context.
func QuotaHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(context.WithValue(r.Context(), quotaContextKey{}, &QuotaInfo{}))
		wrapped := &quotaResponseWriter{ResponseWriter: w, request: r}
		next.ServeHTTP(wrapped, r)
	})
}

// quotaResponseWriter wraps ResponseWriter to write quota headers lazily,
// once the handler has had a chance to record a snapshot in context.
type quotaResponseWriter struct {
	http.ResponseWriter
	request      *http.Request
	wroteHeaders bool
}

func (rw *quotaResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeaders {
		rw.writeQuotaHeaders()
		rw.wroteHeaders = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *quotaResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeaders {
		rw.writeQuotaHeaders()
		rw.wroteHeaders = true
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *quotaResponseWriter) writeQuotaHeaders() {
	q := GetQuotaInfo(rw.request.Context())
	if q == nil || *q == (QuotaInfo{}) {
		return
	}
	h := rw.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(q.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(q.Remaining, 10))
	if q.ResetDate != "" {
		h.Set("X-RateLimit-Reset", q.ResetDate)
	}
}

func (rw *quotaResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
