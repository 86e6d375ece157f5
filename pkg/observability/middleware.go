package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// vendorKey is a private context key holding the detected wire format label.
type vendorKey struct{}

// SetVendor records the detected wire format of the current request so the
// metrics middleware can label it after the handler returns. It is a no-op
// when the request did not pass through MetricsMiddleware.
func SetVendor(ctx context.Context, vendor string) {
	if holder, ok := ctx.Value(vendorKey{}).(*string); ok {
		*holder = vendor
	}
}

// MetricsMiddleware wraps an HTTP handler to record request metrics.
//
// It captures:
//   - polygate_requests_total (counter): incremented per request with method, status class, and vendor labels
//   - polygate_request_duration_seconds (histogram): request duration with method and vendor labels
//   - polygate_streaming_connections_active (gauge): incremented while a streaming response is in flight
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// The handler fills this in once format detection has run.
		vendor := "unknown"
		r = r.WithContext(context.WithValue(r.Context(), vendorKey{}, &vendor))

		// Detect streaming from the Accept header.
		isStreaming := r.Header.Get("Accept") == "text/event-stream"

		if isStreaming {
			StreamingConnections.Inc()
			defer StreamingConnections.Dec()
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()

		// Build a status class label like "2xx", "4xx", "5xx".
		statusStr := strconv.Itoa(sw.status/100) + "xx"

		RequestsTotal.WithLabelValues(r.Method, statusStr, vendor).Inc()
		RequestDuration.WithLabelValues(r.Method, vendor).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

// WriteHeader captures the status code and delegates to the underlying writer.
func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write delegates to the underlying writer and marks the status as written.
func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush delegates to the underlying writer if it implements http.Flusher.
// This is essential for streaming support.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter, enabling http.ResponseController
// and similar utilities to access the original writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
