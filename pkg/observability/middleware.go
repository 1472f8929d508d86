package observability

import (
	"net/http"
	"strconv"
	"time"
)

// RouteLabeler maps a request to the route label used in metrics. It must
// return a bounded set of values.
type RouteLabeler func(r *http.Request) string

// MetricsMiddleware records per-request status, duration, in-flight count
// and written bytes. A nil labeler labels every request "unknown".
func MetricsMiddleware(labeler RouteLabeler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			InflightRequests.Inc()
			defer InflightRequests.Dec()

			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := "unknown"
			if labeler != nil {
				route = labeler(r)
			}
			RequestsTotal.WithLabelValues(r.Method, statusClass(rec.statusCode()), route).Inc()
			RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
			if rec.bytes > 0 {
				WireBytesTotal.WithLabelValues(route).Add(float64(rec.bytes))
			}
		})
	}
}

// statusClass renders 404 as "4xx".
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// responseRecorder remembers the first status code and counts body bytes
// as they reach the client, after any content coding.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *responseRecorder) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *responseRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *responseRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
