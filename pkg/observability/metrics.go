// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the tensorgate adapter.
package observability

import "github.com/prometheus/client_golang/prometheus"

// InferBuckets defines histogram buckets for inference latencies, ranging
// from 1ms to 10s.
var InferBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// SizeBuckets defines histogram buckets for body sizes, from 64B to 64MiB.
var SizeBuckets = prometheus.ExponentialBuckets(64, 4, 11)

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route kind.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tensorgate_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route kind.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tensorgate_request_duration_seconds",
			Help:    "Request duration",
			Buckets: InferBuckets,
		},
		[]string{"method", "route"},
	)

	// InflightRequests tracks the number of HTTP requests being served.
	InflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tensorgate_requests_inflight",
			Help: "In-flight requests",
		},
	)

	// WireBytesTotal counts response bytes written to clients by route
	// kind, after compression.
	WireBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tensorgate_wire_bytes_written_total",
			Help: "Response bytes written",
		},
		[]string{"route"},
	)

	// InferRequestsTotal counts runtime dispatches by model and outcome.
	InferRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tensorgate_infer_requests_total",
			Help: "Inference requests",
		},
		[]string{"model", "status"},
	)

	// InferLatency records runtime call latency in seconds.
	InferLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tensorgate_infer_latency_seconds",
			Help:    "Runtime latency",
			Buckets: InferBuckets,
		},
		[]string{"model"},
	)

	// BodyBytes records wire body sizes by direction (request/response) and format.
	BodyBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tensorgate_body_bytes",
			Help:    "Wire body size",
			Buckets: SizeBuckets,
		},
		[]string{"direction", "format"},
	)

	// DecodeErrorsTotal counts requests rejected by the wire decoder.
	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tensorgate_decode_errors_total",
			Help: "Decode failures",
		},
		[]string{"format", "type"},
	)

	// CompressionFallbacksTotal counts responses sent uncompressed because
	// the requested codec failed.
	CompressionFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tensorgate_compression_fallbacks_total",
			Help: "Compression fallbacks to identity",
		},
		[]string{"codec"},
	)

	// AuthRejectedTotal counts requests rejected by authentication.
	AuthRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tensorgate_auth_rejected_total",
			Help: "Authentication rejections",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InflightRequests,
		WireBytesTotal,
		InferRequestsTotal,
		InferLatency,
		BodyBytes,
		DecodeErrorsTotal,
		CompressionFallbacksTotal,
		AuthRejectedTotal,
	)
}
