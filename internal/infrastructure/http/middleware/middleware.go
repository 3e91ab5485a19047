// Package middleware provides the gateway's HTTP middleware chain
// following the Chain of Responsibility pattern, adapted from Gin
// middleware to plain net/http handlers so it composes with chi.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alchemorsel/gateway/internal/infrastructure/config"
)

type requestIDKey struct{}

// RequestIDFromContext returns the request ID stashed by RequestID, or ""
// if none was set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Middleware holds the shared state the chain's handlers close over.
type Middleware struct {
	cfg     *config.Config
	logger  *zap.Logger
	limiter *rate.Limiter
	tracer  trace.Tracer
	metrics *Metrics
}

// New constructs a Middleware instance.
func New(cfg *config.Config, logger *zap.Logger) *Middleware {
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSec), cfg.RateLimit.BurstSize)
	return &Middleware{
		cfg:     cfg,
		logger:  logger,
		limiter: limiter,
		tracer:  otel.Tracer("object-gateway"),
		metrics: NewMetrics(),
	}
}

// statusRecorder captures the status code and byte count a handler wrote,
// since http.ResponseWriter doesn't expose either after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// RequestID assigns a request ID (honoring an inbound X-Request-ID) and
// echoes it back on the response.
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger writes one structured log line per request, skipping the health
// check path to keep liveness-probe traffic out of the logs.
func (m *Middleware) Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		if r.URL.Path == m.cfg.Monitoring.HealthCheckPath {
			return
		}

		fields := []zap.Field{
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("latency", time.Since(start)),
			zap.String("user_agent", r.UserAgent()),
		}

		switch {
		case rec.status >= 500:
			m.logger.Error("server error", fields...)
		case rec.status >= 400:
			m.logger.Warn("client error", fields...)
		default:
			m.logger.Info("request completed", fields...)
		}

		m.metrics.RecordRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// Recovery recovers from panics and answers with a plain 500, logging the
// stack trace for diagnosis.
func (m *Middleware) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("panic recovered",
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.Any("error", err),
					zap.String("stack", string(debug.Stack())),
				)
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Security sets the fixed set of response security headers.
func (m *Middleware) Security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies a token-bucket limiter shared across all requests, used
// to bound origin-bypass traffic. Disabled unless rate_limit.enable is set.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.cfg.RateLimit.Enable {
			next.ServeHTTP(w, r)
			return
		}
		if !m.limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Tracing starts a span per request when tracing is enabled.
func (m *Middleware) Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.cfg.Monitoring.EnableTracing {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := m.tracer.Start(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.String()),
				attribute.String("request.id", RequestIDFromContext(r.Context())),
			),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(
			attribute.Int("http.status_code", rec.status),
			attribute.Int("http.response_size", rec.bytes),
		)
	})
}

// Metrics tracks request counts and latency histograms via prometheus.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	requestCount    *prometheus.CounterVec
}

// NewMetrics registers and returns the request metrics collectors.
func NewMetrics() *Metrics {
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
	requestCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)
	prometheus.MustRegister(requestDuration, requestCount)
	return &Metrics{requestDuration: requestDuration, requestCount: requestCount}
}

// RecordRequest records one request's outcome. Path is deliberately not a
// label: object keys are high-cardinality and would blow up the series
// count.
func (m *Metrics) RecordRequest(method, _ string, status int, duration time.Duration) {
	statusStr := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, statusStr).Observe(duration.Seconds())
	m.requestCount.WithLabelValues(method, statusStr).Inc()
}
