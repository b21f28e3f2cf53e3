package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics exposes request-level instruments for the HTTP server.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// NewHTTPMetrics configures the HTTP server instruments.
func NewHTTPMetrics(cfg Config, provider metric.MeterProvider) (*HTTPMetrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "reelay"
	}
	meter := provider.Meter(name)

	requests, err := meter.Int64Counter("reelay_http_requests_total")
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("reelay_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	inflight, err := meter.Int64UpDownCounter("reelay_http_requests_in_flight")
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requests: requests,
		duration: duration,
		inflight: inflight,
	}, nil
}

// GinMiddleware records request counts, latency, and in-flight gauge.
func (m *HTTPMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		start := time.Now()
		m.inflight.Add(ctx, 1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := FilterAttributes(
			attribute.String("endpoint", route),
			attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
		)

		m.inflight.Add(ctx, -1)
		m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
		m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
	}
}
