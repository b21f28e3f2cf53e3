package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	pipelineStages   metric.Int64Counter
	pipelineItems    metric.Int64Counter
	providerCalls    metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDelayed metric.Int64Counter
	rateLimitWait    metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "reelay"
	}
	meter := provider.Meter(name)

	pipelineStages, err := meter.Int64Counter("reelay_pipeline_stage_total")
	if err != nil {
		return nil, err
	}
	pipelineItems, err := meter.Int64Counter("reelay_pipeline_items_total")
	if err != nil {
		return nil, err
	}
	providerCalls, err := meter.Int64Counter("reelay_provider_calls_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("reelay_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDelayed, err := meter.Int64Counter("reelay_rate_limit_delayed_total")
	if err != nil {
		return nil, err
	}
	rateLimitWait, err := meter.Float64Histogram("reelay_rate_limit_wait_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		pipelineStages:   pipelineStages,
		pipelineItems:    pipelineItems,
		providerCalls:    providerCalls,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDelayed: rateLimitDelayed,
		rateLimitWait:    rateLimitWait,
	}, nil
}

// RecordPipelineStage increments pipeline stage outcome counts.
func (m *Metrics) RecordPipelineStage(ctx context.Context, stage, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("stage", strings.TrimSpace(stage)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.pipelineStages.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPipelineItems adds persisted item counts by outcome.
func (m *Metrics) RecordPipelineItems(ctx context.Context, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.pipelineItems.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordProviderCall increments upstream provider call counts.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit admission counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, label string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("label", strings.TrimSpace(label)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDelayed increments counts of callers held at the window edge.
func (m *Metrics) RecordRateLimitDelayed(ctx context.Context, label, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("label", strings.TrimSpace(label)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDelayed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitWait records how long a caller waited for admission.
func (m *Metrics) RecordRateLimitWait(ctx context.Context, label string, wait time.Duration) {
	if m == nil || wait < 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("label", strings.TrimSpace(label)))
	m.rateLimitWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"stage":       {},
	"outcome":     {},
	"provider":    {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
	"label":       {},
	"media_type":  {},
	"window":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
