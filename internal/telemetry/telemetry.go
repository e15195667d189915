package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/dgellow/prima-front/internal/log"
)

// Config is read from the standard OpenTelemetry environment variables
type Config struct {
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Disabled    bool    `env:"OTEL_SDK_DISABLED"`
	ServiceName string  `env:"OTEL_SERVICE_NAME"`
	SampleRatio float64 `env:"PRIMA_FRONT_TRACE_SAMPLE_RATIO" envDefault:"1"`
}

// Enabled reports whether spans should be exported
func (c Config) Enabled() bool {
	return !c.Disabled && c.Endpoint != ""
}

// LoadConfig parses the tracing settings from the environment
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse tracing env: %w", err)
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return Config{}, fmt.Errorf("PRIMA_FRONT_TRACE_SAMPLE_RATIO must be between 0 and 1, got %v", cfg.SampleRatio)
	}
	return cfg, nil
}

// Setup installs a global tracer provider exporting over OTLP/HTTP.
// Tracing is opt-in: without an endpoint it returns a no-op shutdown and
// registers nothing. The returned shutdown flushes pending spans.
func Setup(ctx context.Context, cfg Config, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled() {
		return noop, nil
	}
	if cfg.ServiceName != "" {
		serviceName = cfg.ServiceName
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
	)
	if err != nil {
		return noop, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("creating trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.LogInfoWithFields("telemetry", "Tracing enabled", map[string]any{
		"endpoint":     cfg.Endpoint,
		"service":      serviceName,
		"sample_ratio": cfg.SampleRatio,
	})
	return tp.Shutdown, nil
}

// Handler wraps an inbound handler so each request gets a server span
func Handler(h http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(h, operation,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Transport wraps an outbound transport so calls to the identity provider
// and the backend carry trace context. A nil base uses http.DefaultTransport.
func Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}
