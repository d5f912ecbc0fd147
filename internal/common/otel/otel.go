package otel

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-logr/stdr"
	logrus "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/armadaproject/goldensignals/internal/common/otel/configuration"
)

// otelProviders is a collection of misc OTEL providers to pass around
type otelProviders struct {
	tp         trace.TracerProvider
	propagator propagation.TextMapPropagator
}

func (p *otelProviders) shutdown(ctx context.Context) error {
	if v, ok := p.tp.(*sdktrace.TracerProvider); ok {
		return v.Shutdown(ctx)
	}
	return nil
}


func getProviders(ctx context.Context, c *configuration.OtelConfig, r *resource.Resource, out io.Writer) (*otelProviders, error) {
	var traceExp sdktrace.SpanExporter
	var err error

	switch c.ExportStrategy {
	case configuration.ExportStdout:
		traceExp, err = newStdOutTraceExporter(out)
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
	case configuration.ExportHttp:
		traceExp, err = newHttpTraceExporter(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating http trace exporter: %w", err)
		}
	case configuration.ExportGrpc:
		traceExp, err = newGrpcTraceExporter(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating grpc trace exporter: %w", err)
		}
	case configuration.ExportNone, "":
		// Spans are still created with real ids so exemplars and span attributes work; they are just not exported.
	default:
		return nil, fmt.Errorf("unknown export strategy %q", c.ExportStrategy)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(r)}
	if traceExp != nil {
		opts = append(opts, sdktrace.WithBatcher(traceExp))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

	return &otelProviders{tp: tp, propagator: propagator}, nil
}

// LoadOtel loads the configured trace implementation and sets it as the global OTEL tracer provider.
// The returned closer flushes and shuts down the provider.
// OTLP exporters can be further configured using OTEL environment variables.
func LoadOtel(ctx context.Context, c *configuration.OtelConfig, r *resource.Resource) (closer func(ctx context.Context) error, e error) {
	providers, err := getProviders(ctx, c, r, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("getting otel providers: %w", err)
	}

	otel.SetTracerProvider(providers.tp)
	otel.SetTextMapPropagator(providers.propagator)
	otel.SetErrorHandler(NewDefaultErrorHandler(logrus.NewEntry(logrus.StandardLogger())))

	stdr.SetVerbosity(c.LogLevel)
	otel.SetLogger(stdr.New(log.New(os.Stdout, "", log.LstdFlags|log.Lshortfile)))

	return providers.shutdown, nil
}

// newStdOutTraceExporter returns a console exporter.
func newStdOutTraceExporter(out io.Writer) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(
		stdouttrace.WithWriter(out),
		stdouttrace.WithPrettyPrint(),
	)
}

func newHttpTraceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient())
	if err != nil {
		return nil, fmt.Errorf("creating OTLP HTTP trace exporter: %w", err)
	}
	return exporter, nil
}

func newGrpcTraceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("creating OTLP gRPC trace exporter: %w", err)
	}
	return exporter, nil
}

// NewResource returns a resource describing this application.
func NewResource(serviceName, namespace string) (*resource.Resource, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceNamespaceKey.String(namespace),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}
	return r, nil
}

// DefaultErrorHandler sends errors raised inside the OTEL SDK, such as failed exports, to the application log.
type DefaultErrorHandler struct {
	log *logrus.Entry
}

func NewDefaultErrorHandler(log *logrus.Entry) *DefaultErrorHandler {
	return &DefaultErrorHandler{log: log}
}

func (h *DefaultErrorHandler) Handle(err error) {
	h.log.WithError(err).Warn("OTEL error")
}
