package coverbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"pkt.systems/pslog"

	"pkt.systems/coverbridge/internal/lang"
	"pkt.systems/coverbridge/internal/version"
	"pkt.systems/coverbridge/mcp"
)

const (
	instrumentationName = "pkt.systems/coverbridge"
	exportTimeout       = 10 * time.Second
)

// telemetryConfig selects the exporters and listeners of a telemetry bundle.
// The zero value records into no-op providers.
type telemetryConfig struct {
	OTLPEndpoint     string
	MetricsListen    string
	PprofListen      string
	ProfilingMetrics bool
}

// telemetry owns the providers of one server and the instruments tool calls
// and test runs record into.
type telemetry struct {
	tracer         trace.Tracer
	toolCalls      metric.Int64Counter
	toolDuration   metric.Float64Histogram
	runnerDuration metric.Float64Histogram
	logger         pslog.Logger

	mu      sync.Mutex
	addrs   map[string]net.Addr
	closers []func(context.Context) error
}

var _ mcp.ToolObserver = (*telemetry)(nil)

func setupTelemetry(ctx context.Context, cfg telemetryConfig, logger pslog.Logger) (_ *telemetry, err error) {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	cfg.OTLPEndpoint = strings.TrimSpace(cfg.OTLPEndpoint)
	cfg.MetricsListen = strings.TrimSpace(cfg.MetricsListen)
	cfg.PprofListen = strings.TrimSpace(cfg.PprofListen)
	if cfg.ProfilingMetrics && cfg.MetricsListen == "" {
		return nil, fmt.Errorf("telemetry: profiling metrics require metrics listen address")
	}

	t := &telemetry{logger: logger, addrs: make(map[string]net.Addr)}
	defer func() {
		if err != nil {
			_ = t.Shutdown(context.Background())
		}
	}()

	var tp trace.TracerProvider = tracenoop.NewTracerProvider()
	var mp metric.MeterProvider = metricnoop.NewMeterProvider()
	exporting := cfg.OTLPEndpoint != "" || cfg.MetricsListen != ""
	if exporting {
		res, err := resource.New(ctx,
			resource.WithSchemaURL(semconv.SchemaURL),
			resource.WithAttributes(
				semconv.ServiceName("coverbridge"),
				semconv.ServiceVersion(version.Current()),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("telemetry: build resource: %w", err)
		}
		if cfg.OTLPEndpoint != "" {
			target, err := resolveOTLPTarget(cfg.OTLPEndpoint)
			if err != nil {
				return nil, err
			}
			provider, err := newTracerProvider(ctx, target, res)
			if err != nil {
				return nil, err
			}
			t.closers = append(t.closers, provider.Shutdown)
			tp = provider
			otel.SetTracerProvider(provider)
			logger.Info("telemetry.tracing.enabled", "protocol", target.protocol, "endpoint", target.endpoint, "insecure", target.insecure)
		}
		if cfg.MetricsListen != "" {
			registry := prometheus.NewRegistry()
			exporterOpts := []otelprometheus.Option{otelprometheus.WithRegisterer(registry)}
			if cfg.ProfilingMetrics {
				exporterOpts = append(exporterOpts, otelprometheus.WithProducer(otelruntime.NewProducer()))
			}
			exporter, err := otelprometheus.New(exporterOpts...)
			if err != nil {
				return nil, fmt.Errorf("telemetry: start prometheus exporter: %w", err)
			}
			provider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter))
			t.closers = append(t.closers, provider.Shutdown)
			mp = provider
			otel.SetMeterProvider(provider)
			if cfg.ProfilingMetrics {
				if err := startRuntimeMetrics(provider); err != nil {
					return nil, err
				}
				logger.Info("profiling.metrics.enabled")
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := t.serve("metrics", cfg.MetricsListen, mux); err != nil {
				return nil, err
			}
		}
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
			logger.Warn("telemetry.exporter.error", "error", err)
		}))
	}
	if cfg.PprofListen != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		if err := t.serve("pprof", cfg.PprofListen, mux); err != nil {
			return nil, err
		}
	}

	if err := t.instrument(tp, mp); err != nil {
		return nil, err
	}
	return t, nil
}

// instrument creates the coverbridge instruments from the given providers.
func (t *telemetry) instrument(tp trace.TracerProvider, mp metric.MeterProvider) error {
	t.tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(version.Current()))
	meter := mp.Meter(instrumentationName, metric.WithInstrumentationVersion(version.Current()))
	var err error
	if t.toolCalls, err = meter.Int64Counter("coverbridge.tool.calls",
		metric.WithDescription("Tool calls by tool, status and language"),
	); err != nil {
		return fmt.Errorf("telemetry: tool calls counter: %w", err)
	}
	if t.toolDuration, err = meter.Float64Histogram("coverbridge.tool.duration",
		metric.WithDescription("Tool call latency"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("telemetry: tool duration histogram: %w", err)
	}
	if t.runnerDuration, err = meter.Float64Histogram("coverbridge.runner.duration",
		metric.WithDescription("Test runner wall time"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("telemetry: runner duration histogram: %w", err)
	}
	return nil
}

// StartTool opens the span of one tool call. The returned function records
// the call counter and latency and ends the span.
func (t *telemetry) StartTool(ctx context.Context, call mcp.ToolCall) (context.Context, func(status string, err error)) {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "mcp.tool "+call.Tool,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("tool", call.Tool),
			attribute.String("language", call.Language),
			attribute.String("correlation_id", call.CorrelationID),
		),
	)
	return ctx, func(status string, err error) {
		defer span.End()
		attrs := metric.WithAttributes(
			attribute.String("tool", call.Tool),
			attribute.String("status", status),
			attribute.String("language", call.Language),
		)
		t.toolCalls.Add(ctx, 1, attrs)
		t.toolDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		span.SetAttributes(attribute.String("status", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
			return
		}
		span.SetStatus(codes.Ok, "")
	}
}

// observeRun records one test run in coverbridge.runner.duration.
func (t *telemetry) observeRun(ctx context.Context, language lang.Language, d time.Duration, runErr error) {
	status := "success"
	if runErr != nil {
		status = "error"
	}
	t.runnerDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("language", language.String()),
		attribute.String("status", status),
	))
}

// addr returns the bound address of the named listener.
func (t *telemetry) addr(name string) net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addrs[name]
}

func (t *telemetry) serve(name, listen string, handler http.Handler) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("telemetry: %s listen: %w", name, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Warn("telemetry.serve_error", "listener", name, "error", err)
		}
	}()
	t.mu.Lock()
	t.addrs[name] = ln.Addr()
	t.closers = append(t.closers, func(ctx context.Context) error {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server shutdown: %w", name, err)
		}
		return nil
	})
	t.mu.Unlock()
	t.logger.Info("telemetry.listener.enabled", "listener", name, "addr", ln.Addr().String())
	return nil
}

// Shutdown stops the listeners and flushes the providers in reverse start
// order. It is safe to call more than once.
func (t *telemetry) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	closers := t.closers
	t.closers = nil
	t.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			t.logger.Warn("telemetry.shutdown.failure", "error", err)
			errs = append(errs, err)
		}
	}
	if len(closers) > 0 && len(errs) == 0 {
		t.logger.Info("telemetry.shutdown.complete")
	}
	return errors.Join(errs...)
}

func newTracerProvider(ctx context.Context, target otlpTarget, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch target.protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(target.endpoint),
			otlptracegrpc.WithTimeout(exportTimeout),
		}
		if target.insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		} else {
			opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, ""))))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(target.endpoint),
			otlptracehttp.WithTimeout(exportTimeout),
		}
		if target.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if target.path != "" {
			opts = append(opts, otlptracehttp.WithURLPath(target.path))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("telemetry: unsupported protocol %q", target.protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter (%s): %w", target.protocol, err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	), nil
}

var (
	runtimeMetricsOnce sync.Once
	runtimeMetricsErr  error
)

// startRuntimeMetrics starts the Go runtime instrumentation once per process.
func startRuntimeMetrics(provider metric.MeterProvider) error {
	runtimeMetricsOnce.Do(func() {
		runtimeMetricsErr = otelruntime.Start(otelruntime.WithMeterProvider(provider))
	})
	return runtimeMetricsErr
}

type otlpTarget struct {
	protocol string
	endpoint string
	path     string
	insecure bool
}

var otlpSchemes = map[string]struct {
	protocol string
	insecure bool
	port     string
}{
	"grpc":  {"grpc", true, "4317"},
	"grpcs": {"grpc", false, "4317"},
	"http":  {"http", true, "4318"},
	"https": {"http", false, "4318"},
}

// resolveOTLPTarget parses a collector endpoint. A bare host[:port] selects
// insecure gRPC.
func resolveOTLPTarget(raw string) (otlpTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return otlpTarget{}, fmt.Errorf("telemetry: empty endpoint")
	}
	if !strings.Contains(raw, "://") {
		raw = "grpc://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return otlpTarget{}, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	scheme, ok := otlpSchemes[strings.ToLower(u.Scheme)]
	if !ok {
		return otlpTarget{}, fmt.Errorf("telemetry: unknown scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return otlpTarget{}, fmt.Errorf("telemetry: missing endpoint host")
	}
	endpoint := u.Host
	if u.Port() == "" {
		endpoint = net.JoinHostPort(u.Hostname(), scheme.port)
	}
	return otlpTarget{
		protocol: scheme.protocol,
		endpoint: endpoint,
		path:     strings.TrimSuffix(u.Path, "/"),
		insecure: scheme.insecure,
	}, nil
}
