package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"metagraph/internal/config"
	"metagraph/internal/core"
)

// telemetry holds the recorder and tracer picked by the observe config and
// whatever has to be flushed when the command ends.
type telemetry struct {
	metrics  core.MetricsRecorder
	tracer   core.Tracer
	stats    func() (any, error)
	shutdown []func(context.Context) error
}

func openTelemetry(cfg config.Observe, stderr io.Writer) (*telemetry, error) {
	t := &telemetry{}
	switch cfg.Metrics {
	case "prometheus":
		reg := prometheus.NewRegistry()
		t.metrics = core.NewPrometheusMetricsRecorder(reg)
		t.stats = func() (any, error) { return gatherSamples(reg) }
	default:
		rec := core.NewExpvarMetricsRecorder("")
		t.metrics = rec
		t.stats = func() (any, error) { return rec.Snapshot(), nil }
	}
	if cfg.Tracing == "none" || cfg.Tracing == "" {
		return t, nil
	}

	w := stderr
	if cfg.TraceFile != "" {
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		w = f
		t.shutdown = append(t.shutdown, func(context.Context) error { return f.Close() })
	}
	switch cfg.Tracing {
	case "json":
		t.tracer = core.NewJSONTracer(w)
	case "otel":
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("create span exporter: %w", err), t.close(context.Background()))
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exporter),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		// provider first so spans flush before the file closes
		t.shutdown = append([]func(context.Context) error{tp.Shutdown}, t.shutdown...)
		t.tracer = core.NewOTelTracer(tp)
	}
	return t, nil
}

func (t *telemetry) close(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// gatherSamples flattens counters and histogram counts into
// name{label="value",...} keys.
func gatherSamples(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)
			suffix := "{" + strings.Join(labels, ",") + "}"
			switch {
			case m.GetCounter() != nil:
				out[mf.GetName()+suffix] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[mf.GetName()+"_count"+suffix] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
