package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes per-operation call counts and latency totals
// through expvar, so /debug/vars shows graph activity without extra services.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  map[string]*OperationStats
}

// OperationStats aggregates calls to one graph operation.
type OperationStats struct {
	Calls   int64   `json:"calls"`
	Errors  int64   `json:"errors"`
	TotalMS float64 `json:"total_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated "metagraph_metrics_<n>" name when empty.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("metagraph_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarMetricsRecorder{name: name, ops: make(map[string]*OperationStats)}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar key.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the current aggregates.
func (r *ExpvarMetricsRecorder) Snapshot() map[string]OperationStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]OperationStats, len(r.ops))
	for op, stats := range r.ops {
		out[op] = *stats
	}
	return out
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.ops[operation]
	if !ok {
		stats = &OperationStats{}
		r.ops[operation] = stats
	}
	stats.Calls++
	if !success {
		stats.Errors++
	}
	stats.TotalMS += ms
	if ms > stats.MaxMS {
		stats.MaxMS = ms
	}
}

// SpanRecord is one finished span written by JSONTracer.
type SpanRecord struct {
	Operation  string    `json:"op"`
	Depth      int       `json:"depth"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// JSONTracer writes finished spans as JSON lines and keeps them in memory.
// Spans started under another span record their nesting depth.
type JSONTracer struct {
	mu    sync.Mutex
	spans []SpanRecord
	enc   *json.Encoder
}

// NewJSONTracer returns a tracer writing to w. A nil writer only retains spans.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Spans returns the finished spans in completion order.
func (t *JSONTracer) Spans() []SpanRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SpanRecord(nil), t.spans...)
}

type spanDepthKey struct{}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	depth, _ := ctx.Value(spanDepthKey{}).(int)
	span := &jsonSpan{tracer: t, rec: SpanRecord{Operation: operation, Depth: depth, StartedAt: time.Now().UTC()}}
	return context.WithValue(ctx, spanDepthKey{}, depth+1), span
}

type jsonSpan struct {
	tracer *JSONTracer
	rec    SpanRecord
}

func (s *jsonSpan) End(err error) {
	s.rec.OK = err == nil
	if err != nil {
		s.rec.Error = err.Error()
	}
	s.rec.DurationMS = float64(time.Since(s.rec.StartedAt)) / float64(time.Millisecond)

	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.spans = append(s.tracer.spans, s.rec)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(s.rec)
	}
}
