package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "github.com/plexoapp/plexo/api"
	tasksSpanName    = "plexo.api.tasks"
	tasksEventName   = "tasks.request.metrics"
	tasksEventDomain = "plexo.api"
)

// taskRequestMetrics collects per-request timings for the task endpoints and
// emits them once, as a structured log entry plus a span, when the request
// finishes.
type taskRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time
	route  string

	fetchDuration     time.Duration
	resolveDuration   time.Duration
	encodeDuration    time.Duration
	relationsResolved int
	errorStage        string
}

// newTaskRequestMetrics opens the request span. The returned context carries
// it and should replace the request context for downstream calls.
func newTaskRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*taskRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, tasksSpanName)
	return &taskRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
	}, spanCtx
}

func (m *taskRequestMetrics) ObserveFetch(d time.Duration) {
	if d > 0 {
		m.fetchDuration = d
	}
}

func (m *taskRequestMetrics) ObserveResolve(d time.Duration) {
	if d > 0 {
		m.resolveDuration = d
	}
}

func (m *taskRequestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *taskRequestMetrics) SetRelationsResolved(count int) {
	if count < 0 {
		count = 0
	}
	m.relationsResolved = count
}

func (m *taskRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log ends the span and writes the observability event. Call it exactly once
// per request, from a defer.
func (m *taskRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int64("http.status_code", int64(status)),
		attribute.Float64("plexo.tasks.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Int("plexo.tasks.relations_resolved", m.relationsResolved),
	}
	if m.fetchDuration > 0 {
		attrs = append(attrs, attribute.Float64("plexo.tasks.fetch_ms", durationToMillis(m.fetchDuration)))
	}
	if m.resolveDuration > 0 {
		attrs = append(attrs, attribute.Float64("plexo.tasks.resolve_ms", durationToMillis(m.resolveDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("plexo.tasks.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("plexo.tasks.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	m.span.SetAttributes(attrs...)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", tasksEventName),
		attribute.String("event.domain", tasksEventDomain),
		attribute.String("severity_text", severityText),
	}, attrs...)
	m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
	if severityText == "ERROR" {
		description := m.errorStage
		if err != nil {
			description = err.Error()
		}
		if description == "" {
			description = http.StatusText(status)
		}
		m.span.SetStatus(codes.Error, description)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      tasksEventName,
		"event.domain":    tasksEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesAsFields(attrs),
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func attributesAsFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
