package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tasksheet-sync/api"

type mutationMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	start         time.Time
	authDuration  time.Duration
	loadDuration  time.Duration
	applyDuration time.Duration
	statusChanged bool
	duplicate     bool
	errorStage    string
}

// newMutationMetrics opens a span for one mutation request and returns the
// context carrying it. Log must be called exactly once to close the span.
func newMutationMetrics(ctx context.Context, logger *log.Logger, route string) (*mutationMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, route)
	m := &mutationMetrics{
		logger: logger,
		span:   span,
		route:  route,
		start:  time.Now(),
	}
	return m, spanCtx
}

func (m *mutationMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *mutationMetrics) ObserveLoad(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.loadDuration = duration
}

func (m *mutationMetrics) ObserveApply(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.applyDuration = duration
}

func (m *mutationMetrics) SetStatusChanged(changed bool) {
	m.statusChanged = changed
}

func (m *mutationMetrics) SetDuplicate(duplicate bool) {
	m.duplicate = duplicate
}

func (m *mutationMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log emits the structured request entry and closes the span.
func (m *mutationMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	fields := log.Fields{
		"route":          m.route,
		"status":         status,
		"total_ms":       durationToMillis(time.Since(m.start)),
		"status_changed": m.statusChanged,
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.loadDuration > 0 {
		fields["load_ms"] = durationToMillis(m.loadDuration)
	}
	if m.applyDuration > 0 {
		fields["apply_ms"] = durationToMillis(m.applyDuration)
	}
	if m.duplicate {
		fields["duplicate"] = true
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Bool("task.status_changed", m.statusChanged),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("error.stage", m.errorStage))
		}
		code, description := severityForStatus(status, err)
		m.span.SetStatus(code, description)
		m.span.End()
	}

	if m.logger != nil {
		m.logger.WithFields(fields).Info("mutation.request.metrics")
	}
}

// severityForStatus maps an HTTP status and error to a span status. Client
// errors are the caller's fault and leave the span unset.
func severityForStatus(status int, err error) (codes.Code, string) {
	switch {
	case status >= 500:
		if err != nil {
			return codes.Error, err.Error()
		}
		return codes.Error, "server error"
	case err != nil:
		return codes.Error, err.Error()
	case status >= 400:
		return codes.Unset, ""
	default:
		return codes.Ok, ""
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
