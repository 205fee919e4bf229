package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry creates every telemetry component from cfg.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext returns the telemetry instance stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown stops the event publisher and flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Flush forces pending spans to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer serves metrics until ctx is done.
func (t *Telemetry) StartMetricsServer(ctx context.Context) error {
	return t.Metrics.StartMetricsServer(ctx)
}

// InstrumentedContext carries the span, logger and timer of one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := FromContext(ctx).WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the operation, recording success or failure on the span.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}

type runStateKey struct{}

type runState struct {
	span  trace.Span
	timer *Timer
}

// WithRunContext starts the telemetry of one CLI run: a root span, a
// run-scoped logger, the runs_started metric and a run.started event.
func WithRunContext(ctx context.Context, runID, command string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID, command)

	logger := tel.Logger.WithRunID(runID).WithField("command", command)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordRunStarted(command)
	_ = tel.Events.PublishRunStarted(runID, command)

	return context.WithValue(spanCtx, runStateKey{}, &runState{span: span, timer: NewTimer()})
}

// EndRunContext completes a run started by WithRunContext.
func EndRunContext(ctx context.Context, runID, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	state, ok := ctx.Value(runStateKey{}).(*runState)
	if !ok {
		return
	}
	if err != nil {
		RecordError(state.span, err)
	} else {
		RecordSuccess(state.span)
	}
	state.span.End()

	duration := state.timer.Duration()
	tel.Metrics.RecordRunCompleted(status, duration)

	if err != nil {
		_ = tel.Events.PublishRunFailed(runID, err.Error())
	} else {
		_ = tel.Events.PublishRunCompleted(runID, status, duration)
	}
}

// RecordRemoteOperation runs fn as one billing API call, tracing and
// timing it. errCode maps a failure to a metric label; it may be nil.
func RecordRemoteOperation(ctx context.Context, resource, method string, errCode func(error) string, fn func(context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	ctx, span := tel.Tracer.StartSpan(ctx, "remote."+resource+"."+method,
		AttrRemoteRes.String(resource),
		AttrRemoteVerb.String(method),
	)
	defer span.End()

	timer := NewTimer()
	err := fn(ctx)
	tel.Metrics.RecordRemoteCall(resource, method, timer.Duration())

	if err != nil {
		code := "unknown"
		if errCode != nil {
			if c := errCode(err); c != "" {
				code = c
			}
		}
		tel.Metrics.RecordRemoteError(resource, method, code)
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	return err
}

// RecordReconcile reports the outcome of a collection reconcile.
func RecordReconcile(ctx context.Context, kind, parentID string, deleted, upserted int, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	tel.Metrics.RecordReconcile(kind, status, deleted, upserted)
	if err == nil {
		_ = tel.Events.PublishCollectionReconciled(kind, parentID, deleted, upserted)
	}
}

// RecordPolicyViolation reports a denied plan entry.
func RecordPolicyViolation(ctx context.Context, kind, key, policy, severity, reason string) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordPolicyViolation(policy, severity)
	_ = tel.Events.PublishPolicyViolation(kind, key, policy, reason)
}
