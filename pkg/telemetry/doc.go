// Package telemetry provides observability for declabill.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and an in-process event publisher
// behind one Telemetry value.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//	ctx = telemetry.WithRunContext(ctx, runID, "apply")
//	defer telemetry.EndRunContext(ctx, runID, status, err)
//
// WithContext also attaches the zerolog logger to the context, so packages
// logging through zerolog's log.Ctx write to the configured sink.
//
// # Engine journal
//
// Journal implements engine.Journal. Pass it to the engine (usually next to
// the SQLite journal in an engine.MultiJournal) to get per-decision metrics
// and events:
//
//	journal := engine.MultiJournal{store, telemetry.NewJournal(tel)}
//
// # Remote calls
//
// The HTTP client wraps every call in RecordRemoteOperation, which starts a
// span named remote.<resource>.<method> and feeds the remote_calls_total,
// remote_call_duration_seconds and remote_errors_total metrics.
//
// # Metrics
//
// All metrics share the configured namespace (declabill by default):
//
//   - runs_started_total, runs_completed_total, run_duration_seconds, active_runs
//   - remote_calls_total, remote_call_duration_seconds, remote_errors_total
//   - operations_total, operation_duration_seconds
//   - reconciles_total, reconcile_changes_total
//   - invoice_transitions_total
//   - errors_by_class_total, errors_by_code_total
//   - policy_violations_total
//
// The endpoint is only served when MetricsConfig.ListenAddress is set, which
// the long-running watch command does.
//
// # Events
//
// Events are delivered to subscribers in publication order. With
// EventsConfig.EnableAsync the publisher buffers them and delivers from a
// background goroutine; a full buffer drops events. LogSubscriber hands
// events to a zerolog logger and JSONSubscriber writes them as JSON lines;
// the CLI wires both (the latter behind --events).
package telemetry
