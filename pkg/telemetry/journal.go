package telemetry

import (
	"context"
	"errors"

	"github.com/declabill/declabill/pkg/engine"
)

// Journal turns engine decisions into metrics and events. It implements
// engine.Journal and never fails.
type Journal struct {
	metrics *Metrics
	events  *EventPublisher
}

// NewJournal creates a journal bridge over t. A nil t yields a journal
// that drops every record.
func NewJournal(t *Telemetry) *Journal {
	if t == nil {
		return &Journal{}
	}
	return &Journal{metrics: t.Metrics, events: t.Events}
}

// Record implements engine.Journal.
func (j *Journal) Record(_ context.Context, rec engine.OperationRecord) error {
	status := "success"
	if rec.Err != nil {
		status = "failed"
	}
	j.metrics.RecordOperation(rec.Kind, string(rec.Action), status, rec.Duration)

	if rec.Err != nil {
		class, code := ClassifyError(rec.Err)
		j.metrics.RecordError(class, code)
		if rec.Detail != "" {
			j.metrics.RecordTransition(rec.Detail, "rejected")
		}
		key := rec.UniqueKey
		if key == "" {
			key = rec.EntityID
		}
		_ = j.events.PublishEntityFailed(rec.Kind, key, string(rec.Action), rec.Err.Error())
		return nil
	}

	switch {
	case rec.Action == engine.OperationTransition:
		j.metrics.RecordTransition(rec.Detail, "executed")
		verb := engine.LifecycleVerb(rec.Detail)
		_ = j.events.PublishInvoiceTransitioned(rec.EntityID, rec.Detail,
			string(engine.SourceStatus(verb)), string(engine.TargetStatus(verb)))
	case rec.Action == engine.OperationNoop && rec.Detail != "":
		j.metrics.RecordTransition(rec.Detail, "already_done")
	case rec.Action.IsMutating():
		_ = j.events.PublishEntityApplied(rec.Kind, rec.EntityID, string(rec.Action), rec.Duration)
	}
	return nil
}

// ClassifyError returns the class and code labels of err. Errors not raised
// by the engine are reported as transient, since they come from the
// transport.
func ClassifyError(err error) (class, code string) {
	var engErr *engine.EngineError
	if errors.As(err, &engErr) {
		return string(engErr.Class), engErr.Code
	}
	return string(engine.ErrorClassTransient), ""
}

var _ engine.Journal = (*Journal)(nil)
