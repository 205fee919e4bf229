package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/declabill/declabill/pkg/engine"
)

func newTestTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logging.Output = "stdout"
	cfg.Logging.Level = "error"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "production without endpoint", mutate: func(c *Config) { *c = *ProductionConfig() }, wantErr: true},
		{name: "production with endpoint", mutate: func(c *Config) {
			*c = *ProductionConfig()
			c.Tracing.Endpoint = "localhost:4317"
		}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "served metrics without path", mutate: func(c *Config) {
			c.Metrics.ListenAddress = ":9090"
			c.Metrics.Path = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	m.RecordRemoteCall("customers", "list", time.Second)
	m.RecordOperation("customer", "create", "success", time.Second)
	m.RecordError("permanent", "AMBIGUOUS")
	if m.Registry() != nil {
		t.Error("disabled metrics should not have a registry")
	}

	var nilMetrics *Metrics
	nilMetrics.RecordTransition("open", "executed")
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatal(err)
	}

	m.RecordRemoteCall("invoices", "list", 10*time.Millisecond)
	m.RecordRemoteCall("invoices", "list", 20*time.Millisecond)
	m.RecordRemoteError("invoices", "list", "resource_missing")
	m.RecordReconcile("invoice_item", "success", 2, 3)
	m.RecordRunStarted("apply")

	if got := testutil.ToFloat64(m.remoteCalls.WithLabelValues("invoices", "list")); got != 2 {
		t.Errorf("remote calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.remoteErrors.WithLabelValues("invoices", "list", "resource_missing")); got != 1 {
		t.Errorf("remote errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.reconcileChanges.WithLabelValues("invoice_item", "upserted")); got != 3 {
		t.Errorf("upserted = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.activeRuns); got != 1 {
		t.Errorf("active runs = %v, want 1", got)
	}

	m.RecordRunCompleted("succeeded", time.Second)
	if got := testutil.ToFloat64(m.activeRuns); got != 0 {
		t.Errorf("active runs = %v, want 0", got)
	}
}

func TestJournalRecord(t *testing.T) {
	tel := newTestTelemetry(t)

	var mu sync.Mutex
	var types []string
	tel.Events.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
	}, nil)

	j := NewJournal(tel)
	ctx := context.Background()

	records := []engine.OperationRecord{
		{Kind: "customer", EntityID: "cus_1", Action: engine.OperationCreate},
		{Kind: "customer", EntityID: "cus_1", Action: engine.OperationNoop},
		{Kind: "invoice", EntityID: "in_1", Action: engine.OperationTransition, Detail: "open"},
		{Kind: "invoice", EntityID: "in_1", Action: engine.OperationNoop, Detail: "open"},
		{Kind: "invoice", EntityID: "in_1", Action: engine.OperationTransition, Detail: "charge",
			Err: engine.NewValidationError("can not charge an invoice that is not open")},
	}
	for _, rec := range records {
		if err := j.Record(ctx, rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	m := tel.Metrics
	if got := testutil.ToFloat64(m.operations.WithLabelValues("customer", "create", "success")); got != 1 {
		t.Errorf("customer creates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("open", "executed")); got != 1 {
		t.Errorf("open executed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("open", "already_done")); got != 1 {
		t.Errorf("open already_done = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("charge", "rejected")); got != 1 {
		t.Errorf("charge rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues(engine.ErrCodeValidation)); got != 1 {
		t.Errorf("validation errors = %v, want 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{EventTypeEntityApplied, EventTypeInvoiceTransitioned, EventTypeEntityFailed}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestJournalNilTelemetry(t *testing.T) {
	j := NewJournal(nil)
	err := j.Record(context.Background(), engine.OperationRecord{Kind: "coupon", Action: engine.OperationCreate})
	if err != nil {
		t.Errorf("Record() error = %v", err)
	}
}

func TestClassifyError(t *testing.T) {
	class, code := ClassifyError(engine.NewAmbiguityError("two customers"))
	if class != "permanent" || code != engine.ErrCodeAmbiguous {
		t.Errorf("ClassifyError() = %s, %s", class, code)
	}

	class, code = ClassifyError(errors.New("dial tcp: timeout"))
	if class != "transient" || code != "" {
		t.Errorf("ClassifyError() = %s, %s", class, code)
	}
}

func TestEventPublisherAsync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:      true,
		BufferSize:   100,
		MaxBatchSize: 10,
		EnableAsync:  true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	count := 0
	ep.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, FilterByLevel(EventLevelError))

	for i := 0; i < 5; i++ {
		if err := ep.PublishRunFailed("run-1", "boom"); err != nil {
			t.Fatal(err)
		}
		if err := ep.PublishRunStarted("run-1", "apply"); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("delivered %d error events, want 5", count)
	}
}

func TestRecordRemoteOperation(t *testing.T) {
	tel := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	sentinel := errors.New("no such customer")
	err := RecordRemoteOperation(ctx, "customers", "retrieve",
		func(error) string { return "resource_missing" },
		func(context.Context) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want sentinel", err)
	}
	if got := testutil.ToFloat64(tel.Metrics.remoteErrors.WithLabelValues("customers", "retrieve", "resource_missing")); got != 1 {
		t.Errorf("remote errors = %v, want 1", got)
	}

	// Without telemetry in the context the call still runs.
	called := false
	_ = RecordRemoteOperation(context.Background(), "customers", "list", nil, func(context.Context) error {
		called = true
		return nil
	})
	if !called {
		t.Error("fn was not called")
	}
}

func TestRunContext(t *testing.T) {
	tel := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	ctx = WithRunContext(ctx, "run-1", "apply")
	if got := testutil.ToFloat64(tel.Metrics.activeRuns); got != 1 {
		t.Errorf("active runs = %v, want 1", got)
	}
	EndRunContext(ctx, "run-1", "succeeded", nil)
	if got := testutil.ToFloat64(tel.Metrics.runsCompleted.WithLabelValues("succeeded")); got != 1 {
		t.Errorf("completed runs = %v, want 1", got)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug").String() != "debug" {
		t.Error("debug")
	}
	if ParseLevel("nonsense").String() != "info" {
		t.Error("default should be info")
	}
}
