package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/declabill/declabill/pkg/billing"
	"github.com/declabill/declabill/pkg/config"
	"github.com/declabill/declabill/pkg/engine"
	"github.com/declabill/declabill/pkg/locks"
	"github.com/declabill/declabill/pkg/policy"
	"github.com/declabill/declabill/pkg/remote"
	"github.com/declabill/declabill/pkg/stores"
	"github.com/declabill/declabill/pkg/telemetry"
)

// app holds the components one command talks to.
type app struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	api      remote.API
	store    *stores.SQLiteStore
	rdb      *redis.Client
	svc      *billing.Service
	policies *policy.Engine
	events   io.Closer
}

// appOptions selects the components a command needs.
type appOptions struct {
	remote   bool
	policies bool
	journal  bool

	// policyMetadata is handed to policies as input.context.metadata.
	policyMetadata map[string]interface{}
}

// newApp wires telemetry, the provider client, the journal, the key locker
// and the policy engine. The returned context carries the telemetry.
func newApp(ctx context.Context, s *config.Settings, opts appOptions) (*app, context.Context, error) {
	a := &app{settings: s}

	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	cfg.Environment = environment
	cfg.Logging.Level = s.LogLevel
	cfg.Metrics.ListenAddress = s.MetricsAddr
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	a.tel = tel
	ctx = tel.WithContext(ctx)
	if err := a.subscribeEvents(); err != nil {
		a.Close()
		return nil, ctx, err
	}
	if err := tel.StartMetricsServer(ctx); err != nil {
		a.Close()
		return nil, ctx, err
	}

	if opts.policies {
		if a.policies, err = newPolicyEngine(ctx, s, opts.policyMetadata); err != nil {
			a.Close()
			return nil, ctx, err
		}
	}

	if !opts.remote {
		return a, ctx, nil
	}

	if err := s.Validate(); err != nil {
		a.Close()
		return nil, ctx, err
	}
	if a.api, err = newAPI(s); err != nil {
		a.Close()
		return nil, ctx, err
	}

	journals := engine.MultiJournal{telemetry.NewJournal(tel)}
	if opts.journal && s.StatePath != "" {
		if a.store, err = openStore(ctx, s.StatePath); err != nil {
			a.Close()
			return nil, ctx, err
		}
		journals = append(journals, a.store)
	}

	var locker engine.KeyLocker = engine.NewLocalLocker()
	if s.RedisURL != "" {
		if a.rdb, err = locks.Dial(ctx, s.RedisURL); err != nil {
			a.Close()
			return nil, ctx, err
		}
		locker = locks.NewRedisLocker(a.rdb, locks.RedisConfig{})
	}

	a.svc = billing.NewService(a.api, billing.Config{
		Locker:  locker,
		Journal: journals,
	})
	return a, ctx, nil
}

// newAPI returns the provider client the settings ask for.
func newAPI(s *config.Settings) (remote.API, error) {
	if s.InMemory {
		log.Warn().Msg("Using the in-memory provider; nothing is sent to the billing API")
		return remote.NewMemoryAPI(), nil
	}
	factory, err := remote.NewHTTPFactory(1, remote.Config{
		BaseURL:   s.APIBase,
		UserAgent: "declabill/" + buildVersion,
	})
	if err != nil {
		return nil, err
	}
	return factory.Client(s.APIKey)
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return store, nil
}

func newPolicyEngine(ctx context.Context, s *config.Settings, md map[string]interface{}) (*policy.Engine, error) {
	opts := []policy.Option{policy.WithEnvironment(environment)}
	if user := os.Getenv("USER"); user != "" {
		opts = append(opts, policy.WithUser(user))
	}
	if md != nil {
		opts = append(opts, policy.WithMetadata(md))
	}

	eng, err := policy.NewEngine(log.Logger, opts...)
	if err != nil {
		return nil, err
	}
	if s.PolicyDir != "" {
		if err := eng.LoadPolicies(ctx, []string{s.PolicyDir}); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// guard returns the policy engine as a billing.Guard, nil when policies
// are not loaded.
func (a *app) guard() billing.Guard {
	if a.policies == nil {
		return nil
	}
	return a.policies
}

// subscribeEvents logs warnings and errors (every event with --verbose) and
// streams all events to --events when set.
func (a *app) subscribeEvents() error {
	minLevel := telemetry.EventLevelWarning
	if verbose {
		minLevel = telemetry.EventLevelInfo
	}
	a.tel.Events.Subscribe(telemetry.LogSubscriber(log.Logger), telemetry.FilterByLevel(minLevel))

	switch eventsPath {
	case "":
		return nil
	case "-":
		a.tel.Events.Subscribe(telemetry.JSONSubscriber(os.Stderr), nil)
		return nil
	}
	f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	a.events = f
	a.tel.Events.Subscribe(telemetry.JSONSubscriber(f), nil)
	return nil
}

// Close releases every component. It is safe on a partially built app.
func (a *app) Close() {
	if a.svc != nil {
		a.svc.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close journal")
		}
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down telemetry")
		}
	}
	if a.events != nil {
		_ = a.events.Close()
	}
}

// runSummary is stored with every finished run.
type runSummary struct {
	Counts map[engine.OperationType]int `json:"counts,omitempty"`
	Steps  int                          `json:"steps"`
}

// run journals fn as one run: a runs row, a root span and run metrics.
// fn receives a context every engine decision is attributed through.
func (a *app) run(ctx context.Context, command, source, mode string, fn func(ctx context.Context) (*billing.Plan, error)) (*billing.Plan, error) {
	run := &stores.Run{Command: command, Source: source, Mode: mode}
	if a.store != nil {
		if err := a.store.CreateRun(ctx, run); err != nil {
			return nil, err
		}
		ctx = stores.ContextWithRun(ctx, run.ID)
	}

	ctx = telemetry.WithRunContext(ctx, run.ID, command)
	plan, err := fn(ctx)

	status := stores.RunStatusCompleted
	var errMsg *string
	if err != nil {
		status = stores.RunStatusFailed
		msg := err.Error()
		errMsg = &msg
	}
	telemetry.EndRunContext(ctx, run.ID, string(status), err)

	if a.store != nil {
		var summary *string
		if plan != nil {
			if raw, mErr := json.Marshal(runSummary{Counts: plan.Counts(), Steps: len(plan.Steps)}); mErr == nil {
				s := string(raw)
				summary = &s
			}
		}
		// The run outcome is recorded even when ctx was cancelled.
		if fErr := a.store.FinishRun(context.WithoutCancel(ctx), run.ID, status, errMsg, summary); fErr != nil {
			err = errors.Join(err, fErr)
		}
	}
	return plan, err
}

// loadDesired parses the desired-state sources.
func loadDesired(ctx context.Context, vars map[string]string, sources ...string) (*config.ParsedConfig, *billing.Desired, error) {
	var opts []config.Option
	if len(vars) > 0 {
		v := make(map[string]interface{}, len(vars))
		for k, val := range vars {
			v[k] = val
		}
		opts = append(opts, config.WithVars(v))
	}

	parsed, err := config.NewParser(opts...).Load(ctx, sources...)
	if err != nil {
		return parsed, nil, err
	}
	desired, err := parsed.Document.Desired()
	if err != nil {
		return parsed, nil, err
	}
	return parsed, desired, nil
}

// resolveMode prefers the --mode flag over the document's mode.
func resolveMode(flag string, doc *config.Document) (engine.ApplyMode, error) {
	if flag == "" {
		return doc.ApplyMode(), nil
	}
	mode := engine.ApplyMode(flag)
	if err := mode.Validate(); err != nil {
		return "", err
	}
	return mode, nil
}
