package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/declabill/declabill/pkg/engine"

// ApplierConfig configures an Applier.
type ApplierConfig struct {
	// Locker serializes writes per unique key. Defaults to NopLocker.
	Locker KeyLocker

	// Journal receives every decision. Optional.
	Journal Journal
}

// Applier implements finsert and upsert for one entity kind.
type Applier[E any, K any] struct {
	schema   Schema[E, K]
	repo     Repository[E, K]
	resolver *Resolver[E, K]
	locker   KeyLocker
	journal  Journal
	tracer   trace.Tracer
}

// NewApplier creates an applier. It panics if the schema is incomplete,
// which is a programming error.
func NewApplier[E any, K any](schema Schema[E, K], repo Repository[E, K], cfg ApplierConfig) *Applier[E, K] {
	if err := schema.Validate(); err != nil {
		panic(err)
	}
	if cfg.Locker == nil {
		cfg.Locker = NopLocker{}
	}
	return &Applier[E, K]{
		schema:   schema,
		repo:     repo,
		resolver: NewResolver(schema, repo),
		locker:   cfg.Locker,
		journal:  cfg.Journal,
		tracer:   otel.Tracer(tracerName),
	}
}

// Resolver returns the resolver the applier uses for lookups.
func (a *Applier[E, K]) Resolver() *Resolver[E, K] {
	return a.resolver
}

// Finsert returns the remote entity matching desired's unique key
// unchanged, or creates it when none exists.
func (a *Applier[E, K]) Finsert(ctx context.Context, desired *E) (*E, error) {
	return a.Apply(ctx, desired, ModeFinsert)
}

// Upsert updates the remote entity matching desired's unique key with the
// fields set on desired, or creates it when none exists.
func (a *Applier[E, K]) Upsert(ctx context.Context, desired *E) (*E, error) {
	return a.Apply(ctx, desired, ModeUpsert)
}

// Apply runs finsert or upsert depending on mode.
func (a *Applier[E, K]) Apply(ctx context.Context, desired *E, mode ApplyMode) (*E, error) {
	if err := mode.Validate(); err != nil {
		return nil, NewValidationError(err.Error())
	}
	if desired == nil {
		return nil, NewValidationError("desired entity is nil").WithResource(a.schema.Kind)
	}
	if !a.schema.HasUnique() {
		return nil, NewValidationError(
			fmt.Sprintf("%s has no unique key and can only be inserted", a.schema.Kind)).
			WithResource(a.schema.Kind)
	}
	key, ok := a.schema.uniqueOf(desired)
	if !ok {
		return nil, NewValidationError(
			fmt.Sprintf("desired %s does not carry its unique key", a.schema.Kind)).
			WithResource(a.schema.Kind)
	}
	desc := a.schema.describe(key)

	ctx, span := a.tracer.Start(ctx, "engine."+string(mode), trace.WithAttributes(
		attribute.String("entity.kind", a.schema.Kind),
		attribute.String("entity.unique_key", desc),
	))
	defer span.End()

	lockKey, err := a.lockKey(ctx, key, desc)
	if err != nil {
		return nil, a.fail(span, err)
	}
	unlock, err := a.locker.Lock(ctx, lockKey)
	if err != nil {
		return nil, a.fail(span, err)
	}
	defer func() {
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			log.Ctx(ctx).Warn().Err(uerr).Str("kind", a.schema.Kind).Msg("Failed to release key lock")
		}
	}()

	start := time.Now()
	rec := OperationRecord{Kind: a.schema.Kind, UniqueKey: desc}

	found, err := a.resolver.FindByUnique(ctx, key)
	if err != nil {
		return nil, a.finish(ctx, span, rec, start, nil, a.fail(span, err))
	}

	if found != nil {
		expected := a.schema.primaryOf(desired)
		actual := a.schema.primaryOf(found)
		if expected != "" && expected != actual {
			return nil, a.finish(ctx, span, rec, start, nil, NewAmbiguityError(
				fmt.Sprintf("%s found by unique key %s has id %s but the desired one has id %s",
					a.schema.Kind, desc, actual, expected)).
				WithResource(a.schema.Kind).
				WithOperation(string(mode)).
				WithDetail("expected_id", expected).
				WithDetail("found_id", actual))
		}

		if mode == ModeFinsert {
			rec.Action = OperationNoop
			return found, a.finish(ctx, span, rec, start, found, nil)
		}

		rec.Action = OperationUpdate
		updated, err := a.repo.Update(ctx, found, desired)
		if err != nil {
			return nil, a.finish(ctx, span, rec, start, nil, err)
		}
		if err := a.checkPrimary(updated); err != nil {
			return nil, a.finish(ctx, span, rec, start, nil, err)
		}
		return updated, a.finish(ctx, span, rec, start, updated, nil)
	}

	rec.Action = OperationCreate
	created, err := a.create(ctx, desired, &rec)
	if err != nil {
		return nil, a.finish(ctx, span, rec, start, nil, err)
	}
	return created, a.finish(ctx, span, rec, start, created, nil)
}

// lockKey names the lock guarding key. With the default NopLocker no
// reference is resolved.
func (a *Applier[E, K]) lockKey(ctx context.Context, key K, desc string) (string, error) {
	if _, nop := a.locker.(NopLocker); !nop {
		if lk, ok := a.repo.(LockKeyer[K]); ok {
			canonical, err := lk.LockKey(ctx, key)
			if err != nil {
				return "", err
			}
			if canonical != "" {
				desc = canonical
			}
		}
	}
	return a.schema.Kind + "/" + desc, nil
}

// Insert creates desired without looking for an existing record. It is the
// only write available to kinds that have no unique key.
func (a *Applier[E, K]) Insert(ctx context.Context, desired *E) (*E, error) {
	if desired == nil {
		return nil, NewValidationError("desired entity is nil").WithResource(a.schema.Kind)
	}

	ctx, span := a.tracer.Start(ctx, "engine.insert", trace.WithAttributes(
		attribute.String("entity.kind", a.schema.Kind),
	))
	defer span.End()

	start := time.Now()
	rec := OperationRecord{Kind: a.schema.Kind, Action: OperationCreate}
	created, err := a.create(ctx, desired, &rec)
	if err != nil {
		return nil, a.finish(ctx, span, rec, start, nil, err)
	}
	return created, a.finish(ctx, span, rec, start, created, nil)
}

// Plan reports what Apply would do for desired without writing anything.
func (a *Applier[E, K]) Plan(ctx context.Context, desired *E, mode ApplyMode) (OperationType, *E, error) {
	if desired == nil {
		return "", nil, NewValidationError("desired entity is nil").WithResource(a.schema.Kind)
	}
	if !a.schema.HasUnique() {
		return OperationCreate, nil, nil
	}
	key, ok := a.schema.uniqueOf(desired)
	if !ok {
		return "", nil, NewValidationError(
			fmt.Sprintf("desired %s does not carry its unique key", a.schema.Kind)).
			WithResource(a.schema.Kind)
	}
	found, err := a.resolver.FindByUnique(ctx, key)
	if err != nil {
		return "", nil, err
	}
	switch {
	case found == nil:
		return OperationCreate, nil, nil
	case mode == ModeFinsert:
		return OperationNoop, found, nil
	default:
		return OperationUpdate, found, nil
	}
}

func (a *Applier[E, K]) create(ctx context.Context, desired *E, rec *OperationRecord) (*E, error) {
	idemKey, err := DeriveIdempotencyKey(a.schema.Version, a.schema.IdempotencyFields(desired))
	if err != nil {
		return nil, NewPermanentError("failed to derive idempotency key", err).
			WithCode(ErrCodeInternal).WithResource(a.schema.Kind)
	}
	rec.IdempotencyKey = idemKey

	created, err := a.repo.Create(ctx, desired, idemKey)
	if err != nil {
		return nil, err
	}
	if err := a.checkPrimary(created); err != nil {
		return nil, err
	}
	return created, nil
}

func (a *Applier[E, K]) checkPrimary(e *E) error {
	if a.schema.primaryOf(e) == "" {
		return NewPermanentError(
			fmt.Sprintf("%s returned by the provider has no primary id", a.schema.Kind), nil).
			WithCode(ErrCodeInternal).WithResource(a.schema.Kind)
	}
	return nil
}

func (a *Applier[E, K]) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// finish journals and logs the outcome and returns err unchanged.
func (a *Applier[E, K]) finish(
	ctx context.Context,
	span trace.Span,
	rec OperationRecord,
	start time.Time,
	result *E,
	err error,
) error {
	rec.Duration = time.Since(start)
	rec.Err = err
	if result != nil {
		rec.EntityID = a.schema.primaryOf(result)
		if state, merr := json.Marshal(result); merr == nil {
			rec.State = state
		}
	}

	span.SetAttributes(
		attribute.String("engine.action", string(rec.Action)),
		attribute.String("entity.id", rec.EntityID),
	)
	if err != nil {
		a.fail(span, err)
	}

	logger := log.Ctx(ctx)
	switch {
	case err != nil:
		logger.Error().Err(err).
			Str("kind", rec.Kind).
			Str("unique_key", rec.UniqueKey).
			Str("action", string(rec.Action)).
			Msg("Operation failed")
	case rec.Action.IsMutating():
		logger.Info().
			Str("kind", rec.Kind).
			Str("id", rec.EntityID).
			Str("unique_key", rec.UniqueKey).
			Str("action", string(rec.Action)).
			Dur("duration", rec.Duration).
			Msg("Entity applied")
	default:
		logger.Debug().
			Str("kind", rec.Kind).
			Str("id", rec.EntityID).
			Str("action", string(rec.Action)).
			Msg("Entity already in place")
	}

	if a.journal != nil {
		if jerr := a.journal.Record(ctx, rec); jerr != nil {
			logger.Warn().Err(jerr).Str("kind", rec.Kind).Msg("Failed to journal operation")
		}
	}
	return err
}
