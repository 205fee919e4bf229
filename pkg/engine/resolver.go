package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Resolver turns any Ref into a canonical entity fetched from the remote.
type Resolver[E any, K any] struct {
	schema Schema[E, K]
	repo   Repository[E, K]
}

// NewResolver creates a resolver for one entity kind.
func NewResolver[E any, K any](schema Schema[E, K], repo Repository[E, K]) *Resolver[E, K] {
	return &Resolver[E, K]{schema: schema, repo: repo}
}

// Schema returns the schema the resolver was built with.
func (r *Resolver[E, K]) Schema() Schema[E, K] {
	return r.schema
}

// Resolve returns the remote entity ref points at, or nil when none exists.
// It never guesses: several matches on a unique key are an AmbiguityError.
func (r *Resolver[E, K]) Resolve(ctx context.Context, ref Ref[E, K]) (*E, error) {
	switch ref.kind {
	case RefPrimary:
		return r.byPrimary(ctx, ref.id)
	case RefUnique:
		return r.FindByUnique(ctx, ref.key)
	case RefEntity:
		if ref.entity == nil {
			return nil, NewValidationError("entity ref carries no snapshot").WithResource(r.schema.Kind)
		}
		if id := r.schema.primaryOf(ref.entity); id != "" {
			return r.byPrimary(ctx, id)
		}
		if key, ok := r.schema.uniqueOf(ref.entity); ok {
			return r.FindByUnique(ctx, key)
		}
		return nil, NewValidationError(
			fmt.Sprintf("%s snapshot has neither a primary id nor a unique key", r.schema.Kind)).
			WithResource(r.schema.Kind)
	default:
		return nil, NewValidationError("invalid ref").WithResource(r.schema.Kind)
	}
}

// ResolveID returns the canonical primary id of ref, "" when none exists.
func (r *Resolver[E, K]) ResolveID(ctx context.Context, ref Ref[E, K]) (string, error) {
	e, err := r.Resolve(ctx, ref)
	if err != nil || e == nil {
		return "", err
	}
	return r.schema.primaryOf(e), nil
}

// MustResolve is Resolve for foreign references: a ref that resolves to
// nothing is a ValidationError.
func (r *Resolver[E, K]) MustResolve(ctx context.Context, ref Ref[E, K]) (*E, error) {
	e, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, NewValidationError(
			fmt.Sprintf("could not find %s by ref %s", r.schema.Kind, ref)).
			WithResource(r.schema.Kind)
	}
	return e, nil
}

// FindByUnique looks an entity up by its unique key. Zero matches is nil,
// one is returned, more than one is an AmbiguityError listing the ids.
func (r *Resolver[E, K]) FindByUnique(ctx context.Context, key K) (*E, error) {
	if !r.schema.HasUnique() {
		return nil, NewValidationError(
			fmt.Sprintf("%s has no unique key", r.schema.Kind)).WithResource(r.schema.Kind)
	}

	matches, err := r.repo.FindByUnique(ctx, key)
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		found := matches[0]
		return &found, nil
	default:
		ids := make([]string, 0, len(matches))
		for i := range matches {
			ids = append(ids, r.schema.primaryOf(&matches[i]))
		}
		desc := r.schema.describe(key)
		log.Ctx(ctx).Warn().
			Str("kind", r.schema.Kind).
			Str("unique_key", desc).
			Strs("ids", ids).
			Msg("Unique key matches several remote records")
		return nil, NewAmbiguityError(
			fmt.Sprintf("found %d %s records for unique key %s: %s",
				len(matches), r.schema.Kind, desc, strings.Join(ids, ", "))).
			WithResource(r.schema.Kind).
			WithDetail("ids", ids)
	}
}

func (r *Resolver[E, K]) byPrimary(ctx context.Context, id string) (*E, error) {
	if id == "" {
		return nil, NewValidationError("empty primary id").WithResource(r.schema.Kind)
	}
	return r.repo.Get(ctx, id)
}
