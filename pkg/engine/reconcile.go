package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	// ListPageSize is the page size requested when listing a collection.
	ListPageSize = 100

	// ListHardCap is the result count at which a listing is considered
	// possibly truncated. Pagination is not implemented, so reaching it is
	// fatal instead of silently reconciling a partial view.
	ListHardCap = 90
)

// ErrSkipped is reported for upserts that did not run because an earlier
// upsert of the same batch failed.
var ErrSkipped = errors.New("skipped after an earlier failure")

// CheckListCap returns a COLLECTION_CAP error when a listing of kind
// returned count items, at or above ListHardCap.
func CheckListCap(kind string, count int) error {
	if count < ListHardCap {
		return nil
	}
	return NewPermanentError(
		fmt.Sprintf("found %d %s records, at or above the limit of %d; pagination is not supported",
			count, kind, ListHardCap), nil).
		WithCode(ErrCodeCollectionCap).
		WithResource(kind).
		WithDetail("count", count)
}

// ReconcilerConfig configures a CollectionReconciler.
type ReconcilerConfig struct {
	// Queue serializes upserts. Reconcilers that must not interleave share
	// one queue. A private queue is created when nil.
	Queue *SerialQueue

	// Journal receives the delete decisions. Optional.
	Journal Journal
}

// CollectionReconciler makes the children of a parent match a desired list
// exactly: children absent from the list are deleted and every desired
// child is upserted.
type CollectionReconciler[P any, E any] struct {
	kind       string
	collection Collection[P, E]
	identity   func(E) string
	queue      *SerialQueue
	journal    Journal
	tracer     trace.Tracer
}

// NewCollectionReconciler creates a reconciler for children of the given
// kind. identity returns the external correlation id of a child.
func NewCollectionReconciler[P any, E any](
	kind string,
	collection Collection[P, E],
	identity func(E) string,
	cfg ReconcilerConfig,
) *CollectionReconciler[P, E] {
	if cfg.Queue == nil {
		cfg.Queue = NewSerialQueue()
	}
	return &CollectionReconciler[P, E]{
		kind:       kind,
		collection: collection,
		identity:   identity,
		queue:      cfg.Queue,
		journal:    cfg.Journal,
		tracer:     otel.Tracer(tracerName),
	}
}

// ReconcileSummary reports what a reconcile call did.
type ReconcileSummary[E any] struct {
	// Found is the number of children listed before reconciling.
	Found int

	// Deleted holds the identities of removed children.
	Deleted []string

	// Upserted holds the upserted children in desired order.
	Upserted []E

	// Skipped counts upserts that did not run after a failure.
	Skipped int

	// Duration is the wall time of the call.
	Duration time.Duration
}

// CollectionDiff is the set difference between found and desired children.
type CollectionDiff[E any] struct {
	// Delete holds found children whose identity is not desired.
	Delete []E

	// Update holds desired children that already exist.
	Update []E

	// Create holds desired children that do not exist yet.
	Create []E
}

// Diff lists the children of parent and compares them with desired without
// writing anything.
func (r *CollectionReconciler[P, E]) Diff(ctx context.Context, parent P, desired []E) (*CollectionDiff[E], error) {
	if err := r.checkDesired(desired); err != nil {
		return nil, err
	}
	found, err := r.list(ctx, parent)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]struct{}, len(found))
	for _, f := range found {
		existing[r.identity(f)] = struct{}{}
	}

	diff := &CollectionDiff[E]{Delete: r.toDelete(found, desired)}
	for _, d := range desired {
		if _, ok := existing[r.identity(d)]; ok {
			diff.Update = append(diff.Update, d)
		} else {
			diff.Create = append(diff.Create, d)
		}
	}
	return diff, nil
}

// Reconcile makes the children of parent equal to desired. Deletes run in
// parallel; upserts run one at a time through the shared queue in desired
// order. The call is not transactional: on failure some children may have
// changed and the caller re-invokes to converge.
func (r *CollectionReconciler[P, E]) Reconcile(ctx context.Context, parent P, desired []E) (*ReconcileSummary[E], error) {
	ctx, span := r.tracer.Start(ctx, "engine.reconcile", trace.WithAttributes(
		attribute.String("entity.kind", r.kind),
		attribute.Int("reconcile.desired", len(desired)),
	))
	defer span.End()

	start := time.Now()
	summary := &ReconcileSummary[E]{}
	logger := log.Ctx(ctx)

	fail := func(err error) (*ReconcileSummary[E], error) {
		summary.Duration = time.Since(start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("kind", r.kind).Msg("Collection reconcile failed")
		return summary, err
	}

	if err := r.checkDesired(desired); err != nil {
		return fail(err)
	}

	found, err := r.list(ctx, parent)
	if err != nil {
		return fail(err)
	}
	summary.Found = len(found)

	stale := r.toDelete(found, desired)
	if err := r.deleteAll(ctx, parent, stale); err != nil {
		return fail(err)
	}
	for _, s := range stale {
		summary.Deleted = append(summary.Deleted, r.identity(s))
	}

	results, err := r.upsertAll(ctx, parent, desired, summary)
	summary.Upserted = results
	if err != nil {
		return fail(err)
	}

	summary.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("reconcile.deleted", len(summary.Deleted)),
		attribute.Int("reconcile.upserted", len(summary.Upserted)),
	)
	logger.Info().
		Str("kind", r.kind).
		Int("found", summary.Found).
		Int("deleted", len(summary.Deleted)).
		Int("upserted", len(summary.Upserted)).
		Dur("duration", summary.Duration).
		Msg("Collection reconciled")
	return summary, nil
}

func (r *CollectionReconciler[P, E]) checkDesired(desired []E) error {
	seen := make(map[string]struct{}, len(desired))
	for i, d := range desired {
		id := r.identity(d)
		if id == "" {
			return NewValidationError(
				fmt.Sprintf("desired %s at index %d has no exid", r.kind, i)).WithResource(r.kind)
		}
		if _, dup := seen[id]; dup {
			return NewValidationError(
				fmt.Sprintf("desired %s list contains exid %q more than once", r.kind, id)).
				WithResource(r.kind)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (r *CollectionReconciler[P, E]) list(ctx context.Context, parent P) ([]E, error) {
	found, err := r.collection.List(ctx, parent)
	if err != nil {
		return nil, err
	}
	if err := CheckListCap(r.kind, len(found)); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *CollectionReconciler[P, E]) toDelete(found, desired []E) []E {
	keep := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		keep[r.identity(d)] = struct{}{}
	}
	var stale []E
	for _, f := range found {
		if _, ok := keep[r.identity(f)]; !ok {
			stale = append(stale, f)
		}
	}
	return stale
}

// deleteAll removes every stale child concurrently. A failing delete does
// not cancel its siblings; the first error is returned once all finished.
func (r *CollectionReconciler[P, E]) deleteAll(ctx context.Context, parent P, stale []E) error {
	var g errgroup.Group
	for _, item := range stale {
		g.Go(func() error {
			started := time.Now()
			err := r.collection.Delete(ctx, parent, item)
			r.record(ctx, OperationRecord{
				Kind:      r.kind,
				UniqueKey: r.identity(item),
				Action:    OperationDelete,
				Err:       err,
				Duration:  time.Since(started),
			})
			return err
		})
	}
	return g.Wait()
}

func (r *CollectionReconciler[P, E]) upsertAll(
	ctx context.Context,
	parent P,
	desired []E,
	summary *ReconcileSummary[E],
) ([]E, error) {
	var failed atomic.Bool
	results := make([]E, len(desired))
	pending := make([]<-chan error, len(desired))

	for i, item := range desired {
		pending[i] = r.queue.Schedule(ctx, func(ctx context.Context) error {
			if failed.Load() {
				return ErrSkipped
			}
			out, err := r.collection.Upsert(ctx, parent, item)
			if err != nil {
				failed.Store(true)
				return err
			}
			results[i] = out
			return nil
		})
	}

	var first error
	done := 0
	for i, ch := range pending {
		err := <-ch
		switch {
		case err == nil:
			done = i + 1
		case errors.Is(err, ErrSkipped):
			summary.Skipped++
		default:
			failed.Store(true)
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return results[:done], first
	}
	return results, nil
}

func (r *CollectionReconciler[P, E]) record(ctx context.Context, rec OperationRecord) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Record(ctx, rec); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("kind", r.kind).Msg("Failed to journal operation")
	}
}
