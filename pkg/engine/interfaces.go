package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Repository is the typed remote surface the engine needs for one entity
// kind. Implementations translate to the billing provider's API and cast
// wire records into entities.
type Repository[E any, K any] interface {
	// Get fetches an entity by primary id. A missing entity is reported as
	// (nil, nil); every other failure is returned unchanged.
	Get(ctx context.Context, id string) (*E, error)

	// FindByUnique returns every remote entity whose unique key equals key.
	FindByUnique(ctx context.Context, key K) ([]E, error)

	// Create creates desired remotely, attaching idempotencyKey to the call.
	Create(ctx context.Context, desired *E, idempotencyKey string) (*E, error)

	// Update applies the fields explicitly set on desired to found.
	Update(ctx context.Context, found *E, desired *E) (*E, error)
}

// Collection is the child-collection surface reconciled against a parent P.
type Collection[P any, E any] interface {
	// List returns the children of parent. It must request ListPageSize
	// items and must not paginate.
	List(ctx context.Context, parent P) ([]E, error)

	// Delete removes a found child.
	Delete(ctx context.Context, parent P, item E) error

	// Upsert creates or updates one desired child.
	Upsert(ctx context.Context, parent P, item E) (E, error)
}

// KeyLocker serializes finsert/upsert calls sharing a lock key.
type KeyLocker interface {
	// Lock blocks until key is held or ctx is done. The returned function
	// releases the lock.
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}

// LockKeyer is implemented by repositories whose unique keys embed
// references to other entities. LockKey renders key with those references
// resolved to primary ids, so every spelling of one key names the same
// lock. An empty result falls back to the schema's DescribeKey.
type LockKeyer[K any] interface {
	LockKey(ctx context.Context, key K) (string, error)
}

// OperationRecord describes one decision taken by the engine.
type OperationRecord struct {
	// Kind is the entity kind.
	Kind string `json:"kind"`

	// EntityID is the primary id after the operation, if known.
	EntityID string `json:"entity_id,omitempty"`

	// UniqueKey is the rendered unique key, if the kind has one.
	UniqueKey string `json:"unique_key,omitempty"`

	// Action is the decision taken.
	Action OperationType `json:"action"`

	// Detail qualifies the action, e.g. the lifecycle verb of a transition.
	Detail string `json:"detail,omitempty"`

	// IdempotencyKey is the key attached to a create call.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Err is the failure, nil on success.
	Err error `json:"-"`

	// State is the entity as returned by the provider.
	State json.RawMessage `json:"state,omitempty"`

	// Duration is how long the operation took.
	Duration time.Duration `json:"duration"`
}

// Journal receives every decision taken by the engine. A failing journal
// does not fail the operation; the error is logged.
type Journal interface {
	Record(ctx context.Context, rec OperationRecord) error
}

// JournalFunc adapts a function to the Journal interface.
type JournalFunc func(ctx context.Context, rec OperationRecord) error

// Record calls f.
func (f JournalFunc) Record(ctx context.Context, rec OperationRecord) error {
	return f(ctx, rec)
}

// MultiJournal fans a record out to several journals and returns the first
// error.
type MultiJournal []Journal

// Record implements Journal.
func (m MultiJournal) Record(ctx context.Context, rec OperationRecord) error {
	var first error
	for _, j := range m {
		if j == nil {
			continue
		}
		if err := j.Record(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
