package engine

import "fmt"

// Schema describes the identity of an entity type E whose business-unique
// key is K. It lives next to the data record rather than inside it, so
// entities stay plain structs.
type Schema[E any, K any] struct {
	// Kind is the entity kind, e.g. "customer" or "invoice".
	Kind string

	// Version is the idempotency schema tag mixed into every derived key.
	// Bumping it deliberately invalidates previously derived keys.
	Version string

	// PrimaryOf returns the remote primary id of an entity, "" if unknown.
	PrimaryOf func(*E) string

	// UniqueOf returns the business-unique key of an entity. The boolean is
	// false when the entity does not carry enough fields to build one.
	UniqueOf func(*E) (K, bool)

	// IdempotencyFields returns the value hashed into the idempotency key
	// of a create call.
	IdempotencyFields func(*E) any

	// DescribeKey renders a unique key for logs and journal records.
	// Defaults to fmt's %+v.
	DescribeKey func(K) string
}

// Validate checks that the schema is usable by the resolver and applier.
func (s Schema[E, K]) Validate() error {
	if s.Kind == "" {
		return fmt.Errorf("schema kind is required")
	}
	if s.Version == "" {
		return fmt.Errorf("schema %s: version is required", s.Kind)
	}
	if s.PrimaryOf == nil {
		return fmt.Errorf("schema %s: PrimaryOf is required", s.Kind)
	}
	if s.IdempotencyFields == nil {
		return fmt.Errorf("schema %s: IdempotencyFields is required", s.Kind)
	}
	return nil
}

// HasUnique reports whether the entity type declares a unique key.
// Types without one (coupons) can only be inserted.
func (s Schema[E, K]) HasUnique() bool {
	return s.UniqueOf != nil
}

func (s Schema[E, K]) describe(key K) string {
	if s.DescribeKey != nil {
		return s.DescribeKey(key)
	}
	return fmt.Sprintf("%+v", key)
}

func (s Schema[E, K]) uniqueOf(e *E) (K, bool) {
	if e == nil || s.UniqueOf == nil {
		var zero K
		return zero, false
	}
	return s.UniqueOf(e)
}

func (s Schema[E, K]) primaryOf(e *E) string {
	if e == nil {
		return ""
	}
	return s.PrimaryOf(e)
}
