package engine

import (
	"encoding/json"
	"fmt"
)

// RefKind identifies which case of a Ref is populated.
type RefKind uint8

const (
	// RefInvalid is the zero value. The resolver rejects it.
	RefInvalid RefKind = iota
	// RefPrimary points at a remote-assigned primary id.
	RefPrimary
	// RefUnique points at a business-unique key.
	RefUnique
	// RefEntity points at a full or partial snapshot of the entity.
	RefEntity
)

// String implements fmt.Stringer.
func (k RefKind) String() string {
	switch k {
	case RefPrimary:
		return "primary"
	case RefUnique:
		return "unique"
	case RefEntity:
		return "entity"
	default:
		return "invalid"
	}
}

// Ref is a logical pointer to an entity of type E whose unique key is K.
// Exactly one case is populated; the constructors below are the only way to
// build a valid Ref.
type Ref[E any, K any] struct {
	kind   RefKind
	id     string
	key    K
	entity *E
}

// RefByPrimary builds a Ref to the entity with the given primary id.
func RefByPrimary[E any, K any](id string) Ref[E, K] {
	return Ref[E, K]{kind: RefPrimary, id: id}
}

// RefByUnique builds a Ref to the entity with the given unique key.
func RefByUnique[E any, K any](key K) Ref[E, K] {
	return Ref[E, K]{kind: RefUnique, key: key}
}

// RefByEntity builds a Ref from a snapshot. The resolver follows the
// snapshot's primary id when present, its unique key otherwise.
func RefByEntity[E any, K any](entity *E) Ref[E, K] {
	return Ref[E, K]{kind: RefEntity, entity: entity}
}

// NewRef builds a Ref from optional inputs, of which exactly one must be set.
func NewRef[E any, K any](id *string, key *K, entity *E) (Ref[E, K], error) {
	set := 0
	if id != nil {
		set++
	}
	if key != nil {
		set++
	}
	if entity != nil {
		set++
	}
	if set != 1 {
		return Ref[E, K]{}, NewValidationError(
			fmt.Sprintf("a ref must populate exactly one of primary, unique or entity, got %d", set))
	}

	switch {
	case id != nil:
		return RefByPrimary[E, K](*id), nil
	case key != nil:
		return RefByUnique[E, K](*key), nil
	default:
		return RefByEntity[E, K](entity), nil
	}
}

// Kind returns which case is populated.
func (r Ref[E, K]) Kind() RefKind { return r.kind }

// IsZero reports whether the ref was never constructed.
func (r Ref[E, K]) IsZero() bool { return r.kind == RefInvalid }

// PrimaryID returns the primary id of a RefPrimary.
func (r Ref[E, K]) PrimaryID() (string, bool) {
	return r.id, r.kind == RefPrimary
}

// UniqueKey returns the key of a RefUnique.
func (r Ref[E, K]) UniqueKey() (K, bool) {
	return r.key, r.kind == RefUnique
}

// Entity returns the snapshot of a RefEntity.
func (r Ref[E, K]) Entity() (*E, bool) {
	return r.entity, r.kind == RefEntity
}

// MarshalJSON serializes the populated case only. Refs take part in
// idempotency keys, so the encoding must not change between releases.
func (r Ref[E, K]) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case RefPrimary:
		return json.Marshal(struct {
			ID string `json:"id"`
		}{ID: r.id})
	case RefUnique:
		return json.Marshal(r.key)
	case RefEntity:
		return json.Marshal(r.entity)
	default:
		return []byte("null"), nil
	}
}

// String implements fmt.Stringer.
func (r Ref[E, K]) String() string {
	switch r.kind {
	case RefPrimary:
		return "primary:" + r.id
	case RefUnique:
		return fmt.Sprintf("unique:%+v", r.key)
	case RefEntity:
		return "entity"
	default:
		return "invalid"
	}
}
