// Package engine provides the reconciliation core of declabill.
//
// # Overview
//
// The billing provider only offers imperative create, update and delete
// calls. The engine turns them into declarative operations over typed
// entities:
//
//  1. Resolve - turn a Ref (primary id, unique key or snapshot) into the
//     remote entity it points at (Resolver)
//  2. Finsert / Upsert - find by unique key, then return, update or create
//     with a derived idempotency key (Applier)
//  3. Reconcile - make a child collection equal a desired list exactly
//     (CollectionReconciler)
//  4. Transition - decide whether an invoice lifecycle verb runs, is an
//     idempotent self-loop, or is illegal (Transition)
//
// # Entities and schemas
//
// Entities are plain structs. Identity lives in a Schema next to them:
//
//	schema := engine.Schema[Customer, string]{
//	    Kind:              "customer",
//	    Version:           "v1.0.0",
//	    PrimaryOf:         func(c *Customer) string { return c.ID },
//	    UniqueOf:          func(c *Customer) (string, bool) { return c.Email, c.Email != "" },
//	    IdempotencyFields: func(c *Customer) any { return c },
//	}
//
// A Repository adapts the remote API for one kind. Not-found is reported as
// (nil, nil); transport errors are returned unchanged and the engine never
// wraps or retries them.
//
// # Error Classification
//
// Errors raised by the engine are *EngineError values:
//
//   - Validation (permanent): illegal transition, malformed ref, foreign
//     ref that does not resolve
//   - Ambiguous (permanent): several records share a unique key, or the
//     found id differs from the expected one
//   - Invalid shape (permanent): a remote record lacks a required field
//   - Collection cap (permanent): a listing reached ListHardCap
//
// # Concurrency
//
// Deletes of a reconcile run in parallel. Upserts run one at a time through
// a SerialQueue shared by every reconciler that must not interleave.
// Finsert and upsert take an optional per-unique-key KeyLocker; the default
// NopLocker does not serialize anything.
//
// # Journal
//
// Every decision (create, update, noop, delete) is reported to an optional
// Journal, which the SQLite store and the telemetry layer implement.
package engine
