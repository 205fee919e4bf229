// Package stores persists the operation journal of declabill.
//
// SQLiteStore keeps three tables, created by embedded golang-migrate
// migrations:
//
//   - runs: one row per CLI invocation that talked to the provider
//   - operations: every engine decision, tagged with its run
//   - snapshots: the last state applied to each entity, with a BLAKE2b hash
//
// SQLiteStore implements engine.Journal, so it can be handed to the billing
// service directly. Tag the context with ContextWithRun to attach
// operations to a run.
package stores
