// Package remote is the client side of the billing provider.
//
// API is the imperative surface the billing package builds on. Two
// implementations exist: HTTPClient talks to the provider over HTTPS with
// form-encoded bodies, bearer auth and an Idempotency-Key header on creates;
// MemoryAPI keeps everything in memory for tests and --in-memory runs.
//
// Missing resources are reported as *APIError values matching ErrNotFound.
// IsNotFound additionally recognizes "No such ..." messages.
//
// Factory caches one client per secret key.
package remote
