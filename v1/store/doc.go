// Package store defines the per-instance adapter used by the quorum lock
// coordinator and provides Redis and in-memory implementations. An adapter
// exposes exactly two atomic operations: a conditional set that only
// succeeds on an unset key, and a token-checked delete executed as a single
// server-side script. Adapters never retry or mask errors; the coordinator
// decides how failures count.
package store
