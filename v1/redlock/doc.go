// Package redlock provides quorum-based distributed mutual exclusion over a
// set of independent key-value store instances. A lock is a short-lived
// lease: each acquisition races a fresh random token against every instance
// with an atomic conditional set, succeeds only when a majority grants it
// within a clock-drift-adjusted validity window, and is released with an
// atomic token-checked delete so a holder can never remove a lease it no
// longer owns.
//
// Failing to acquire a contended lock is a routine outcome, reported as
// ErrNotAcquired rather than treated as a fault. Safety is lease-based: a
// process pause or clock jump longer than the TTL can void the guarantee,
// which is the accepted trade-off for liveness without a single point of
// failure.
package redlock
