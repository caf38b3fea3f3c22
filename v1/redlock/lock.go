package redlock

import "time"

// Lock represents a held lease on a resource. It is a value object owned by
// the caller that acquired it; pass it back to Release or Refresh on the
// coordinator that issued it. A Lock is never revalidated in the background:
// Validity is the conservative estimate computed at acquisition time.
type Lock struct {
	// Resource is the key naming the protected resource.
	Resource string
	// Token is the unique value proving current ownership.
	Token string
	// TTL is the lease duration that was requested.
	TTL time.Duration
	// Validity is the remaining lease time estimated at acquisition,
	// after subtracting fan-out latency and the drift margin.
	Validity time.Duration
	// AcquiredAt is the instant the acquisition attempt started.
	AcquiredAt time.Time
}

// Until returns the instant the validity estimate runs out.
func (l *Lock) Until() time.Time {
	return l.AcquiredAt.Add(l.Validity)
}

// Expired reports whether the validity estimate has run out. The key may
// still linger on a minority of instances until the TTL clears it.
func (l *Lock) Expired() bool {
	return time.Now().After(l.Until())
}
