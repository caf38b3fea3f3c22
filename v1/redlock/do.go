package redlock

import (
	"context"
	"sync"
	"time"
)

// RefreshFunc extends the lease held around the running work. A nil return
// means the lease was renewed under a new token. An error matching
// ErrLockLost means the lease is gone and the work must stop at this point;
// continuing would run unprotected.
type RefreshFunc func(ctx context.Context) error

// Do acquires the lock on resource, runs fn while holding it and releases
// the lease exactly once on every exit path, including panics inside fn.
//
// fn receives a refresh function it may call at any point to extend the
// lease; long-running work should call it well before the validity estimate
// runs out and return the error it reports. If the lock cannot be acquired
// at all, Do returns ErrNotAcquired without running fn.
func (c *Coordinator) Do(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context, refresh RefreshFunc) error) error {
	lock, err := c.Acquire(ctx, resource, ttl)
	if err != nil {
		return err
	}

	// The current handle changes identity on every successful refresh and
	// vanishes on loss. Guarded so a heartbeat goroutine may refresh while
	// fn runs.
	var mu sync.Mutex
	current := lock

	defer func() {
		mu.Lock()
		l := current
		current = nil
		mu.Unlock()
		if l != nil {
			// Release must still go out when ctx caused the failure.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			c.Release(rctx, l)
		}
	}()

	refresh := func(rctx context.Context) error {
		mu.Lock()
		l := current
		mu.Unlock()
		if l == nil {
			return ErrLockLost
		}
		next, err := c.Refresh(rctx, l)
		if err != nil {
			mu.Lock()
			current = nil
			mu.Unlock()
			return err
		}
		mu.Lock()
		current = next
		mu.Unlock()
		return nil
	}

	return fn(ctx, refresh)
}
