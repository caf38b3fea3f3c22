package redlock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bslinger/go-redlock/v1/store"
)

var tracer = otel.Tracer("github.com/bslinger/go-redlock/v1/redlock")

var (
	// ErrNotAcquired is returned when the lock could not be obtained after
	// the configured number of attempts. Contention is a routine outcome;
	// match with errors.Is and skip or retry at the caller's pace.
	ErrNotAcquired = errors.New("redlock: lock not acquired")
	// ErrLockLost is returned when a refresh fails to reacquire the lease.
	// Work running under the old lease must stop: another holder may own
	// the resource already.
	ErrLockLost = errors.New("redlock: lock lost")
	// ErrNoStores is returned by New when no store instances are provided.
	ErrNoStores = errors.New("redlock: at least one store is required")
	// ErrInvalidTTL is returned when a non-positive TTL is provided.
	ErrInvalidTTL = errors.New("redlock: ttl must be positive")
)

const (
	// DefaultRetryCount is the default number of acquisition attempts.
	DefaultRetryCount = 3
	// DefaultRetryDelay is the default upper bound of the jittered delay
	// between acquisition attempts.
	DefaultRetryDelay = 200 * time.Millisecond

	// driftFactor scales the TTL into the safety margin subtracted from
	// the validity estimate, compensating for backend clock imprecision.
	driftFactor = 0.01
	// minDrift keeps the margin meaningful for small TTLs; backend expiry
	// precision is about a millisecond.
	minDrift = 2 * time.Millisecond
)

// DelayFunc computes the pause before the next acquisition attempt.
// attempt counts from 1.
type DelayFunc func(attempt int) time.Duration

// Coordinator implements the quorum lock algorithm over a fixed set of
// store instances. The set is immutable after construction and the
// coordinator holds no other mutable state, so a single instance is safe
// for concurrent use.
type Coordinator struct {
	stores     []store.Store
	quorum     int
	retryCount int
	retryDelay time.Duration
	delayFn    DelayFunc

	traceEnabled bool

	acquireCounter prometheus.Counter
	missCounter    prometheus.Counter
	releaseCounter prometheus.Counter
	refreshCounter prometheus.Counter
	lostCounter    prometheus.Counter
	acquireLatency prometheus.Histogram
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetryCount sets the number of acquisition attempts. Values below one
// are treated as one.
func WithRetryCount(n int) Option {
	return func(c *Coordinator) {
		if n >= 1 {
			c.retryCount = n
		}
	}
}

// WithRetryDelay sets the upper bound of the jittered delay between
// acquisition attempts. The actual pause falls in [d/2, d].
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithDelayFunc replaces the jittered backoff entirely. Useful to make
// retry timing deterministic in tests.
func WithDelayFunc(fn DelayFunc) Option {
	return func(c *Coordinator) {
		c.delayFn = fn
	}
}

// WithTracing enables OpenTelemetry spans around lock operations.
func WithTracing() Option {
	return func(c *Coordinator) {
		c.traceEnabled = true
	}
}

// WithMetrics enables Prometheus metrics collection using the provided
// registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.acquireCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlock_acquired_total",
			Help: "Total number of successful lock acquisitions",
		})
		c.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlock_not_acquired_total",
			Help: "Total number of acquisitions that exhausted their attempts",
		})
		c.releaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlock_released_total",
			Help: "Total number of lock releases",
		})
		c.refreshCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlock_refreshed_total",
			Help: "Total number of successful lock refreshes",
		})
		c.lostCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlock_lost_total",
			Help: "Total number of leases lost during refresh",
		})
		c.acquireLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "redlock_acquire_latency_seconds",
			Help:    "Latency of lock acquisitions, including retries",
			Buckets: prometheus.DefBuckets,
		})
		reg.MustRegister(c.acquireCounter, c.missCounter, c.releaseCounter,
			c.refreshCounter, c.lostCounter, c.acquireLatency)
	}
}

// New returns a Coordinator over the given store instances. The quorum is
// min(n, n/2+1), computed once. The coordinator never manages the stores'
// connection lifecycles.
func New(stores []store.Store, opts ...Option) (*Coordinator, error) {
	if len(stores) == 0 {
		return nil, ErrNoStores
	}
	set := make([]store.Store, len(stores))
	copy(set, stores)
	quorum := len(set)/2 + 1
	if quorum > len(set) {
		quorum = len(set)
	}
	c := &Coordinator{
		stores:     set,
		quorum:     quorum,
		retryCount: DefaultRetryCount,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.delayFn == nil {
		c.delayFn = func(int) time.Duration {
			half := c.retryDelay / 2
			return half + time.Duration(rand.Int63n(int64(half)+1))
		}
	}
	return c, nil
}

// Quorum returns the number of instances whose grant makes an acquisition
// authoritative.
func (c *Coordinator) Quorum() int { return c.quorum }

// Acquire attempts to obtain the lock on resource for ttl. Each attempt
// races a fresh token against every instance; success requires a quorum of
// grants and a positive validity estimate. Between attempts the coordinator
// sleeps a jittered delay and honours context cancellation. Exhausting all
// attempts returns ErrNotAcquired.
func (c *Coordinator) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, "Redlock.Acquire",
			trace.WithAttributes(attribute.String("redlock.resource", resource)))
		defer span.End()
	}
	var start time.Time
	if c.acquireLatency != nil {
		start = time.Now()
		defer func() {
			c.acquireLatency.Observe(time.Since(start).Seconds())
		}()
	}

	for attempt := 1; attempt <= c.retryCount; attempt++ {
		lock, ok := c.tryOnce(ctx, resource, ttl)
		if ok {
			if c.acquireCounter != nil {
				c.acquireCounter.Inc()
			}
			if c.traceEnabled {
				span.SetAttributes(
					attribute.Int("redlock.attempts", attempt),
					attribute.Int64("redlock.validity_ms", lock.Validity.Milliseconds()),
				)
			}
			return lock, nil
		}
		if attempt == c.retryCount {
			break
		}
		select {
		case <-time.After(c.delayFn(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.missCounter != nil {
		c.missCounter.Inc()
	}
	return nil, ErrNotAcquired
}

// tryOnce runs a single acquisition attempt: one token, one fan-out, one
// quorum decision. Partial grants are cleaned up before reporting failure.
func (c *Coordinator) tryOnce(ctx context.Context, resource string, ttl time.Duration) (*Lock, bool) {
	token := uuid.NewString()
	// The elapsed time is anchored before the first call so the validity
	// estimate covers the slowest instance even with a concurrent fan-out.
	start := time.Now()
	granted := c.fanOutSet(ctx, resource, token, ttl)
	drift := time.Duration(float64(ttl)*driftFactor) + minDrift
	validity := ttl - time.Since(start) - drift
	if granted >= c.quorum && validity > 0 {
		return &Lock{
			Resource:   resource,
			Token:      token,
			TTL:        ttl,
			Validity:   validity,
			AcquiredAt: start,
		}, true
	}
	c.fanOutDelete(ctx, resource, token)
	return nil, false
}

// Release frees the lock on every instance with a token-checked delete.
// It is idempotent and safe to call after expiry: a mismatched or missing
// token is a no-op on that instance, so another holder's lease is never
// touched. Per-instance failures are absorbed; the TTL is the backstop.
func (c *Coordinator) Release(ctx context.Context, lock *Lock) {
	if lock == nil {
		return
	}
	if c.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Redlock.Release",
			trace.WithAttributes(attribute.String("redlock.resource", lock.Resource)))
		defer span.End()
	}
	c.fanOutDelete(ctx, lock.Resource, lock.Token)
	if c.releaseCounter != nil {
		c.releaseCounter.Inc()
	}
}

// Refresh extends the lease by releasing it and immediately reacquiring the
// resource with the same TTL. On success it returns a replacement Lock with
// a new token; the old handle must not be used again. On failure the lease
// is gone: the error matches ErrLockLost and any work that depended on the
// lease must stop. A nil handle reports loss as well.
func (c *Coordinator) Refresh(ctx context.Context, lock *Lock) (*Lock, error) {
	if lock == nil {
		return nil, ErrLockLost
	}
	c.Release(ctx, lock)
	next, err := c.Acquire(ctx, lock.Resource, lock.TTL)
	if err != nil {
		if c.lostCounter != nil {
			c.lostCounter.Inc()
		}
		if errors.Is(err, ErrNotAcquired) {
			return nil, ErrLockLost
		}
		return nil, fmt.Errorf("%w: %w", ErrLockLost, err)
	}
	if c.refreshCounter != nil {
		c.refreshCounter.Inc()
	}
	return next, nil
}

// fanOutSet issues the conditional set on every instance concurrently and
// returns the number of grants. Instance errors count as misses.
func (c *Coordinator) fanOutSet(ctx context.Context, key, token string, ttl time.Duration) int {
	var granted atomic.Int64
	var wg sync.WaitGroup
	for _, s := range c.stores {
		wg.Add(1)
		go func(s store.Store) {
			defer wg.Done()
			if ok, err := s.SetIfAbsent(ctx, key, token, ttl); err == nil && ok {
				granted.Add(1)
			}
		}(s)
	}
	wg.Wait()
	return int(granted.Load())
}

// fanOutDelete issues the token-checked delete on every instance
// concurrently, ignoring individual outcomes.
func (c *Coordinator) fanOutDelete(ctx context.Context, key, token string) {
	var wg sync.WaitGroup
	for _, s := range c.stores {
		wg.Add(1)
		go func(s store.Store) {
			defer wg.Done()
			_, _ = s.DeleteIfMatch(ctx, key, token)
		}(s)
	}
	wg.Wait()
}
