package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/bslinger/go-redlock/v1/redlock"
)

var (
	// ErrNoKey is returned when a job yields an empty lock key. This is a
	// configuration fault in the job type's key function, not a runtime
	// race, and is never silently skipped.
	ErrNoKey = errors.New("guard: job yields no lock key")
	// ErrNilCoordinator is returned by New when no coordinator is provided.
	ErrNilCoordinator = errors.New("guard: coordinator is nil")
	// ErrNilKeyFunc is returned by New when no key function is provided.
	ErrNilKeyFunc = errors.New("guard: key function is nil")
)

// KeyFunc derives the lock resource key for a job. Every guarded job type
// declares its key derivation explicitly; there is no implicit field-based
// fallback.
type KeyFunc[J any] func(job J) (string, error)

// Guard runs jobs under a distributed lock so that replicas racing on the
// same job execute it at most once per lease window. A job whose key is
// held elsewhere is skipped silently: duplicates are routine, not errors.
type Guard[J any] struct {
	coord  *redlock.Coordinator
	keyFn  KeyFunc[J]
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// Option configures a Guard.
type Option[J any] func(*Guard[J])

// WithPrefix namespaces every derived key.
func WithPrefix[J any](prefix string) Option[J] {
	return func(g *Guard[J]) {
		g.prefix = prefix
	}
}

// WithLogger sets the logger used for skip and failure notices.
func WithLogger[J any](logger *slog.Logger) Option[J] {
	return func(g *Guard[J]) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New returns a Guard that locks each job's derived key for ttl around its
// execution.
func New[J any](coord *redlock.Coordinator, keyFn KeyFunc[J], ttl time.Duration, opts ...Option[J]) (*Guard[J], error) {
	if coord == nil {
		return nil, ErrNilCoordinator
	}
	if keyFn == nil {
		return nil, ErrNilKeyFunc
	}
	if ttl <= 0 {
		return nil, redlock.ErrInvalidTTL
	}
	g := &Guard[J]{
		coord:  coord,
		keyFn:  keyFn,
		ttl:    ttl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Run derives the job's key, acquires the lock, executes fn and releases on
// every exit path. The boolean reports whether fn ran: (false, nil) means
// another holder owns the key and the job was skipped. fn receives the same
// refresh function as Coordinator.Do; long jobs should call it before the
// lease validity runs out and stop on redlock.ErrLockLost.
func (g *Guard[J]) Run(ctx context.Context, job J, fn func(ctx context.Context, refresh redlock.RefreshFunc) error) (bool, error) {
	key, err := g.keyFn(job)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrNoKey, err)
	}
	if key == "" {
		return false, ErrNoKey
	}
	key = g.prefix + key

	run, uerr := uuid.GenerateUUID()
	if uerr != nil {
		run = "unknown"
	}
	executed := false
	err = g.coord.Do(ctx, key, g.ttl, func(ctx context.Context, refresh redlock.RefreshFunc) error {
		executed = true
		return fn(ctx, refresh)
	})
	switch {
	// Only the outer acquisition's miss is a routine skip. A matching
	// error returned by fn itself (say, a nested Acquire on another
	// resource) is a failure of work that did run and must propagate.
	case errors.Is(err, redlock.ErrNotAcquired) && !executed:
		g.logger.Debug("lock held elsewhere, skipping job", "key", key, "run", run)
		return false, nil
	case errors.Is(err, redlock.ErrLockLost):
		g.logger.Warn("lease lost while job was running", "key", key, "run", run)
	}
	return executed, err
}

// DeriveKey builds a lock key from an explicit prefix and the given fields,
// joined with colons. It is an opt-in convenience for job types whose
// identity is a handful of stringable fields; types with anything more
// involved should write their own KeyFunc.
func DeriveKey(prefix string, fields ...any) string {
	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, prefix)
	for _, f := range fields {
		parts = append(parts, fmt.Sprint(f))
	}
	return strings.Join(parts, ":")
}
