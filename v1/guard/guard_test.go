package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bslinger/go-redlock/v1/redlock"
	"github.com/bslinger/go-redlock/v1/store"
)

type job struct {
	Kind string
	ID   int
}

func jobKey(j job) (string, error) {
	return DeriveKey("job", j.Kind, j.ID), nil
}

func newCoordinator(t *testing.T, stores []store.Store) *redlock.Coordinator {
	t.Helper()
	c, err := redlock.New(stores,
		redlock.WithRetryCount(1),
		redlock.WithDelayFunc(func(int) time.Duration { return time.Millisecond }),
	)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func memorySet(n int) []store.Store {
	stores := make([]store.Store, n)
	for i := range stores {
		stores[i] = store.NewInMemory("")
	}
	return stores
}

func TestNewValidation(t *testing.T) {
	stores := memorySet(1)
	coord := newCoordinator(t, stores)

	if _, err := New[job](nil, jobKey, time.Second); !errors.Is(err, ErrNilCoordinator) {
		t.Fatalf("expected ErrNilCoordinator, got %v", err)
	}
	if _, err := New[job](coord, nil, time.Second); !errors.Is(err, ErrNilKeyFunc) {
		t.Fatalf("expected ErrNilKeyFunc, got %v", err)
	}
	if _, err := New[job](coord, jobKey, 0); !errors.Is(err, redlock.ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}

func TestRunExecutesAndReleases(t *testing.T) {
	stores := memorySet(3)
	g, err := New[job](newCoordinator(t, stores), jobKey, time.Second)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	ran := false
	executed, err := g.Run(context.Background(), job{Kind: "report", ID: 7}, func(ctx context.Context, refresh redlock.RefreshFunc) error {
		ran = true
		return nil
	})
	if err != nil || !executed || !ran {
		t.Fatalf("run: executed %v ran %v err %v", executed, ran, err)
	}
	for _, s := range stores {
		if _, ok := s.(*store.InMemory).Get("job:report:7"); ok {
			t.Fatal("key still held after run")
		}
	}
}

func TestRunSkipsWhenHeldElsewhere(t *testing.T) {
	stores := memorySet(3)
	coord := newCoordinator(t, stores)
	g, _ := New[job](coord, jobKey, time.Second)

	lock, err := coord.Acquire(context.Background(), "job:report:7", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer coord.Release(context.Background(), lock)

	executed, err := g.Run(context.Background(), job{Kind: "report", ID: 7}, func(ctx context.Context, refresh redlock.RefreshFunc) error {
		t.Error("duplicate job executed")
		return nil
	})
	if err != nil {
		t.Fatalf("skip must be silent, got %v", err)
	}
	if executed {
		t.Fatal("duplicate job reported as executed")
	}
}

func TestRunConcurrentDuplicatesExecuteOnce(t *testing.T) {
	stores := memorySet(3)
	ran := make(chan struct{}, 4)
	done := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		g, _ := New[job](newCoordinator(t, stores), jobKey, time.Second)
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = g.Run(context.Background(), job{Kind: "report", ID: 7}, func(ctx context.Context, refresh redlock.RefreshFunc) error {
				ran <- struct{}{}
				time.Sleep(50 * time.Millisecond)
				return nil
			})
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	if got := len(ran); got > 1 {
		t.Fatalf("expected at most one execution, got %d", got)
	}
}

func TestRunEmptyKeyIsAFault(t *testing.T) {
	g, _ := New[job](newCoordinator(t, memorySet(1)), func(job) (string, error) { return "", nil }, time.Second)
	if _, err := g.Run(context.Background(), job{}, func(context.Context, redlock.RefreshFunc) error {
		return nil
	}); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}

	boom := errors.New("missing id")
	g, _ = New[job](newCoordinator(t, memorySet(1)), func(job) (string, error) { return "", boom }, time.Second)
	if _, err := g.Run(context.Background(), job{}, func(context.Context, redlock.RefreshFunc) error {
		return nil
	}); !errors.Is(err, ErrNoKey) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped ErrNoKey, got %v", err)
	}
}

func TestRunPropagatesHandlerError(t *testing.T) {
	g, _ := New[job](newCoordinator(t, memorySet(3)), jobKey, time.Second, WithPrefix[job]("jobs:"))

	boom := errors.New("boom")
	executed, err := g.Run(context.Background(), job{Kind: "x", ID: 1}, func(context.Context, redlock.RefreshFunc) error {
		return boom
	})
	if !executed || !errors.Is(err, boom) {
		t.Fatalf("executed %v err %v", executed, err)
	}
}

func TestRunPropagatesNestedContentionError(t *testing.T) {
	stores := memorySet(3)
	coord := newCoordinator(t, stores)
	g, _ := New[job](coord, jobKey, time.Second)
	ctx := context.Background()

	// The job runs but fails acquiring a different resource inside; that
	// contention error belongs to the executed work, not to the guard's
	// own acquisition, and must not be reported as a duplicate skip.
	inner, err := coord.Acquire(ctx, "other-resource", time.Second)
	if err != nil {
		t.Fatalf("acquire inner resource: %v", err)
	}
	defer coord.Release(ctx, inner)

	executed, err := g.Run(ctx, job{Kind: "report", ID: 7}, func(ctx context.Context, refresh redlock.RefreshFunc) error {
		_, err := coord.Acquire(ctx, "other-resource", time.Second)
		return err
	})
	if !executed {
		t.Fatal("job ran but was reported as skipped")
	}
	if !errors.Is(err, redlock.ErrNotAcquired) {
		t.Fatalf("expected the job's error to propagate, got %v", err)
	}
}

func TestDeriveKey(t *testing.T) {
	if got := DeriveKey("job", "report", 7); got != "job:report:7" {
		t.Fatalf("derive: %q", got)
	}
	if got := DeriveKey("job"); got != "job" {
		t.Fatalf("derive with no fields: %q", got)
	}
}
