package presets

import (
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/bslinger/go-redlock/v1/redlock"
	"github.com/bslinger/go-redlock/v1/store"
)

// RedisOptions configures the connections to the backing Redis instances.
// Each address should point at an independent instance; running the quorum
// over replicas of a single primary defeats the algorithm.
type RedisOptions struct {
	Addrs    []string
	Password string
	DB       int
}

// NewRedis builds one client per address and returns a coordinator over the
// resulting store set, together with a closer for the connections. The
// coordinator itself never manages the connection lifecycle.
func NewRedis(opts RedisOptions, lockOpts ...redlock.Option) (*redlock.Coordinator, func() error, error) {
	stores := make([]store.Store, 0, len(opts.Addrs))
	clients := make([]*redis.Client, 0, len(opts.Addrs))
	for _, addr := range opts.Addrs {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		clients = append(clients, client)
		stores = append(stores, store.NewRedis(client))
	}
	closer := func() error {
		var first error
		for _, c := range clients {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	coord, err := redlock.New(stores, lockOpts...)
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	return coord, closer, nil
}

// NewInMemory returns a coordinator over n in-memory stores. Useful for
// tests and single-process setups; it provides no cross-process exclusion.
func NewInMemory(n int, lockOpts ...redlock.Option) (*redlock.Coordinator, error) {
	stores := make([]store.Store, n)
	for i := range stores {
		stores[i] = store.NewInMemory(fmt.Sprintf("memory-%d", i))
	}
	return redlock.New(stores, lockOpts...)
}
