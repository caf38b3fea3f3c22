package store

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var deleteIfMatchScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis implements Store using a single Redis instance.
type Redis struct {
	client *redis.Client
	addr   string
}

// NewRedis returns a Store backed by the provided client. The caller keeps
// ownership of the client and its connection lifecycle.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, addr: client.Options().Addr}
}

// SetIfAbsent implements Store using SET NX PX.
func (r *Redis) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

// DeleteIfMatch implements Store with a single server-side script so the
// value check and the delete cannot race against expiry or reacquisition.
func (r *Redis) DeleteIfMatch(ctx context.Context, key, expected string) (bool, error) {
	n, err := deleteIfMatchScript.Run(ctx, r.client, []string{key}, expected).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Addr implements Store.
func (r *Redis) Addr() string { return r.addr }

// NewRedisSet builds one Store per address. The returned closer shuts down
// every client; callers that pass their own clients via NewRedis manage
// those lifecycles themselves.
func NewRedisSet(addrs []string) ([]Store, func() error) {
	stores := make([]Store, 0, len(addrs))
	clients := make([]*redis.Client, 0, len(addrs))
	for _, addr := range addrs {
		client := redis.NewClient(&redis.Options{Addr: addr})
		clients = append(clients, client)
		stores = append(stores, NewRedis(client))
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
	return stores, closer
}
