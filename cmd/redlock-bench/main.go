// redlock-bench measures lock throughput under contention: a number of
// workers race for a set of resource keys against the configured stores and
// the tool reports acquisitions, misses and latency.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bslinger/go-redlock/v1/metrics"
	"github.com/bslinger/go-redlock/v1/presets"
	"github.com/bslinger/go-redlock/v1/redlock"
)

var (
	storesFlag  = flag.String("stores", "", "Comma-separated Redis addresses; empty runs against in-memory stores")
	memStores   = flag.Int("mem-stores", 3, "Number of in-memory stores when -stores is empty")
	concurrency = flag.Int("c", 16, "Number of concurrent workers")
	iterations  = flag.Int("n", 1000, "Acquisitions attempted per worker")
	keys        = flag.Int("k", 8, "Number of distinct resource keys")
	ttl         = flag.Duration("ttl", time.Second, "Lease TTL")
)

func main() {
	flag.Parse()

	var coord *redlock.Coordinator
	if *storesFlag == "" {
		log.Printf("Benchmarking against %d in-memory stores", *memStores)
		var err error
		coord, err = presets.NewInMemory(*memStores, redlock.WithRetryCount(1))
		if err != nil {
			log.Fatalf("setup: %v", err)
		}
	} else {
		addrs := strings.Split(*storesFlag, ",")
		log.Printf("Benchmarking against %d Redis stores", len(addrs))
		var closer func() error
		var err error
		coord, closer, err = presets.NewRedis(presets.RedisOptions{Addrs: addrs}, redlock.WithRetryCount(1))
		if err != nil {
			log.Fatalf("setup: %v", err)
		}
		defer closer()
	}

	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)

	var acquired, missed int64
	start := time.Now()

	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < *concurrency; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < *iterations; i++ {
				key := fmt.Sprintf("bench:%d", (w+i)%*keys)
				lock, err := coord.Acquire(ctx, key, *ttl)
				if errors.Is(err, redlock.ErrNotAcquired) {
					atomic.AddInt64(&missed, 1)
					metrics.MissCounter.Inc()
					continue
				}
				if err != nil {
					return err
				}
				atomic.AddInt64(&acquired, 1)
				metrics.AcquireCounter.Inc()
				metrics.HeldGauge.Inc()
				coord.Release(ctx, lock)
				metrics.ReleaseCounter.Inc()
				metrics.HeldGauge.Dec()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("bench: %v", err)
	}

	elapsed := time.Since(start)
	total := acquired + missed
	log.Printf("Finished in %v", elapsed)
	log.Printf("attempts=%d acquired=%d missed=%d", total, acquired, missed)
	log.Printf("throughput=%.0f ops/s avg=%.2fms",
		float64(total)/elapsed.Seconds(),
		elapsed.Seconds()/float64(total)*1000)
}
