// redlock-run executes a command while holding a distributed lock, in the
// spirit of flock(1). The lease is refreshed in the background while the
// command runs; if the lease is lost the command is killed.
//
//	redlock-run -stores localhost:6379,localhost:6380,localhost:6381 \
//	    -resource nightly-report -ttl 30s -- ./generate-report.sh
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bslinger/go-redlock/v1/presets"
	"github.com/bslinger/go-redlock/v1/redlock"
)

var (
	storesFlag = flag.String("stores", "localhost:6379", "Comma-separated Redis addresses")
	resource   = flag.String("resource", "", "Resource key to lock")
	ttl        = flag.Duration("ttl", 30*time.Second, "Lease TTL")
	retryDelay = flag.Duration("retry-delay", 200*time.Millisecond, "Upper bound of the jittered retry delay")
	retryCount = flag.Int("retry-count", 3, "Number of acquisition attempts")
)

func main() {
	flag.Parse()
	if *resource == "" || flag.NArg() == 0 {
		log.Fatal("usage: redlock-run -resource <key> [flags] -- command [args...]")
	}

	coord, closer, err := presets.NewRedis(
		presets.RedisOptions{Addrs: strings.Split(*storesFlag, ",")},
		redlock.WithRetryDelay(*retryDelay),
		redlock.WithRetryCount(*retryCount),
	)
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer closer()

	ctx := context.Background()
	err = coord.Do(ctx, *resource, *ttl, func(ctx context.Context, refresh redlock.RefreshFunc) error {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()

		cmd := exec.CommandContext(cctx, flag.Arg(0), flag.Args()[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin
		if err := cmd.Start(); err != nil {
			return err
		}

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		ticker := time.NewTicker(*ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case err := <-done:
				return err
			case <-ticker.C:
				if err := refresh(ctx); err != nil {
					log.Printf("lease lost, killing command: %v", err)
					cancel()
					<-done
					return err
				}
			}
		}
	})
	switch {
	case errors.Is(err, redlock.ErrNotAcquired):
		log.Printf("resource %q is locked elsewhere", *resource)
		os.Exit(1)
	case err != nil:
		log.Fatalf("run: %v", err)
	}
}
