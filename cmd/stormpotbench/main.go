// Command stormpotbench is a small load-test driver for the stormpot
// pool: it claims and releases byte buffers from a pool of configurable
// size and concurrency, reporting allocation/claim counts on exit. It
// plays the role the teacher's orchestrator main.go played — a
// flag-bootstrapped process that wires the pool up and shuts it down
// cleanly on signal — re-expressed with cobra instead of a bare flag set,
// and against a generic pool instead of an HTTP proxy.
package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nameliyang/stormpot-go"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		size        int
		workers     int
		bufferBytes int
		ttl         time.Duration
		duration    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stormpotbench",
		Short: "Drive a stormpot pool of in-memory byte buffers under concurrent load",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), size, workers, bufferBytes, ttl, duration)
		},
	}

	cmd.Flags().IntVar(&size, "size", 10, "target pool size")
	cmd.Flags().IntVar(&workers, "workers", 20, "number of concurrent claimers")
	cmd.Flags().IntVar(&bufferBytes, "buffer-bytes", 4096, "size of each allocated buffer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expiration TTL; 0 uses the pool's default jittered TTL")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to run the benchmark")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd.SetContext(ctx)
	cmd.PostRun = func(*cobra.Command, []string) { cancel() }

	return cmd
}

func run(ctx context.Context, size, workers, bufferBytes int, ttl, duration time.Duration) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	cfg := stormpot.Config[*bytes.Buffer]{
		Size: size,
		Allocator: stormpot.AllocatorFunc[*bytes.Buffer]{
			AllocateFunc: func() (*bytes.Buffer, error) {
				buf := bytes.NewBuffer(make([]byte, 0, bufferBytes))
				return buf, nil
			},
			DeallocateFunc: func(*bytes.Buffer) error { return nil },
		},
		Logger: &logger,
	}
	if ttl > 0 {
		exp, err := stormpot.NewTimeExpiration[*bytes.Buffer](ttl)
		if err != nil {
			return err
		}
		cfg.Expiration = exp
	}

	pool, err := stormpot.NewPool(cfg)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var claims, failures int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for runCtx.Err() == nil {
				lease, err := pool.Claim(runCtx)
				if err != nil {
					mu.Lock()
					failures++
					mu.Unlock()
					continue
				}
				lease.Value().WriteByte(byte(rand.Intn(256)))
				time.Sleep(time.Millisecond)
				_ = lease.Release(false)
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stats := pool.Stats()
	completion := pool.Shutdown()
	completion.Await(context.Background())

	logger.Info().
		Int64("claims", claims).
		Int64("claim_failures", failures).
		Int64("allocation_attempts", stats.AllocationAttempts).
		Int64("slots_created", stats.SlotsCreated).
		Int64("tombstoned", stats.Tombstoned).
		Msg("benchmark complete")

	return nil
}
