// Command bench runs a synthetic workload against the cache and exposes optional pprof/Prometheus endpoints.
//
// Reads go through Get, so misses invoke the loader (with an optional
// simulated latency) and concurrent misses on one key share a single load.
//
//	bench --duration 5s --keys 200000 --size 50000 --policy 2q
//	bench --config cache.yaml --http :8080 --pprof :6060
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/IvanBrykalov/loadcache/cache"
	"github.com/IvanBrykalov/loadcache/config"
	pmet "github.com/IvanBrykalov/loadcache/metrics/prom"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "synthetic Zipf workload against a loading cache",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML/JSON cache spec; overrides --size/--shards/--policy"},
			&cli.IntFlag{Name: "size", Value: 100_000, Usage: "maximum entries"},
			&cli.IntFlag{Name: "shards", Usage: "number of shards (0=auto)"},
			&cli.StringFlag{Name: "policy", Value: "lru", Usage: "eviction policy: lru | 2q"},
			&cli.DurationFlag{Name: "ttl", Usage: "expire-after-write (0=off)"},

			&cli.IntFlag{Name: "workers", Value: 2 * runtime.GOMAXPROCS(0), Usage: "number of worker goroutines"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Value: 10 * time.Second, Usage: "benchmark duration"},
			&cli.IntFlag{Name: "reads", Value: 80, Usage: "read percentage [0..100]"},
			&cli.DurationFlag{Name: "load-latency", Usage: "simulated loader latency"},

			&cli.IntFlag{Name: "keys", Value: 1_000_000, Usage: "keyspace size"},
			&cli.Float64Flag{Name: "zipf-s", Value: 1.1, Usage: "Zipf s > 1 (skew)"},
			&cli.Float64Flag{Name: "zipf-v", Value: 1.0, Usage: "Zipf v"},
			&cli.Int64Flag{Name: "seed", Value: time.Now().UnixNano(), Usage: "random seed"},

			&cli.StringFlag{Name: "pprof", Usage: "serve pprof at addr (e.g. :6060); empty = disabled"},
			&cli.StringFlag{Name: "http", Value: ":8080", Usage: "serve Prometheus metrics at addr; empty = disabled"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// ---- pprof server (on DefaultServeMux) ----
	if addr := cmd.String("pprof"); addr != "" {
		go func() {
			logger.Info("pprof: serving", "addr", addr)
			logger.Error("pprof: server stopped", "err", http.ListenAndServe(addr, nil))
		}()
	}

	// ---- Prometheus metrics ----
	var metrics cache.Metrics = cache.NoopMetrics{}
	if addr := cmd.String("http"); addr != "" {
		metrics = pmet.New(nil, "loadcache", "bench", nil)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info("metrics: serving", "addr", addr)
			logger.Error("metrics: server stopped", "err", http.ListenAndServe(addr, mux))
		}()
	}

	// ---- Build cache ----
	latency := cmd.Duration("load-latency")
	opt := cache.Options[string, string]{
		Metrics: metrics,
		Logger:  logger,
		Loader: func(ctx context.Context, k string) (string, error) {
			if latency > 0 {
				t := time.NewTimer(latency)
				defer t.Stop()
				select {
				case <-t.C:
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			return "v:" + k, nil
		},
	}
	spec := config.Spec{
		MaximumSize:      cmd.Int("size"),
		Shards:           cmd.Int("shards"),
		Policy:           cmd.String("policy"),
		ExpireAfterWrite: cmd.Duration("ttl"),
	}
	if path := cmd.String("config"); path != "" {
		var err error
		if spec, err = config.Load(path); err != nil {
			return err
		}
	}
	if err := config.Apply(spec, &opt); err != nil {
		return err
	}
	if exec := spec.NewExecutor(logger); exec != nil {
		defer exec.Close()
		opt.Executor = exec
	}
	c, err := cache.New(opt)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	// ---- Preload half the bound to get a realistic hit-rate ----
	for i := range max(spec.MaximumSize/2, 0) {
		k := "k:" + strconv.Itoa(i)
		c.Put(k, "v:"+k)
	}

	workersN := max(cmd.Int("workers"), 1)
	readPct := cmd.Int("reads")
	keysMax := uint64(max(cmd.Int("keys"), 2) - 1)
	seedBase := cmd.Int64("seed")
	zipfS, zipfV := cmd.Float64("zipf-s"), cmd.Float64("zipf-v")

	// ---- Load generation ----
	var reads, writes, failures, total atomic.Uint64
	runCtx, cancel := context.WithTimeout(ctx, cmd.Duration("duration"))
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for w := range workersN {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfS, zipfV, keysMax)
			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for runCtx.Err() == nil {
				total.Add(1)
				if int(localR.Int31n(100)) < readPct {
					reads.Add(1)
					if _, err := c.Get(runCtx, keyByZipf()); err != nil && runCtx.Err() == nil {
						failures.Add(1)
						logger.Debug("get failed", "err", err)
					}
				} else {
					writes.Add(1)
					c.Put(keyByZipf(), "v"+strconv.Itoa(localR.Int()))
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	st := c.Stats()
	ops := total.Load()
	fmt.Printf("policy=%s size=%d shards=%d workers=%d keys=%d dur=%v seed=%d\n",
		spec.Policy, spec.MaximumSize, spec.Shards, workersN, keysMax+1, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d  failures=%d\n",
		ops, float64(ops)/elapsed.Seconds(), reads.Load(), writes.Load(), failures.Load())
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", st.Hits, st.Misses, st.HitRatio()*100)
	fmt.Printf("loads=%d  load-failures=%d  avg-load=%v  evictions=%d\n",
		st.LoadSuccesses, st.LoadFailures, avgLoad(st), st.Evictions)
	fmt.Printf("Len()=%d\n", c.Len())
	return nil
}

func avgLoad(st cache.Stats) time.Duration {
	n := st.LoadSuccesses + st.LoadFailures
	if n == 0 {
		return 0
	}
	return st.TotalLoadTime / time.Duration(n)
}
