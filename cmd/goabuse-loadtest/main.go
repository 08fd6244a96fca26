package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goAbuse "github.com/MrEthical07/goAbuse"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		keys        = flag.Int("keys", 10000, "number of distinct abuse keys in the throughput phase")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "checks in the throughput phase")
		hot         = flag.Int("hot", 64, "simultaneous checks on one key in the convergence phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		namespace   = flag.String("namespace", "abuse_loadtest", "store key namespace")
		atomicMode  = flag.Bool("atomic", false, "run each check as one Lua script")
	)
	flag.Parse()

	if *keys <= 0 || *concurrency <= 0 || *ops <= 0 || *hot <= 0 {
		fmt.Fprintln(os.Stderr, "keys, concurrency, ops and hot must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goAbuse.DefaultConfig()
	cfg.KeyNamespace = *namespace
	cfg.Atomic = *atomicMode
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := goAbuse.New().WithConfig(cfg).WithRedis(client).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	policy, err := engine.Policy("login")
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy: %v\n", err)
		os.Exit(1)
	}

	run := fmt.Sprintf("%d", time.Now().UnixNano())
	checkStats := runCheckPhase(ctx, engine, policy, run, *keys, *ops, *concurrency)
	conv := runConvergencePhase(ctx, engine, policy, run, *hot)

	fmt.Println("---- results ----")
	fmt.Printf("mode: atomic=%v\n", *atomicMode)
	printStats("check", checkStats)
	printConvergence(conv, policy)

	snap := engine.MetricsSnapshot()
	fmt.Printf("counters: allowed=%d denied=%d temporary=%d extended=%d store_unavailable=%d\n",
		snap.Counters[goAbuse.MetricCheckAllowed],
		snap.Counters[goAbuse.MetricCheckDenied],
		snap.Counters[goAbuse.MetricTemporaryBlock],
		snap.Counters[goAbuse.MetricExtendedBlock],
		snap.Counters[goAbuse.MetricStoreUnavailable],
	)
}

func runCheckPhase(ctx context.Context, engine *goAbuse.Engine, policy goAbuse.Policy, run string, keys, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		denied    int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				key := fmt.Sprintf("%s-ip-%d", run, r.Intn(keys))
				t0 := time.Now()
				d, err := engine.Check(ctx, key, policy)
				elapsed := time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case !d.Allowed:
					atomic.AddInt64(&denied, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	stats := computeStats(total, latencies, failures)
	stats.denied = denied
	return stats
}

type convergence struct {
	allowed   int64
	escalated int64
	refused   int64
	failures  int64
	record    goAbuse.BlockRecord
	blocked   bool
}

// runConvergencePhase releases hot checks on one key at once. Split-step mode
// may allow more than the threshold; atomic mode allows exactly the threshold.
// Either way the key must end up blocked.
func runConvergencePhase(ctx context.Context, engine *goAbuse.Engine, policy goAbuse.Policy, run string, hot int) convergence {
	var (
		wg    sync.WaitGroup
		gate  = make(chan struct{})
		out   convergence
		key   = run + "-hot"
		cfg   = policy.Config()
	)

	for i := 0; i < hot; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			d, err := engine.Check(ctx, key, policy)
			switch {
			case err != nil:
				atomic.AddInt64(&out.failures, 1)
			case d.Allowed:
				atomic.AddInt64(&out.allowed, 1)
			case d.ShortCount > int64(cfg.TempBlockAttempts) || d.LongCount > int64(cfg.BlockRetryLimit):
				atomic.AddInt64(&out.escalated, 1)
			default:
				atomic.AddInt64(&out.refused, 1)
			}
		}()
	}
	close(gate)
	wg.Wait()

	record, ok, err := engine.Block(ctx, key, policy)
	if err != nil {
		atomic.AddInt64(&out.failures, 1)
	}
	out.record, out.blocked = record, ok
	return out
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	denied   int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d denied=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.denied,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func printConvergence(c convergence, policy goAbuse.Policy) {
	fmt.Printf("convergence: allowed=%d (threshold %d) escalated=%d refused=%d failures=%d\n",
		c.allowed, policy.Config().TempBlockAttempts, c.escalated, c.refused, c.failures)
	if !c.blocked {
		fmt.Println("convergence: FAILED, hot key is not blocked")
		return
	}
	fmt.Printf("convergence: blocked tier=%s until=%s\n", c.record.Tier, c.record.BlockedUntil.UTC().Format(time.RFC3339))
}
