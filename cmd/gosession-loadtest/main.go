// Command gosession-loadtest drives many session controllers through
// sign-in, default-time propagation and sign-out cycles against Redis, or an
// in-process miniredis when no address is configured, and prints latency
// percentiles per phase.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/daytime"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/prefs"
	"github.com/MrEthical07/goSession/profile"
	"github.com/MrEthical07/goSession/provider"
	"github.com/MrEthical07/goSession/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type config struct {
	RedisAddr  string        `env:"REDIS_ADDR"`
	Devices    int           `env:"GOSESSION_LOADTEST_DEVICES"    envDefault:"32"`
	Cycles     int           `env:"GOSESSION_LOADTEST_CYCLES"     envDefault:"20"`
	Schedules  int           `env:"GOSESSION_LOADTEST_SCHEDULES"  envDefault:"14"`
	Prefix     string        `env:"GOSESSION_LOADTEST_PREFIX"     envDefault:"lt"`
	PrefsDir   string        `env:"GOSESSION_LOADTEST_PREFS_DIR"`
	Timeout    time.Duration `env:"GOSESSION_LOADTEST_TIMEOUT"    envDefault:"10s"`
	SigningKey string        `env:"GOSESSION_LOADTEST_SIGNING_KEY" envDefault:"loadtest-signing-key-0123456789ab"`
	LogLevel   string        `env:"GOSESSION_LOG_LEVEL"           envDefault:"warn"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse env: %v\n", err)
		os.Exit(2)
	}
	flag.IntVar(&cfg.Devices, "devices", cfg.Devices, "number of simulated devices, one controller each")
	flag.IntVar(&cfg.Cycles, "cycles", cfg.Cycles, "sign-in/propagate/sign-out cycles per device")
	flag.IntVar(&cfg.Schedules, "schedules", cfg.Schedules, "day schedules seeded per account, half in the past")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address; miniredis when empty")
	flag.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "redis key prefix")
	flag.StringVar(&cfg.PrefsDir, "prefs-dir", cfg.PrefsDir, "directory for per-device sqlite preference files; none when empty")
	flag.Parse()

	if cfg.Devices <= 0 || cfg.Cycles <= 0 || cfg.Schedules < 0 {
		fmt.Fprintln(os.Stderr, "devices and cycles must be > 0, schedules >= 0")
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	client, cleanup, err := openRedis(cfg.RedisAddr)
	if err != nil {
		logger.Error("redis unavailable", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	store := profile.NewStore(client, cfg.Prefix)
	pcfg := provider.DefaultConfig(token.Config{
		TTL:           time.Hour,
		SigningMethod: token.MethodHS256,
		PrivateKey:    []byte(cfg.SigningKey),
		Issuer:        "gosession-loadtest",
	})
	pcfg.RedisPrefix = cfg.Prefix + ":idp"
	pcfg.Password = password.Config{Memory: 16 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MinLength: 8}
	pcfg.SignInThrottle = provider.Throttle{}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		totals = newPhaseSamples()
	)
	start := time.Now()
	for d := 0; d < cfg.Devices; d++ {
		wg.Add(1)
		go func(device int) {
			defer wg.Done()
			samples, err := runDevice(cfg, device, client, store, pcfg, logger)
			if err != nil {
				logger.Error("device failed", slog.Int("device", device), slog.Any("error", err))
			}
			mu.Lock()
			totals.merge(samples)
			mu.Unlock()
		}(d)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("---- results ----")
	fmt.Printf("devices=%d cycles=%d total=%s\n", cfg.Devices, cfg.Cycles, elapsed.Round(time.Millisecond))
	for _, phase := range phases {
		printStats(phase, computeStats(totals.latencies[phase], totals.failures[phase]))
	}
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

const (
	phaseSignIn    = "sign-in"
	phasePropagate = "propagate"
	phaseSignOut   = "sign-out"
)

var phases = []string{phaseSignIn, phasePropagate, phaseSignOut}

type phaseSamples struct {
	latencies map[string][]time.Duration
	failures  map[string]int64
}

func newPhaseSamples() *phaseSamples {
	return &phaseSamples{
		latencies: make(map[string][]time.Duration, len(phases)),
		failures:  make(map[string]int64, len(phases)),
	}
}

func (p *phaseSamples) record(phase string, d time.Duration, err error) {
	if err != nil {
		p.failures[phase]++
		return
	}
	p.latencies[phase] = append(p.latencies[phase], d)
}

func (p *phaseSamples) merge(other *phaseSamples) {
	if other == nil {
		return
	}
	for k, v := range other.latencies {
		p.latencies[k] = append(p.latencies[k], v...)
	}
	for k, v := range other.failures {
		p.failures[k] += v
	}
}

func runDevice(cfg config, device int, client redis.UniversalClient, store *profile.Store, pcfg provider.Config, logger *slog.Logger) (*phaseSamples, error) {
	samples := newPhaseSamples()
	ctx := context.Background()
	log := logger.With(slog.Int("device", device))

	gw, err := provider.New(client, pcfg, provider.WithLogger(log))
	if err != nil {
		return samples, err
	}
	defer gw.Close()

	b := goSession.New().
		WithGateway(gw).
		WithProfileStore(store).
		WithLogger(log).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true)
	if cfg.PrefsDir != "" {
		ps, err := prefs.Open(fmt.Sprintf("%s/device-%d.db", cfg.PrefsDir, device))
		if err != nil {
			return samples, err
		}
		defer ps.Close()
		b = b.WithPreferenceStore(ps)
	}
	c, err := b.Build()
	if err != nil {
		return samples, err
	}
	defer c.Close()
	if err := c.Start(ctx); err != nil {
		return samples, err
	}

	email := fmt.Sprintf("device-%d-%s@loadtest.example", device, uuid.NewString()[:8])
	const pw = "loadtest-password"
	if err := c.CreateAccount(ctx, email, pw); err != nil {
		return samples, err
	}
	if err := awaitSession(ctx, c, cfg.Timeout, func(s goSession.Session) bool { return s.Profile != nil }); err != nil {
		return samples, err
	}
	if err := seedSchedules(ctx, store, c.Snapshot().Identity.UID, cfg.Schedules); err != nil {
		return samples, err
	}
	if err := c.SignOut(ctx); err != nil {
		return samples, err
	}

	for i := 0; i < cfg.Cycles; i++ {
		t0 := time.Now()
		err := c.SignIn(ctx, email, pw)
		if err == nil {
			err = awaitSession(ctx, c, cfg.Timeout, func(s goSession.Session) bool { return s.Profile != nil })
		}
		samples.record(phaseSignIn, time.Since(t0), err)
		if err != nil {
			log.Warn("sign-in failed", slog.Any("error", err))
			continue
		}

		t0 = time.Now()
		wake := daytime.Of(5+i%3, (i*7)%60)
		sleep := daytime.Of(21+i%3, (i*11)%60)
		err = propagate(ctx, c, wake, sleep, cfg.Timeout)
		samples.record(phasePropagate, time.Since(t0), err)
		if err != nil {
			log.Warn("propagation failed", slog.Any("error", err))
		}

		t0 = time.Now()
		err = c.SignOut(ctx)
		if err == nil {
			err = awaitSession(ctx, c, cfg.Timeout, func(s goSession.Session) bool { return !s.SignedIn() })
		}
		samples.record(phaseSignOut, time.Since(t0), err)
	}

	m := c.MetricsSnapshot()
	log.Info("device done",
		slog.Uint64("sign_ins", m.Counters[goSession.MetricSignInSuccess]),
		slog.Uint64("schedules_updated", m.Counters[goSession.MetricSchedulesUpdated]),
		slog.Uint64("stale_dropped", m.Counters[goSession.MetricStaleProfileDropped]),
	)
	return samples, nil
}

// seedSchedules writes n schedules centred on today so half of them are
// past dates that propagation must leave alone.
func seedSchedules(ctx context.Context, store *profile.Store, uid string, n int) error {
	today := time.Now()
	for i := 0; i < n; i++ {
		day := today.AddDate(0, 0, i-n/2)
		s := goSession.DaySchedule{
			Date:      daytime.DateOf(day, time.Local),
			WakeTime:  daytime.Of(7, 0),
			SleepTime: daytime.Of(23, 0),
		}
		if err := store.PutSchedule(ctx, uid, s); err != nil {
			return err
		}
	}
	return nil
}

func propagate(ctx context.Context, c *goSession.Controller, wake, sleep goSession.TimeOfDay, timeout time.Duration) error {
	results, err := c.SetDefaultTimes(ctx, wake, sleep)
	if err != nil {
		return err
	}
	select {
	case r := <-results:
		return r.Err
	case <-time.After(timeout):
		return errors.New("propagation timed out")
	}
}

func awaitSession(ctx context.Context, c *goSession.Controller, timeout time.Duration, cond func(goSession.Session) bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for s := range c.Watch(ctx) {
		if cond(s) {
			return nil
		}
	}
	if cond(c.Snapshot()) {
		return nil
	}
	return fmt.Errorf("session condition not met: %w", ctx.Err())
}

type phaseStats struct {
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	max      time.Duration
}

func computeStats(samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		max:      samples[len(samples)-1],
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
	fmt.Printf("%s: ops=%d failures=%d p50=%s p95=%s p99=%s max=%s\n",
		name,
		s.ops,
		s.failures,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
		s.max.Round(time.Microsecond),
	)
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelWarn
	}
	return level
}
