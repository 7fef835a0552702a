// Command kairos-loadtest measures Login, ValidateSession and the
// two-factor step against Redis (or an embedded miniredis) with in-memory
// credentials.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/kairosauth"
	"github.com/MrEthical07/kairosauth/credential"
	"github.com/MrEthical07/kairosauth/password"
	"github.com/MrEthical07/kairosauth/store/memory"
	"github.com/MrEthical07/kairosauth/totp"
)

const loadPassword = "Loadtest1!"

type seededUser struct {
	email  string
	secret string
}

func main() {
	var (
		users       = flag.Int("users", 200, "number of accounts to seed; every other one has 2FA")
		concurrency = flag.Int("concurrency", 32, "number of concurrent workers")
		ops         = flag.Int("ops", 2000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		argonMemory = flag.Uint("argon-memory", 8*1024, "argon2 memory in KB for seeded hashes")
	)
	flag.Parse()

	if *users < 2 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users must be >= 2, concurrency and ops must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := kairosauth.DefaultConfig()
	cfg.Password.Memory = uint32(*argonMemory)
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.UpgradeOnLogin = false
	cfg.Security.EnableLoginThrottle = false
	cfg.Security.EnableIPThrottle = false
	cfg.Audit.Enabled = false
	// Users log in many times per TOTP step.
	cfg.TOTP.EnforceReplayProtection = false
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = randomKey()

	creds := memory.NewCredentials()
	engine, err := kairosauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(creds).
		WithTokenStore(memory.NewTokens()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	seeded, err := seedUsers(ctx, creds, cfg, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	var plain, twoFactor []seededUser
	for _, u := range seeded {
		if u.secret == "" {
			plain = append(plain, u)
		} else {
			twoFactor = append(twoFactor, u)
		}
	}

	var (
		tokensMu sync.Mutex
		tokens   []string
	)
	loginStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		u := plain[r.Intn(len(plain))]
		res, err := engine.Login(ctx, kairosauth.LoginRequest{Email: u.email, Password: loadPassword})
		if err != nil {
			return err
		}
		tokensMu.Lock()
		tokens = append(tokens, res.Session.AccessToken)
		tokensMu.Unlock()
		return nil
	})

	if len(tokens) == 0 {
		fmt.Fprintln(os.Stderr, "no sessions created; skipping validate phase")
		os.Exit(1)
	}
	validateStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		_, err := engine.ValidateSession(ctx, tokens[r.Intn(len(tokens))])
		return err
	})

	gen := totp.New(totp.DefaultConfig())
	twoFactorStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		u := twoFactor[r.Intn(len(twoFactor))]
		res, err := engine.Login(ctx, kairosauth.LoginRequest{Email: u.email, Password: loadPassword})
		if err != nil {
			return err
		}
		code, err := gen.CodeAt(u.secret, time.Now())
		if err != nil {
			return err
		}
		_, err = engine.VerifyTwoFactor(ctx, res.PendingID, kairosauth.TwoFactorSubmission{Code: code})
		return err
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("validate", validateStats)
	printStats("login+2fa", twoFactorStats)
}

func seedUsers(ctx context.Context, creds *memory.Credentials, cfg kairosauth.Config, n int) ([]seededUser, error) {
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	// One hash for every account keeps seeding fast.
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	gen := totp.New(totp.DefaultConfig())
	now := time.Now()
	out := make([]seededUser, 0, n)
	for i := 0; i < n; i++ {
		u := seededUser{email: fmt.Sprintf("load-%d@example.com", i)}
		user, err := creds.Create(ctx, credential.NewUser{
			ID:           fmt.Sprintf("load-%d", i),
			Email:        u.email,
			PasswordHash: hash,
			CreatedAt:    now,
		})
		if err != nil {
			return nil, err
		}
		if err := creds.MarkEmailVerified(ctx, user.ID, now); err != nil {
			return nil, err
		}
		if i%2 == 1 {
			if u.secret, err = gen.GenerateSecret(); err != nil {
				return nil, err
			}
			if err := creds.EnableTwoFactor(ctx, user.ID, u.secret, nil, now); err != nil {
				return nil, err
			}
		}
		out = append(out, u)
	}
	return out, nil
}

func runPhase(ops, concurrency int, op func(r *mrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
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
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func randomKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return key
}
