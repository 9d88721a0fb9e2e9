package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	crand "crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
	"github.com/MrEthical07/goCustodyAuth/backoffice"
	"github.com/MrEthical07/goCustodyAuth/password"
	"github.com/MrEthical07/goCustodyAuth/secretcodec"
)

const loadPassword = "load-test-password"

func main() {
	var (
		users       = flag.Int("users", 1000, "number of users to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		brokerDelay = flag.Duration("broker-delay", 0, "simulated backoffice latency")
		argonMemory = flag.Uint("argon-memory", 8192, "argon2id memory in KiB")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	cfg := custodyauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-0123456789abcdef")
	cfg.SecretKey = []byte("loadtest-secret-key")
	cfg.Password.Memory = uint32(*argonMemory)
	cfg.Password.Time = 1
	cfg.Security = custodyauth.SecurityConfig{}
	cfg.Metrics.EnableLatencyHistograms = true

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "argon2: %v\n", err)
		os.Exit(1)
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash: %v\n", err)
		os.Exit(1)
	}

	dir := newDirectory(*users, hash)
	engine, err := custodyauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(dir).
		WithDeviceStore(dir).
		WithTwoFactorStore(dir).
		WithTokenBroker(delayBroker{delay: *brokerDelay}).
		WithLogger(zerolog.Nop()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("enrolling %d devices...\n", *users)
	startSeed := time.Now()
	devices := make([]device, *users)
	for i := range devices {
		d, err := newDevice(fmt.Sprintf("device-%d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "device key: %v\n", err)
			os.Exit(1)
		}
		if err := engine.EnrollDevice(ctx, int64(i+1), d.id, d.jwk, ""); err != nil {
			fmt.Fprintf(os.Stderr, "enroll: %v\n", err)
			os.Exit(1)
		}
		devices[i] = d
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	var (
		tokensMu sync.Mutex
		tokens   []string
	)
	loginStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		res, err := engine.Login(ctx, userEmail(r.Intn(*users)+1), loadPassword)
		if err != nil {
			return err
		}
		tokensMu.Lock()
		tokens = append(tokens, res.SessionToken)
		tokensMu.Unlock()
		return nil
	})
	if len(tokens) == 0 {
		fmt.Fprintln(os.Stderr, "no successful logins")
		os.Exit(1)
	}

	verifyStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.VerifySession(tokens[r.Intn(len(tokens))])
		return err
	})

	biometricStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		d := devices[r.Intn(len(devices))]
		ch, err := engine.CreateBiometricChallenge(ctx, d.id)
		if err != nil {
			return err
		}
		sig, err := d.sign(ch.Challenge)
		if err != nil {
			return err
		}
		_, err = engine.LoginBiometric(ctx, d.id, ch.ChallengeID, sig)
		return err
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("verify", verifyStats)
	printStats("biometric", biometricStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("backoffice latency buckets: %v\n", snap.Histograms[custodyauth.MetricBackofficeLatency])
}

func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
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
	return computeStats(time.Since(start), latencies, failures)
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
	return samples[(len(samples)-1)*p/100]
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

type device struct {
	id  string
	key *ecdsa.PrivateKey
	jwk secretcodec.JWK
}

func newDevice(id string) (device, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), crand.Reader)
	if err != nil {
		return device{}, err
	}
	return device{
		id:  id,
		key: key,
		jwk: secretcodec.JWK{
			Kty: "EC",
			Crv: "P-256",
			X:   base64.RawURLEncoding.EncodeToString(key.PublicKey.X.FillBytes(make([]byte, 32))),
			Y:   base64.RawURLEncoding.EncodeToString(key.PublicKey.Y.FillBytes(make([]byte, 32))),
		},
	}, nil
}

func (d device) sign(message string) (string, error) {
	sig, err := jwt.SigningMethodES256.Sign(message, d.key)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

type delayBroker struct {
	delay time.Duration
}

func (b delayBroker) Acquire(ctx context.Context, creds backoffice.Credentials) (*backoffice.Token, error) {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &backoffice.Token{
		Kind:        backoffice.KindConnection,
		AccessToken: "load-access-" + creds.CustomerID,
		ExpiresAt:   time.Now().Add(time.Hour),
		ClientState: creds.ClientState,
	}, nil
}

func userEmail(id int) string {
	return fmt.Sprintf("user%d@load.test", id)
}
