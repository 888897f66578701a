package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures a per-IP rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64       // Token refill rate
	Burst             int           // Max burst size (tokens in bucket)
	CleanupInterval   time.Duration // How often to evict idle clients
	IdleTimeout       time.Duration // Clients unseen this long are evicted
}

// DefaultRateLimitConfig returns 20 req/s with a burst of 40.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		Burst:             40,
		CleanupInterval:   5 * time.Minute,
		IdleTimeout:       10 * time.Minute,
	}
}

// LoginRateLimitConfig allows perMinute sign-in attempts per IP, all of
// which may be spent at once.
func LoginRateLimitConfig(perMinute int) RateLimitConfig {
	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerSecond = float64(perMinute) / 60
	cfg.Burst = perMinute
	return cfg
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	def := DefaultRateLimitConfig()
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a concurrent-safe per-IP rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	config   RateLimitConfig
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func newRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		config:   cfg.withDefaults(),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

type rateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Limit      int
}

func (rl *RateLimiter) allow(ip string) rateLimitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now

	res := rateLimitResult{Limit: rl.config.Burst}
	if v.limiter.AllowN(now, 1) {
		res.Allowed = true
	} else {
		r := v.limiter.ReserveN(now, 1)
		res.RetryAfter = r.DelayFrom(now)
		r.CancelAt(now)
	}
	res.Remaining = int(math.Max(0, math.Floor(v.limiter.TokensAt(now))))
	return res
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.config.IdleTimeout)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// Stop shuts down the background cleanup goroutine. Safe to call twice.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// setRateLimitHeaders adds the IETF draft RateLimit headers, plus
// Retry-After in whole seconds on rejection.
func setRateLimitHeaders(w http.ResponseWriter, res rateLimitResult) {
	w.Header().Set("RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		secs := int64(math.Ceil(res.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
}

// RateLimit returns a middleware that limits requests per client IP.
// Rejected requests are answered by reject, or with a JSON 429 when reject
// is nil. The returned RateLimiter must be stopped.
func RateLimit(cfg RateLimitConfig, reject http.HandlerFunc) (*RateLimiter, func(http.Handler) http.Handler) {
	rl := newRateLimiter(cfg)
	if reject == nil {
		reject = func(w http.ResponseWriter, _ *http.Request) {
			errorJSON(w, "rate limit exceeded", "RESOURCE_EXHAUSTED", http.StatusTooManyRequests)
		}
	}

	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := rl.allow(clientIP(r))
			setRateLimitHeaders(w, res)
			if !res.Allowed {
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return rl, mw
}
