package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/piewallah/pw-gateway/internal/config"
	"github.com/piewallah/pw-gateway/internal/logging"
)

// Limit is the bucket shape of one family of routes. Zero fields take the
// gateway-wide values from RateLimitConfig.
type Limit struct {
	Family   string
	Capacity int
	Refill   int
}

// tokenBucket takes one token from KEYS[1] and answers
// {allowed, remaining, retry_after_ms}.
var tokenBucket = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'ts')
	local tokens = tonumber(state[1]) or capacity
	local ts = tonumber(state[2]) or now_ms
	if tokens > capacity then tokens = capacity end

	local steps = math.floor(math.max(0, now_ms - ts) / interval_ms)
	if steps > 0 then
		tokens = math.min(capacity, tokens + steps * refill)
		ts = ts + steps * interval_ms
	end

	local wait = 0
	local allowed = 0
	if tokens >= 1 then
		allowed = 1
		tokens = tokens - 1
	else
		wait = math.max(0, interval_ms - (now_ms - ts))
	end
	redis.call('HSET', key, 'tokens', tokens, 'ts', ts)
	redis.call('EXPIRE', key, ttl)
	return { allowed, tokens, wait }
`)

// RateLimiter keeps one Redis token bucket per caller and endpoint family,
// shared by every gateway instance.
type RateLimiter struct {
	cfg    config.RateLimitConfig
	rdb    *redis.Client
	limits map[string]Limit // by echo route pattern
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewRateLimiter builds a limiter. limits maps echo route patterns to their
// family; unlisted routes share the "default" family.
func NewRateLimiter(cfg config.RateLimitConfig, rdb *redis.Client, limits map[string]Limit, log logrus.FieldLogger) *RateLimiter {
	if log == nil {
		log = logging.Discard()
	}
	return &RateLimiter{cfg: cfg, rdb: rdb, limits: limits, log: log, now: time.Now}
}

// Middleware answers 429 once the caller's bucket for the matched family is
// empty. Redis failures let the request through.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	if !rl.cfg.Enabled || rl.rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lim := rl.limitFor(c.Path())
			key := rl.key(c, lim.Family)
			interval := rl.cfg.RefillInterval
			if interval <= 0 {
				interval = time.Second
			}

			vals, err := tokenBucket.Run(c.Request().Context(), rl.rdb, []string{key},
				rl.now().UnixMilli(), lim.Capacity, lim.Refill,
				interval.Milliseconds(), int64(rl.cfg.TTL/time.Second)+1,
			).Int64Slice()
			if err != nil || len(vals) != 3 {
				rl.log.WithError(err).WithField("key", key).Warn("ratelimit: bucket unavailable, allowing request")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(lim.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(vals[1], 10))
			if rl.cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if vals[0] == 1 {
				return next(c)
			}

			secs := int(math.Ceil(float64(vals[2]) / 1000))
			h.Set("Retry-After", strconv.Itoa(secs))
			rl.log.WithFields(logrus.Fields{
				"family":   lim.Family,
				"user":     userID(c),
				"retry_ms": vals[2],
			}).Info("ratelimit: blocked")
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"success":     false,
				"error":       "Too many requests",
				"family":      lim.Family,
				"retry_after": secs,
			})
		}
	}
}

// limitFor resolves the family of a route pattern and fills defaults.
func (rl *RateLimiter) limitFor(route string) Limit {
	lim, ok := rl.limits[route]
	if !ok || lim.Family == "" {
		lim.Family = "default"
	}
	if lim.Capacity <= 0 {
		lim.Capacity = rl.cfg.Capacity
	}
	if lim.Refill <= 0 {
		lim.Refill = rl.cfg.RefillTokens
	}
	if lim.Capacity < 1 {
		lim.Capacity = 1
	}
	if lim.Refill < 1 {
		lim.Refill = 1
	}
	return lim
}

// key names the bucket: prefix, family, then the caller identity picked by
// KeyStrategy (ip, user, global or ip_user).
func (rl *RateLimiter) key(c echo.Context, family string) string {
	parts := []string{rl.cfg.Prefix, "f", family}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	switch strings.ToLower(rl.cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", userID(c))
	case "global":
	default:
		parts = append(parts, "ip", ip, "user", userID(c))
	}
	return strings.Join(parts, ":")
}
