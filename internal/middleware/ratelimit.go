package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/table-reservation/internal/config"
)

// gcraScript is a generic cell rate limiter: the key holds the theoretical
// arrival time (TAT) of the next request in milliseconds.  A request is
// admitted while TAT - burst*interval is not in the future.
//
// ARGV: now_ms, interval_ms, burst, ttl_ms
// returns {allowed, remaining, retry_after_ms}
var gcraScript = redis.NewScript(`
local now      = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local burst    = tonumber(ARGV[3])
local ttl      = tonumber(ARGV[4])

local tat = tonumber(redis.call('GET', KEYS[1]))
if tat == nil or tat < now then tat = now end

local next_tat = tat + interval
local admit_at = next_tat - burst * interval
if admit_at > now then
  return {0, 0, admit_at - now}
end
redis.call('SET', KEYS[1], next_tat, 'PX', ttl)
return {1, math.floor((now - admit_at) / interval), 0}
`)

// NewTokenBucket limits requests per caller with a Redis-held GCRA cell, so
// every server instance draws from the same budget.  Capacity is the
// burst; RefillTokens per RefillInterval is the sustained rate.  Redis
// errors let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	interval, ttl := gcraTiming(cfg)
	limit := strconv.Itoa(cfg.Capacity)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			vals, err := gcraScript.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(), interval, cfg.Capacity, ttl).Result()
			if err != nil {
				c.Logger().Warnf("[ratelimit] %s: %v", key, err)
				return next(c)
			}
			d, ok := parseDecision(vals)
			if !ok {
				c.Logger().Warnf("[ratelimit] %s: unexpected reply %#v", key, vals)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if d.allowed {
				return next(c)
			}

			secs := (d.retryMs + 999) / 1000
			h.Set(echo.HeaderRetryAfter, strconv.FormatInt(secs, 10))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too_many_requests",
				"message":     "too many reservation requests, slow down",
				"retry_after": secs,
			})
		}
	}
}

// gcraTiming returns the emission interval per request and the key expiry,
// both in milliseconds.  The expiry always outlives a full burst.
func gcraTiming(cfg config.RateLimitConfig) (interval, ttl int64) {
	interval = cfg.RefillInterval.Milliseconds() / int64(max(cfg.RefillTokens, 1))
	if interval < 1 {
		interval = 1
	}
	ttl = cfg.TTL.Milliseconds()
	if burst := interval * int64(max(cfg.Capacity, 1)); ttl < burst {
		ttl = burst
	}
	return interval, ttl
}

// decision is the reply of one script run.
type decision struct {
	allowed   bool
	remaining int64
	retryMs   int64
}

func parseDecision(vals any) (decision, bool) {
	arr, ok := vals.([]any)
	if !ok || len(arr) != 3 {
		return decision{}, false
	}
	nums := make([]int64, 3)
	for i, v := range arr {
		switch t := v.(type) {
		case int64:
			nums[i] = t
		case string:
			n, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				return decision{}, false
			}
			nums[i] = n
		default:
			return decision{}, false
		}
	}
	return decision{allowed: nums[0] == 1, remaining: nums[1], retryMs: nums[2]}, true
}

// buildRateKey scopes the budget.  The caller is the authenticated user,
// or the client IP for anonymous requests.  Strategies:
//
//	user         one budget per caller
//	user_slot    per caller and time window (default)
//	user_action  per caller, window and endpoint
//	ip           per client IP regardless of identity
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	caller := "user:" + userID(c)
	if caller == "user:anon" {
		caller = "ip:" + clientIP(c)
	}
	slot := "slot:" + slotScope(c)

	var scope []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "user":
		scope = []string{caller}
	case "user_action":
		scope = []string{caller, slot, "op:" + c.Request().Method + " " + c.Path()}
	case "ip":
		scope = []string{"ip:" + clientIP(c)}
	default:
		scope = []string{caller, slot}
	}
	return fmt.Sprintf("%s:%s", cfg.Prefix, strings.Join(scope, ":"))
}

func clientIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// slotScope is the canonical slot number of the request, "-" outside
// /slot routes.
func slotScope(c echo.Context) string {
	if n, err := strconv.Atoi(c.Param("slotNumber")); err == nil {
		return strconv.Itoa(n)
	}
	return "-"
}
