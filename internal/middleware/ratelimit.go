package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/swappo/pin-server-go/internal/audit"
	"github.com/swappo/pin-server-go/internal/redis"
)

const rateLimitWindow = 60 * time.Second

var rateLimitScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local remaining = limit - count - 1
local resetAt = now + window

return {1, remaining, resetAt}
`)

// VerifyRateLimiter throttles PIN verification attempts with a sliding
// window in redis, keyed per trade and caller. A 6-digit code space is
// small enough that unthrottled guessing would be practical.
type VerifyRateLimiter struct {
	client *goredis.Client
}

func NewVerifyRateLimiter(client *goredis.Client) *VerifyRateLimiter {
	return &VerifyRateLimiter{client: client}
}

func (rl *VerifyRateLimiter) Check(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt int64) {
	now := time.Now().Unix()

	result, err := rateLimitScript.Run(ctx, rl.client, []string{key}, now, int64(rateLimitWindow.Seconds()), limit).Int64Slice()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis rate limit check failed, allowing request")
		return true, limit - 1, now + int64(rateLimitWindow.Seconds())
	}

	if len(result) != 3 {
		log.Warn().Str("key", key).Msg("unexpected redis rate limit result")
		return true, limit - 1, now + int64(rateLimitWindow.Seconds())
	}

	return result[0] == 1, int(result[1]), result[2]
}

type VerifyRateLimitMiddleware struct {
	limiter *VerifyRateLimiter
	limit   int
}

func NewVerifyRateLimitMiddleware(client *goredis.Client, limit int) *VerifyRateLimitMiddleware {
	return &VerifyRateLimitMiddleware{
		limiter: NewVerifyRateLimiter(client),
		limit:   limit,
	}
}

func (m *VerifyRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		party := GetParty(r.Context())
		if party == nil {
			next.ServeHTTP(w, r)
			return
		}

		tradeID := chi.URLParam(r, "tradeID")
		key := redis.VerifyAttemptKey(tradeID, party.ID)

		allowed, remaining, resetAt := m.limiter.Check(r.Context(), key, m.limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				PartyID: party.ID,
				TradeID: tradeID,
			})
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Too many verification attempts",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
