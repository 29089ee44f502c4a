package defense

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript checks every counter first and increments all of them only if
// none is exhausted. ARGV holds count and window-ttl-ms pairs per key.
// Returns {allowed, retry_ms}.
var allowScript = redis.NewScript(`
local retry = 0
for i, key in ipairs(KEYS) do
  local current = tonumber(redis.call('GET', key) or '0')
  if current >= tonumber(ARGV[2 * i - 1]) then
    local ttl = redis.call('PTTL', key)
    if ttl < 0 then ttl = tonumber(ARGV[2 * i]) end
    if ttl > retry then retry = ttl end
  end
end
if retry > 0 then
  return {0, retry}
end
for i, key in ipairs(KEYS) do
  if redis.call('INCR', key) == 1 then
    redis.call('PEXPIRE', key, ARGV[2 * i])
  end
end
return {1, 0}
`)

// RedisStore keeps counters in Redis so several instances share them.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limits []Limit) (Decision, error) {
	now := s.now()
	keys := make([]string, len(limits))
	args := make([]any, 0, 2*len(limits))
	for i, l := range limits {
		window, remaining := windowBounds(now, l.Period)
		keys[i] = s.prefix + ":" + counterKey(key, i, window)
		ttl := remaining.Milliseconds()
		if ttl < 1 {
			ttl = 1
		}
		args = append(args, strconv.FormatInt(l.Count, 10), strconv.FormatInt(ttl, 10))
	}

	values, err := allowScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(values) != 2 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(values))
	}
	if values[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(values[1]) * time.Millisecond}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
