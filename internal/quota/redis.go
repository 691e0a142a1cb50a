package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyTTL outlives any calendar day in any timezone.
const keyTTL = 48 * time.Hour

// consumeScript increments "sent" only below the limit, otherwise "denied".
// Returns {sent, allowed}.
var consumeScript = redis.NewScript(`
local sent = tonumber(redis.call('HGET', KEYS[1], 'sent') or '0')
local allowed = 0
if sent < tonumber(ARGV[1]) then
  sent = redis.call('HINCRBY', KEYS[1], 'sent', 1)
  allowed = 1
else
  redis.call('HINCRBY', KEYS[1], 'denied', 1)
end
redis.call('EXPIRE', KEYS[1], ARGV[2])
return {sent, allowed}
`)

type redisCounter struct {
	client redis.UniversalClient
}

// NewRedisLedger shares counters between service instances through Redis.
// The test-and-increment runs as a single Lua script.
func NewRedisLedger(client redis.UniversalClient, p Policy) Ledger {
	return newLedger(p, &redisCounter{client: client})
}

func redisKey(userID, day string) string {
	return fmt.Sprintf("quota:%s:%s", userID, day)
}

func (c *redisCounter) increment(ctx context.Context, userID, day string, limit int) (int, bool, error) {
	res, err := consumeScript.Run(ctx, c.client, []string{redisKey(userID, day)}, limit, int(keyTTL.Seconds())).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected script reply %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}

func (c *redisCounter) current(ctx context.Context, userID, day string) (int, error) {
	n, err := c.client.HGet(ctx, redisKey(userID, day), "sent").Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
