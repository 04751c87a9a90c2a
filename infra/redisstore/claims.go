package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript sets the claim if absent and always returns the holder.
// KEYS[1] = claim key
// ARGV[1] = claimant
// ARGV[2] = ttl in milliseconds, 0 for none
var claimScript = redis.NewScript(`
local ok
if tonumber(ARGV[2]) > 0 then
    ok = redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2])
else
    ok = redis.call("SET", KEYS[1], ARGV[1], "NX")
end
if ok then
    return {1, ARGV[1]}
end
return {0, redis.call("GET", KEYS[1])}
`)

// Claims implements dispatch.ClaimStore with SET NX.
type Claims struct {
	client redis.UniversalClient
	prefix string
}

func NewClaims(client redis.UniversalClient, prefix string) *Claims {
	return &Claims{client: client, prefix: prefix}
}

func (c *Claims) key(jobID string) string { return c.prefix + ":claim:" + jobID }

func (c *Claims) Claim(ctx context.Context, jobID, workerID string, ttl time.Duration) (string, bool, error) {
	res, err := claimScript.Run(ctx, c.client, []string{c.key(jobID)}, workerID, ttl.Milliseconds()).Slice()
	if err != nil {
		return "", false, fmt.Errorf("redis claim %s: %w", jobID, err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("redis claim %s: unexpected reply %v", jobID, res)
	}
	won, _ := res[0].(int64)
	winner, _ := res[1].(string)
	return winner, won == 1, nil
}

func (c *Claims) Release(ctx context.Context, jobID string) error {
	if err := c.client.Del(ctx, c.key(jobID)).Err(); err != nil {
		return fmt.Errorf("redis release claim %s: %w", jobID, err)
	}
	return nil
}
