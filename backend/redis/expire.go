package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-durable/durable/core"
	"github.com/redis/go-redis/v9"
)

// Set the given expiration time on all keys passed in
// KEYS[1] - instances-by-creation key
// KEYS[2] - instances-expiring key
// KEYS[3] - succeeded instances key
// KEYS[4] - failed instances key
// KEYS[5...] - keys of the instance to expire
// ARGV[1] - current timestamp
// ARGV[2] - expiration time in seconds
// ARGV[3] - expiration timestamp in unix milliseconds
// ARGV[4] - instance id
var expireCmd = redis.NewScript(
	`-- Find instances which have already expired and remove from the index sets
	local expiredInstances = redis.call("ZRANGE", KEYS[2], "-inf", ARGV[1], "BYSCORE")
	for i = 1, #expiredInstances do
		local instanceID = expiredInstances[i]
		redis.call("ZREM", KEYS[1], instanceID)
		redis.call("ZREM", KEYS[3], instanceID)
		redis.call("ZREM", KEYS[4], instanceID)
		redis.call("ZREM", KEYS[2], instanceID)
	end

	-- Add expiration time for future cleanup
	redis.call("ZADD", KEYS[2], ARGV[3], ARGV[4])

	-- Set expiration on all keys
	for i = 5, #KEYS do
		redis.call("EXPIRE", KEYS[i], ARGV[2])
	end

	return 0
	`,
)

func (rb *redisBackend) setWorkflowInstanceExpiration(ctx context.Context, instanceID string, expiration time.Duration) error {
	topics, err := rb.rdb.SMembers(ctx, rb.keys.topics(instanceID)).Result()
	if err != nil {
		return fmt.Errorf("listing message topics: %w", err)
	}

	keys := []string{
		rb.keys.instancesByCreation(),
		rb.keys.instancesExpiring(),
		rb.keys.instancesByStatus(core.WorkflowStatusSuccess),
		rb.keys.instancesByStatus(core.WorkflowStatusError),
		rb.keys.instance(instanceID),
		rb.keys.steps(instanceID),
		rb.keys.events(instanceID),
		rb.keys.messages(instanceID),
		rb.keys.topics(instanceID),
	}
	for _, topic := range topics {
		keys = append(keys, rb.keys.mailbox(instanceID, topic))
	}

	now := rb.now()

	return expireCmd.Run(ctx, rb.rdb, keys,
		now.UnixMilli(),
		int64(expiration.Seconds()),
		now.Add(expiration).UnixMilli(),
		instanceID,
	).Err()
}
