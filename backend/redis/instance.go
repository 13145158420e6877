package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/redis/go-redis/v9"
)

// Create a new workflow instance if it does not exist yet
// KEYS[1] - instance key
// KEYS[2] - instances-by-creation key
// KEYS[3] - pending instances key
// ARGV[1] - instance id
// ARGV[2] - workflow name
// ARGV[3] - serialized inputs
// ARGV[4] - current timestamp
var createInstanceCmd = redis.NewScript(
	`if redis.call("EXISTS", KEYS[1]) == 1 then
		return 0
	end

	redis.call("HSET", KEYS[1],
		"id", ARGV[1],
		"name", ARGV[2],
		"status", "PENDING",
		"input", ARGV[3],
		"output", "",
		"error", "",
		"executor_id", "",
		"attempts", 0,
		"created_at", ARGV[4],
		"updated_at", ARGV[4])
	redis.call("ZADD", KEYS[2], ARGV[4], ARGV[1])
	redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])

	return 1
	`,
)

// Claim a pending instance or a running instance whose lease went stale
// KEYS[1] - instance key
// KEYS[2] - pending instances key
// KEYS[3] - running instances key
// ARGV[1] - instance id
// ARGV[2] - executor id
// ARGV[3] - current timestamp
// ARGV[4] - stale before timestamp
var claimInstanceCmd = redis.NewScript(
	`local status = redis.call("HGET", KEYS[1], "status")
	local claimable = status == "PENDING"
	if status == "RUNNING" then
		local updated = tonumber(redis.call("HGET", KEYS[1], "updated_at"))
		claimable = updated < tonumber(ARGV[4])
	end

	if not claimable then
		return 0
	end

	redis.call("HSET", KEYS[1], "status", "RUNNING", "executor_id", ARGV[2], "updated_at", ARGV[3])
	redis.call("HINCRBY", KEYS[1], "attempts", 1)
	redis.call("ZREM", KEYS[2], ARGV[1])
	redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])

	return 1
	`,
)

// Extend the lease of the executor owning the instance
// KEYS[1] - instance key
// KEYS[2] - running instances key
// ARGV[1] - instance id
// ARGV[2] - executor id
// ARGV[3] - current timestamp
var heartbeatInstanceCmd = redis.NewScript(
	`if redis.call("HGET", KEYS[1], "status") ~= "RUNNING" or redis.call("HGET", KEYS[1], "executor_id") ~= ARGV[2] then
		return 0
	end

	redis.call("HSET", KEYS[1], "updated_at", ARGV[3])
	redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])

	return 1
	`,
)

// Move a running instance owned by the executor into a terminal state
// KEYS[1] - instance key
// KEYS[2] - running instances key
// KEYS[3] - instances key for the terminal status
// ARGV[1] - instance id
// ARGV[2] - executor id
// ARGV[3] - terminal status
// ARGV[4] - serialized output
// ARGV[5] - serialized error
// ARGV[6] - current timestamp
var completeInstanceCmd = redis.NewScript(
	`if redis.call("HGET", KEYS[1], "status") ~= "RUNNING" or redis.call("HGET", KEYS[1], "executor_id") ~= ARGV[2] then
		return 0
	end

	redis.call("HSET", KEYS[1], "status", ARGV[3], "output", ARGV[4], "error", ARGV[5], "updated_at", ARGV[6])
	redis.call("ZREM", KEYS[2], ARGV[1])
	redis.call("ZADD", KEYS[3], ARGV[6], ARGV[1])

	return 1
	`,
)

func (rb *redisBackend) CreateWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance) error {
	inputs, err := json.Marshal(instance.Inputs)
	if err != nil {
		return fmt.Errorf("marshaling inputs: %w", err)
	}

	now := rb.now()
	created, err := createInstanceCmd.Run(ctx, rb.rdb, []string{
		rb.keys.instance(instance.ID),
		rb.keys.instancesByCreation(),
		rb.keys.instancesByStatus(core.WorkflowStatusPending),
	},
		instance.ID,
		instance.Name,
		string(inputs),
		now.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("creating workflow instance: %w", err)
	}

	if created == 0 {
		return backend.ErrInstanceAlreadyExists
	}

	instance.Status = core.WorkflowStatusPending
	instance.CreatedAt = now
	instance.UpdatedAt = now

	rb.publish(ctx, backend.PendingInstancesKey)

	return nil
}

func (rb *redisBackend) GetWorkflowInstance(ctx context.Context, instanceID string) (*core.WorkflowInstance, error) {
	fields, err := rb.rdb.HGetAll(ctx, rb.keys.instance(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting workflow instance: %w", err)
	}

	if len(fields) == 0 {
		return nil, backend.ErrInstanceNotFound
	}

	return parseInstance(fields)
}

func (rb *redisBackend) ListWorkflowInstances(ctx context.Context, options backend.ListOptions) ([]*core.WorkflowInstance, error) {
	var ids []string
	if len(options.Statuses) == 0 {
		r, err := rb.rdb.ZRange(ctx, rb.keys.instancesByCreation(), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("listing workflow instances: %w", err)
		}

		ids = r
	} else {
		maxScore := "+inf"
		if !options.UpdatedBefore.IsZero() {
			maxScore = "(" + strconv.FormatInt(options.UpdatedBefore.UnixMilli(), 10)
		}

		for _, status := range options.Statuses {
			r, err := rb.rdb.ZRangeByScore(ctx, rb.keys.instancesByStatus(status), &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
			if err != nil {
				return nil, fmt.Errorf("listing workflow instances: %w", err)
			}

			ids = append(ids, r...)
		}
	}

	cmds, err := rb.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.HGetAll(ctx, rb.keys.instance(id))
		}

		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("loading workflow instances: %w", err)
	}

	instances := make([]*core.WorkflowInstance, 0, len(cmds))
	for _, cmd := range cmds {
		fields := cmd.(*redis.MapStringStringCmd).Val()

		// Expired in the meantime
		if len(fields) == 0 {
			continue
		}

		instance, err := parseInstance(fields)
		if err != nil {
			return nil, err
		}

		if options.Name != "" && instance.Name != options.Name {
			continue
		}

		if len(options.Names) > 0 && !slices.Contains(options.Names, instance.Name) {
			continue
		}

		if !options.UpdatedBefore.IsZero() && !instance.UpdatedAt.Before(options.UpdatedBefore) {
			continue
		}

		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		if !instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			if options.OldestFirst {
				return instances[i].CreatedAt.Before(instances[j].CreatedAt)
			}

			return instances[i].CreatedAt.After(instances[j].CreatedAt)
		}

		return instances[i].ID < instances[j].ID
	})

	if options.Limit > 0 {
		if options.Offset >= len(instances) {
			return nil, nil
		}

		instances = instances[options.Offset:]
		if len(instances) > options.Limit {
			instances = instances[:options.Limit]
		}
	}

	return instances, nil
}

func (rb *redisBackend) ClaimWorkflowInstance(ctx context.Context, instanceID, executorID string, staleBefore time.Time) (*core.WorkflowInstance, error) {
	var stale int64
	if !staleBefore.IsZero() {
		stale = staleBefore.UnixMilli()
	}

	claimed, err := claimInstanceCmd.Run(ctx, rb.rdb, []string{
		rb.keys.instance(instanceID),
		rb.keys.instancesByStatus(core.WorkflowStatusPending),
		rb.keys.instancesByStatus(core.WorkflowStatusRunning),
	},
		instanceID,
		executorID,
		rb.now().UnixMilli(),
		stale,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("claiming workflow instance: %w", err)
	}

	if claimed == 0 {
		return nil, nil
	}

	instance, err := rb.GetWorkflowInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	// Another executor may have re-claimed in between
	if instance.ExecutorID != executorID {
		return nil, nil
	}

	return instance, nil
}

func (rb *redisBackend) HeartbeatWorkflowInstance(ctx context.Context, instanceID, executorID string) error {
	ok, err := heartbeatInstanceCmd.Run(ctx, rb.rdb, []string{
		rb.keys.instance(instanceID),
		rb.keys.instancesByStatus(core.WorkflowStatusRunning),
	},
		instanceID,
		executorID,
		rb.now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("extending workflow instance lease: %w", err)
	}

	if ok == 0 {
		return backend.ErrLeaseLost
	}

	return nil
}

func (rb *redisBackend) CompleteWorkflowInstance(
	ctx context.Context, instanceID, executorID string, status core.WorkflowStatus, output payload.Payload, werr *workflowerrors.Error,
) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot complete workflow instance with status %s", status)
	}

	errText, err := marshalError(werr)
	if err != nil {
		return err
	}

	ok, err := completeInstanceCmd.Run(ctx, rb.rdb, []string{
		rb.keys.instance(instanceID),
		rb.keys.instancesByStatus(core.WorkflowStatusRunning),
		rb.keys.instancesByStatus(status),
	},
		instanceID,
		executorID,
		string(status),
		string(output),
		errText,
		rb.now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("completing workflow instance: %w", err)
	}

	if ok == 0 {
		return backend.ErrLeaseLost
	}

	if rb.options.AutoExpiration > 0 {
		if err := rb.setWorkflowInstanceExpiration(ctx, instanceID, rb.options.AutoExpiration); err != nil {
			return fmt.Errorf("setting workflow instance expiration: %w", err)
		}
	}

	rb.publish(ctx, backend.InstanceKey(instanceID))

	return nil
}

func parseInstance(fields map[string]string) (*core.WorkflowInstance, error) {
	instance := &core.WorkflowInstance{
		ID:         fields["id"],
		Name:       fields["name"],
		Status:     core.WorkflowStatus(fields["status"]),
		ExecutorID: fields["executor_id"],
	}

	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("parsing attempts: %w", err)
	}
	instance.Attempts = attempts

	if instance.CreatedAt, err = parseMillis(fields["created_at"]); err != nil {
		return nil, err
	}

	if instance.UpdatedAt, err = parseMillis(fields["updated_at"]); err != nil {
		return nil, err
	}

	if input := fields["input"]; input != "" {
		if err := json.Unmarshal([]byte(input), &instance.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshaling inputs: %w", err)
		}
	}

	if output := fields["output"]; output != "" {
		instance.Output = payload.Payload(output)
	}

	if instance.Error, err = unmarshalError(fields["error"]); err != nil {
		return nil, err
	}

	return instance, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}

	return time.UnixMilli(ms), nil
}

func marshalError(werr *workflowerrors.Error) (string, error) {
	if werr == nil {
		return "", nil
	}

	b, err := json.Marshal(werr)
	if err != nil {
		return "", fmt.Errorf("marshaling error: %w", err)
	}

	return string(b), nil
}

func unmarshalError(errText string) (*workflowerrors.Error, error) {
	if errText == "" {
		return nil, nil
	}

	var werr workflowerrors.Error
	if err := json.Unmarshal([]byte(errText), &werr); err != nil {
		return nil, fmt.Errorf("unmarshaling error: %w", err)
	}

	return &werr, nil
}
