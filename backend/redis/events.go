package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/core"
	"github.com/redis/go-redis/v9"
)

func (rb *redisBackend) SetEvent(ctx context.Context, event *core.Event, record *core.StepRecord) error {
	event.UpdatedAt = rb.now()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	eventsKey := rb.keys.events(event.WorkflowID)

	if record == nil {
		if err := rb.rdb.HSet(ctx, eventsKey, event.Key, string(data)).Err(); err != nil {
			return fmt.Errorf("setting event: %w", err)
		}
	} else {
		stepData, err := rb.marshalStep(record)
		if err != nil {
			return err
		}

		stepsKey := rb.keys.steps(record.WorkflowID)
		if err := rb.watch(ctx, func(tx *redis.Tx) error {
			if err := rb.checkStep(ctx, tx, record); err != nil {
				return err
			}

			_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.HSet(ctx, stepsKey, stepField(record.StepNumber), stepData)
				p.HSet(ctx, eventsKey, event.Key, string(data))
				return nil
			})

			return err
		}, stepsKey); err != nil {
			if errors.Is(err, backend.ErrStepAlreadyRecorded) {
				return err
			}

			return fmt.Errorf("setting event: %w", err)
		}
	}

	rb.publish(ctx, backend.EventKey(event.WorkflowID, event.Key))

	return nil
}

func (rb *redisBackend) GetEvent(ctx context.Context, instanceID, key string) (*core.Event, error) {
	data, err := rb.rdb.HGet(ctx, rb.keys.events(instanceID), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting event: %w", err)
	}

	var event core.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("unmarshaling event: %w", err)
	}

	return &event, nil
}

func (rb *redisBackend) ListEvents(ctx context.Context, instanceID string) ([]*core.Event, error) {
	all, err := rb.rdb.HGetAll(ctx, rb.keys.events(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	events := make([]*core.Event, 0, len(all))
	for _, data := range all {
		var event core.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil, fmt.Errorf("unmarshaling event: %w", err)
		}

		events = append(events, &event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Key < events[j].Key
	})

	return events, nil
}
