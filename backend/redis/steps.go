package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/core"
	"github.com/redis/go-redis/v9"
)

const maxTxAttempts = 10

var errTxConflict = errors.New("redis transaction kept conflicting")

// watch runs fn as an optimistic transaction over the given keys, retrying when a watched key changed
func (rb *redisBackend) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxAttempts; i++ {
		err := rb.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return errTxConflict
}

func stepField(stepNumber int) string {
	return strconv.Itoa(stepNumber)
}

func (rb *redisBackend) marshalStep(record *core.StepRecord) (string, error) {
	if record.ExecutedAt.IsZero() {
		record.ExecutedAt = rb.now()
	}

	b, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshaling step result: %w", err)
	}

	return string(b), nil
}

// checkStep returns ErrStepAlreadyRecorded if the step exists. Used inside watched transactions.
func (rb *redisBackend) checkStep(ctx context.Context, tx *redis.Tx, record *core.StepRecord) error {
	exists, err := tx.HExists(ctx, rb.keys.steps(record.WorkflowID), stepField(record.StepNumber)).Result()
	if err != nil {
		return fmt.Errorf("checking step result: %w", err)
	}

	if exists {
		return backend.ErrStepAlreadyRecorded
	}

	return nil
}

func (rb *redisBackend) GetStepResult(ctx context.Context, instanceID string, stepNumber int) (*core.StepRecord, error) {
	data, err := rb.rdb.HGet(ctx, rb.keys.steps(instanceID), stepField(stepNumber)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting step result: %w", err)
	}

	var record core.StepRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("unmarshaling step result: %w", err)
	}

	return &record, nil
}

func (rb *redisBackend) GetStepResults(ctx context.Context, instanceID string) ([]*core.StepRecord, error) {
	all, err := rb.rdb.HGetAll(ctx, rb.keys.steps(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting step results: %w", err)
	}

	records := make([]*core.StepRecord, 0, len(all))
	for _, data := range all {
		var record core.StepRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("unmarshaling step result: %w", err)
		}

		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StepNumber < records[j].StepNumber
	})

	return records, nil
}

func (rb *redisBackend) RecordStepResult(ctx context.Context, record *core.StepRecord) error {
	data, err := rb.marshalStep(record)
	if err != nil {
		return err
	}

	ok, err := rb.rdb.HSetNX(ctx, rb.keys.steps(record.WorkflowID), stepField(record.StepNumber), data).Result()
	if err != nil {
		return fmt.Errorf("recording step result: %w", err)
	}

	if !ok {
		return backend.ErrStepAlreadyRecorded
	}

	return nil
}

func (rb *redisBackend) RunTransactionStep(context.Context, *core.StepRecord, backend.TxFunc) (*core.StepRecord, error) {
	return nil, backend.ErrNotSupported{Message: "transactional steps require a SQL backend"}
}
