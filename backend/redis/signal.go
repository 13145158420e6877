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

func (rb *redisBackend) Send(ctx context.Context, message *core.Message, record *core.StepRecord) error {
	// Ids only need to be increasing, gaps from failed sends are fine
	id, err := rb.rdb.Incr(ctx, rb.keys.messageSequence()).Result()
	if err != nil {
		return fmt.Errorf("allocating message id: %w", err)
	}

	message.ID = id
	message.CreatedAt = rb.now()
	message.ConsumedAt = nil

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	var stepData string
	if record != nil {
		if stepData, err = rb.marshalStep(record); err != nil {
			return err
		}
	}

	instanceKey := rb.keys.instance(message.DestinationID)
	watched := []string{instanceKey}
	if record != nil {
		watched = append(watched, rb.keys.steps(record.WorkflowID))
	}

	msgID := strconv.FormatInt(id, 10)

	err = rb.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, instanceKey).Result()
		if err != nil {
			return fmt.Errorf("checking message destination: %w", err)
		}

		if exists == 0 {
			return backend.ErrInstanceNotFound
		}

		if record != nil {
			if err := rb.checkStep(ctx, tx, record); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if record != nil {
				p.HSet(ctx, rb.keys.steps(record.WorkflowID), stepField(record.StepNumber), stepData)
			}

			p.HSet(ctx, rb.keys.messages(message.DestinationID), msgID, string(data))
			p.ZAdd(ctx, rb.keys.mailbox(message.DestinationID, message.Topic), redis.Z{Score: float64(id), Member: msgID})
			p.SAdd(ctx, rb.keys.topics(message.DestinationID), message.Topic)
			return nil
		})

		return err
	}, watched...)
	if err != nil {
		if errors.Is(err, backend.ErrInstanceNotFound) || errors.Is(err, backend.ErrStepAlreadyRecorded) {
			return err
		}

		return fmt.Errorf("sending message: %w", err)
	}

	rb.publish(ctx, backend.MessageKey(message.DestinationID, message.Topic))

	return nil
}

func (rb *redisBackend) Recv(ctx context.Context, instanceID, topic string, record *core.StepRecord) (*core.StepRecord, error) {
	mailboxKey := rb.keys.mailbox(instanceID, topic)
	messagesKey := rb.keys.messages(instanceID)
	stepsKey := rb.keys.steps(record.WorkflowID)

	var received bool
	err := rb.watch(ctx, func(tx *redis.Tx) error {
		received = false

		ids, err := tx.ZRange(ctx, mailboxKey, 0, 0).Result()
		if err != nil {
			return fmt.Errorf("selecting next message: %w", err)
		}

		if len(ids) == 0 {
			return nil
		}

		if err := rb.checkStep(ctx, tx, record); err != nil {
			return err
		}

		data, err := tx.HGet(ctx, messagesKey, ids[0]).Result()
		if err != nil {
			return fmt.Errorf("loading message %v: %w", ids[0], err)
		}

		var message core.Message
		if err := json.Unmarshal([]byte(data), &message); err != nil {
			return fmt.Errorf("unmarshaling message: %w", err)
		}

		consumedAt := rb.now()
		message.ConsumedAt = &consumedAt

		consumed, err := json.Marshal(&message)
		if err != nil {
			return fmt.Errorf("marshaling message: %w", err)
		}

		record.Output = message.Payload
		record.Error = nil
		stepData, err := rb.marshalStep(record)
		if err != nil {
			return err
		}

		if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZRem(ctx, mailboxKey, ids[0])
			p.HSet(ctx, messagesKey, ids[0], string(consumed))
			p.HSet(ctx, stepsKey, stepField(record.StepNumber), stepData)
			return nil
		}); err != nil {
			return err
		}

		received = true
		return nil
	}, mailboxKey, stepsKey)
	if err != nil {
		if errors.Is(err, backend.ErrStepAlreadyRecorded) {
			return nil, err
		}

		return nil, fmt.Errorf("receiving message: %w", err)
	}

	if !received {
		return nil, nil
	}

	return record, nil
}

func (rb *redisBackend) ListMessages(ctx context.Context, instanceID string) ([]*core.Message, error) {
	all, err := rb.rdb.HGetAll(ctx, rb.keys.messages(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	messages := make([]*core.Message, 0, len(all))
	for _, data := range all {
		var message core.Message
		if err := json.Unmarshal([]byte(data), &message); err != nil {
			return nil, fmt.Errorf("unmarshaling message: %w", err)
		}

		messages = append(messages, &message)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ID < messages[j].ID
	})

	return messages, nil
}
