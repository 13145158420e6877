package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/converter"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/notify"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

const instanceColumns = "workflow_id, name, status, input, output, error, executor_id, attempts, created_at, updated_at"

// Store implements the backend on top of database/sql. The concrete SQL backends configure it with a
// driver, a dialect and their migrations.
type Store struct {
	db      *sql.DB
	dialect *Dialect
	options *backend.Options
	hub     *notify.Hub
}

var _ backend.Backend = (*Store)(nil)

func New(db *sql.DB, dialect *Dialect, options *backend.Options) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		options: options,
		hub:     notify.NewHub(),
	}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Hub returns the in-process notification hub. Backends that receive notifications from other
// processes publish them here.
func (s *Store) Hub() *notify.Hub {
	return s.hub
}

func (s *Store) Logger() *slog.Logger {
	return s.options.Logger
}

func (s *Store) Tracer() trace.Tracer {
	return s.options.TracerProvider.Tracer(backend.TracerName)
}

func (s *Store) Metrics() metrics.Client {
	return s.options.Metrics.WithTags(metrics.Tags{"backend": s.dialect.Name})
}

func (s *Store) Converter() converter.Converter {
	return s.options.Converter
}

func (s *Store) Clock() clock.Clock {
	return s.options.Clock
}

func (s *Store) Options() *backend.Options {
	return s.options
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FeatureSupported(feature backend.Feature) bool {
	switch feature {
	case backend.FeatureTransactions:
		return true
	case backend.FeatureDistributedNotify:
		return s.dialect.NotifyQuery != ""
	}

	return false
}

func (s *Store) Subscribe(key string) (<-chan struct{}, func()) {
	return s.hub.Subscribe(key)
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *Store) now() int64 {
	return s.options.Clock.Now().UnixMilli()
}

// notifyTx emits the notification to other processes as part of tx
func (s *Store) notifyTx(ctx context.Context, tx *sql.Tx, keys ...string) error {
	if s.dialect.NotifyQuery == "" {
		return nil
	}

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, s.q(s.dialect.NotifyQuery), key); err != nil {
			return errors.Wrap(err, "sending notification")
		}
	}

	return nil
}

func (s *Store) publish(keys ...string) {
	for _, key := range keys {
		s.hub.Publish(key)
	}
}

func (s *Store) CreateWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance) error {
	inputs, err := json.Marshal(instance.Inputs)
	if err != nil {
		return errors.Wrap(err, "marshaling inputs")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback()

	now := s.now()
	res, err := tx.ExecContext(
		ctx,
		s.q(s.dialect.InsertIgnore("workflow_status", instanceColumns, "?, ?, ?, ?, NULL, NULL, '', 0, ?, ?")),
		instance.ID,
		instance.Name,
		string(core.WorkflowStatusPending),
		inputs,
		now,
		now,
	)
	if err != nil {
		return errors.Wrap(err, "inserting workflow instance")
	}

	if rows, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "checking inserted workflow instance")
	} else if rows == 0 {
		return backend.ErrInstanceAlreadyExists
	}

	if err := s.notifyTx(ctx, tx, backend.PendingInstancesKey); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing workflow instance")
	}

	instance.Status = core.WorkflowStatusPending
	instance.CreatedAt = time.UnixMilli(now)
	instance.UpdatedAt = instance.CreatedAt

	s.publish(backend.PendingInstancesKey)

	return nil
}

func (s *Store) GetWorkflowInstance(ctx context.Context, instanceID string) (*core.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+instanceColumns+" FROM workflow_status WHERE workflow_id = ?"), instanceID)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrInstanceNotFound
		}

		return nil, errors.Wrap(err, "getting workflow instance")
	}

	return instance, nil
}

func (s *Store) ListWorkflowInstances(ctx context.Context, options backend.ListOptions) ([]*core.WorkflowInstance, error) {
	var where []string
	var args []any

	if len(options.Statuses) > 0 {
		placeholders := make([]string, 0, len(options.Statuses))
		for _, status := range options.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if options.Name != "" {
		where = append(where, "name = ?")
		args = append(args, options.Name)
	}

	if len(options.Names) > 0 {
		placeholders := make([]string, 0, len(options.Names))
		for _, name := range options.Names {
			placeholders = append(placeholders, "?")
			args = append(args, name)
		}
		where = append(where, "name IN ("+strings.Join(placeholders, ", ")+")")
	}

	if !options.UpdatedBefore.IsZero() {
		where = append(where, "updated_at < ?")
		args = append(args, options.UpdatedBefore.UnixMilli())
	}

	query := "SELECT " + instanceColumns + " FROM workflow_status"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if options.OldestFirst {
		query += " ORDER BY created_at, workflow_id"
	} else {
		query += " ORDER BY created_at DESC, workflow_id"
	}

	if options.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, options.Limit, options.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing workflow instances")
	}
	defer rows.Close()

	var instances []*core.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning workflow instance")
		}

		instances = append(instances, instance)
	}

	return instances, errors.Wrap(rows.Err(), "listing workflow instances")
}

func (s *Store) ClaimWorkflowInstance(ctx context.Context, instanceID, executorID string, staleBefore time.Time) (*core.WorkflowInstance, error) {
	var stale int64
	if !staleBefore.IsZero() {
		stale = staleBefore.UnixMilli()
	}

	res, err := s.db.ExecContext(
		ctx,
		s.q(`UPDATE workflow_status SET status = ?, executor_id = ?, attempts = attempts + 1, updated_at = ?
			WHERE workflow_id = ? AND (status = ? OR (status = ? AND updated_at < ?))`),
		string(core.WorkflowStatusRunning),
		executorID,
		s.now(),
		instanceID,
		string(core.WorkflowStatusPending),
		string(core.WorkflowStatusRunning),
		stale,
	)
	if err != nil {
		return nil, errors.Wrap(err, "claiming workflow instance")
	}

	if rows, err := res.RowsAffected(); err != nil {
		return nil, errors.Wrap(err, "claiming workflow instance")
	} else if rows == 0 {
		return nil, nil
	}

	instance, err := s.GetWorkflowInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	// Another executor may have re-claimed in between
	if instance.ExecutorID != executorID {
		return nil, nil
	}

	return instance, nil
}

func (s *Store) HeartbeatWorkflowInstance(ctx context.Context, instanceID, executorID string) error {
	res, err := s.db.ExecContext(
		ctx,
		s.q("UPDATE workflow_status SET updated_at = ? WHERE workflow_id = ? AND status = ? AND executor_id = ?"),
		s.now(),
		instanceID,
		string(core.WorkflowStatusRunning),
		executorID,
	)
	if err != nil {
		return errors.Wrap(err, "extending workflow instance lease")
	}

	if rows, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "extending workflow instance lease")
	} else if rows == 0 {
		return backend.ErrLeaseLost
	}

	return nil
}

func (s *Store) CompleteWorkflowInstance(
	ctx context.Context, instanceID, executorID string, status core.WorkflowStatus, output payload.Payload, werr *workflowerrors.Error,
) error {
	if !status.IsTerminal() {
		return errors.Errorf("cannot complete workflow instance with status %s", status)
	}

	errText, err := marshalError(werr)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		s.q("UPDATE workflow_status SET status = ?, output = ?, error = ?, updated_at = ? WHERE workflow_id = ? AND status = ? AND executor_id = ?"),
		string(status),
		nullBytes(output),
		errText,
		s.now(),
		instanceID,
		string(core.WorkflowStatusRunning),
		executorID,
	)
	if err != nil {
		return errors.Wrap(err, "completing workflow instance")
	}

	if rows, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "completing workflow instance")
	} else if rows == 0 {
		return backend.ErrLeaseLost
	}

	if err := s.notifyTx(ctx, tx, backend.InstanceKey(instanceID)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing workflow instance completion")
	}

	s.publish(backend.InstanceKey(instanceID))

	return nil
}

func (s *Store) GetStepResult(ctx context.Context, instanceID string, stepNumber int) (*core.StepRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		s.q("SELECT workflow_id, step_number, step_name, output, error, executed_at FROM step_outputs WHERE workflow_id = ? AND step_number = ?"),
		instanceID,
		stepNumber,
	)

	record, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "getting step result")
	}

	return record, nil
}

func (s *Store) GetStepResults(ctx context.Context, instanceID string) ([]*core.StepRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		s.q("SELECT workflow_id, step_number, step_name, output, error, executed_at FROM step_outputs WHERE workflow_id = ? ORDER BY step_number"),
		instanceID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "getting step results")
	}
	defer rows.Close()

	var records []*core.StepRecord
	for rows.Next() {
		record, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning step result")
		}

		records = append(records, record)
	}

	return records, errors.Wrap(rows.Err(), "getting step results")
}

func (s *Store) RecordStepResult(ctx context.Context, record *core.StepRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback()

	if err := s.insertStep(ctx, tx, record); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "committing step result")
}

func (s *Store) insertStep(ctx context.Context, tx *sql.Tx, record *core.StepRecord) error {
	errText, err := marshalError(record.Error)
	if err != nil {
		return err
	}

	if record.ExecutedAt.IsZero() {
		record.ExecutedAt = s.options.Clock.Now()
	}

	res, err := tx.ExecContext(
		ctx,
		s.q(s.dialect.InsertIgnore("step_outputs", "workflow_id, step_number, step_name, output, error, executed_at", "?, ?, ?, ?, ?, ?")),
		record.WorkflowID,
		record.StepNumber,
		record.StepName,
		nullBytes(record.Output),
		errText,
		record.ExecutedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "inserting step result")
	}

	if rows, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "inserting step result")
	} else if rows == 0 {
		return backend.ErrStepAlreadyRecorded
	}

	return nil
}

func (s *Store) RunTransactionStep(ctx context.Context, record *core.StepRecord, fn backend.TxFunc) (*core.StepRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback()

	output, ferr := fn(ctx, tx)
	if ferr != nil {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return nil, errors.Wrap(err, "rolling back transaction step")
		}

		// Do not record a failure caused by the run being aborted
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		record.Output = nil
		record.Error = workflowerrors.FromError(ferr)
		if err := s.RecordStepResult(ctx, record); err != nil {
			return nil, err
		}

		return record, nil
	}

	record.Output = output
	record.Error = nil
	if err := s.insertStep(ctx, tx, record); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing transaction step")
	}

	return record, nil
}

func (s *Store) SetEvent(ctx context.Context, event *core.Event, record *core.StepRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback()

	if record != nil {
		if err := s.insertStep(ctx, tx, record); err != nil {
			return err
		}
	}

	event.UpdatedAt = time.UnixMilli(s.now())
	if _, err := tx.ExecContext(ctx, s.q(s.dialect.UpsertEvent), event.WorkflowID, event.Key, nullBytes(event.Value), event.UpdatedAt.UnixMilli()); err != nil {
		return errors.Wrap(err, "setting event")
	}

	key := backend.EventKey(event.WorkflowID, event.Key)
	if err := s.notifyTx(ctx, tx, key); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing event")
	}

	s.publish(key)

	return nil
}

func (s *Store) GetEvent(ctx context.Context, instanceID, key string) (*core.Event, error) {
	event := &core.Event{WorkflowID: instanceID, Key: key}

	var value []byte
	var updatedAt int64
	err := s.db.QueryRowContext(
		ctx,
		s.q("SELECT value, updated_at FROM events WHERE workflow_id = ? AND event_key = ?"),
		instanceID,
		key,
	).Scan(&value, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "getting event")
	}

	event.Value = value
	event.UpdatedAt = time.UnixMilli(updatedAt)

	return event, nil
}

func (s *Store) ListEvents(ctx context.Context, instanceID string) ([]*core.Event, error) {
	rows, err := s.db.QueryContext(
		ctx,
		s.q("SELECT event_key, value, updated_at FROM events WHERE workflow_id = ? ORDER BY event_key"),
		instanceID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "listing events")
	}
	defer rows.Close()

	var events []*core.Event
	for rows.Next() {
		event := &core.Event{WorkflowID: instanceID}

		var value []byte
		var updatedAt int64
		if err := rows.Scan(&event.Key, &value, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning event")
		}

		event.Value = value
		event.UpdatedAt = time.UnixMilli(updatedAt)
		events = append(events, event)
	}

	return events, errors.Wrap(rows.Err(), "listing events")
}

func (s *Store) Send(ctx context.Context, message *core.Message, record *core.StepRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, s.q("SELECT 1 FROM workflow_status WHERE workflow_id = ?"), message.DestinationID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backend.ErrInstanceNotFound
		}

		return errors.Wrap(err, "checking message destination")
	}

	if record != nil {
		if err := s.insertStep(ctx, tx, record); err != nil {
			return err
		}
	}

	message.CreatedAt = time.UnixMilli(s.now())
	if _, err := tx.ExecContext(
		ctx,
		s.q("INSERT INTO signals (destination_workflow_id, topic, payload, created_at) VALUES (?, ?, ?, ?)"),
		message.DestinationID,
		message.Topic,
		nullBytes(message.Payload),
		message.CreatedAt.UnixMilli(),
	); err != nil {
		return errors.Wrap(err, "inserting message")
	}

	key := backend.MessageKey(message.DestinationID, message.Topic)
	if err := s.notifyTx(ctx, tx, key); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing message")
	}

	s.publish(key)

	return nil
}

func (s *Store) Recv(ctx context.Context, instanceID, topic string, record *core.StepRecord) (*core.StepRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback()

	msg, ok, err := s.consumeNext(ctx, tx, instanceID, topic)
	if err != nil || !ok {
		return nil, err
	}

	record.Output = msg
	record.Error = nil
	if err := s.insertStep(ctx, tx, record); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing received message")
	}

	return record, nil
}

// consumeHook runs between picking a message and marking it consumed
var consumeHook func(ctx context.Context, tx *sql.Tx, id int64)

// consumeNext marks the oldest unconsumed message as consumed and returns its payload. A message
// consumed by someone else in the meantime is passed over for the next one.
func (s *Store) consumeNext(ctx context.Context, tx *sql.Tx, instanceID, topic string) ([]byte, bool, error) {
	var after int64

	for {
		var id int64
		var msg []byte
		err := tx.QueryRowContext(
			ctx,
			s.q("SELECT id, payload FROM signals WHERE destination_workflow_id = ? AND topic = ? AND consumed_at IS NULL AND id > ? ORDER BY id LIMIT 1"+s.dialect.LockClause),
			instanceID,
			topic,
			after,
		).Scan(&id, &msg)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, false, nil
			}

			return nil, false, errors.Wrap(err, "selecting next message")
		}

		if consumeHook != nil {
			consumeHook(ctx, tx, id)
		}

		res, err := tx.ExecContext(ctx, s.q("UPDATE signals SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL"), s.now(), id)
		if err != nil {
			return nil, false, errors.Wrap(err, "consuming message")
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return nil, false, errors.Wrap(err, "consuming message")
		}

		if rows == 1 {
			return msg, true, nil
		}

		after = id
	}
}

func (s *Store) ListMessages(ctx context.Context, instanceID string) ([]*core.Message, error) {
	rows, err := s.db.QueryContext(
		ctx,
		s.q("SELECT id, topic, payload, created_at, consumed_at FROM signals WHERE destination_workflow_id = ? ORDER BY id"),
		instanceID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "listing messages")
	}
	defer rows.Close()

	var messages []*core.Message
	for rows.Next() {
		m := &core.Message{DestinationID: instanceID}

		var msg []byte
		var createdAt int64
		var consumedAt sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Topic, &msg, &createdAt, &consumedAt); err != nil {
			return nil, errors.Wrap(err, "scanning message")
		}

		m.Payload = msg
		m.CreatedAt = time.UnixMilli(createdAt)
		if consumedAt.Valid {
			t := time.UnixMilli(consumedAt.Int64)
			m.ConsumedAt = &t
		}

		messages = append(messages, m)
	}

	return messages, errors.Wrap(rows.Err(), "listing messages")
}
