package sqlstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/pkg/errors"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (*core.WorkflowInstance, error) {
	var (
		instance  core.WorkflowInstance
		status    string
		input     []byte
		output    []byte
		errText   sql.NullString
		createdAt int64
		updatedAt int64
	)

	if err := row.Scan(
		&instance.ID,
		&instance.Name,
		&status,
		&input,
		&output,
		&errText,
		&instance.ExecutorID,
		&instance.Attempts,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	instance.Status = core.WorkflowStatus(status)
	instance.CreatedAt = time.UnixMilli(createdAt)
	instance.UpdatedAt = time.UnixMilli(updatedAt)

	if len(input) > 0 {
		if err := json.Unmarshal(input, &instance.Inputs); err != nil {
			return nil, errors.Wrap(err, "unmarshaling inputs")
		}
	}

	if len(output) > 0 {
		instance.Output = payload.Payload(output)
	}

	werr, err := unmarshalError(errText)
	if err != nil {
		return nil, err
	}
	instance.Error = werr

	return &instance, nil
}

func scanStep(row scanner) (*core.StepRecord, error) {
	var (
		record     core.StepRecord
		output     []byte
		errText    sql.NullString
		executedAt int64
	)

	if err := row.Scan(&record.WorkflowID, &record.StepNumber, &record.StepName, &output, &errText, &executedAt); err != nil {
		return nil, err
	}

	if len(output) > 0 {
		record.Output = payload.Payload(output)
	}
	record.ExecutedAt = time.UnixMilli(executedAt)

	werr, err := unmarshalError(errText)
	if err != nil {
		return nil, err
	}
	record.Error = werr

	return &record, nil
}

func marshalError(werr *workflowerrors.Error) (sql.NullString, error) {
	if werr == nil {
		return sql.NullString{}, nil
	}

	b, err := json.Marshal(werr)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "marshaling error")
	}

	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalError(errText sql.NullString) (*workflowerrors.Error, error) {
	if !errText.Valid || errText.String == "" {
		return nil, nil
	}

	var werr workflowerrors.Error
	if err := json.Unmarshal([]byte(errText.String), &werr); err != nil {
		return nil, errors.Wrap(err, "unmarshaling error")
	}

	return &werr, nil
}

// nullBytes maps an empty payload to NULL
func nullBytes(p payload.Payload) any {
	if len(p) == 0 {
		return nil
	}

	return []byte(p)
}
