package workflowerrors

import (
	"encoding/json"
	"errors"
	"reflect"
)

// Error is the serializable form of an error returned by a step or a workflow. It is what the step
// ledger and the instance record store, so replaying a failed step returns an equivalent error.
type Error struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`

	Permanent  bool   `json:"permanent,omitempty"`
	Cause      error  `json:"cause,omitempty"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

func (we *Error) UnmarshalJSON(b []byte) error {
	type Alias Error
	a := &struct {
		Cause *Error `json:"cause,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(we),
	}

	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}

	if a.Cause != nil {
		we.Cause = a.Cause
	} else {
		we.Cause = nil
	}

	return nil
}

func (we *Error) Error() string {
	return we.Message
}

func (we *Error) Unwrap() error {
	if we == nil || we.Cause == (*Error)(nil) {
		return nil
	}

	return we.Cause
}

func (we *Error) Stack() string {
	return we.Stacktrace
}

var _ error = (*Error)(nil)

// FromError converts err into an Error that can be persisted and restored.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	// Already converted
	if e, ok := err.(*Error); ok {
		return e
	}

	if pe, ok := err.(*permanentError); ok {
		e := *FromError(pe.err)
		e.Permanent = true
		return &e
	}

	e := &Error{
		Type:      typeName(err),
		Message:   err.Error(),
		Permanent: !CanRetry(err),
	}

	if stackTracer, ok := err.(interface{ Stack() string }); ok {
		e.Stacktrace = stackTracer.Stack()
	}

	if cause := errors.Unwrap(err); cause != nil {
		e.Cause = FromError(cause)
	}

	return e
}

// ToError restores concrete error types for known errors and keeps *Error for everything else.
func ToError(err *Error) error {
	if err == nil {
		return nil
	}

	e := *err

	switch err.Type {
	case panicErrorType:
		return &PanicError{message: e.Message, stacktrace: e.Stacktrace}

	default:
		return &e
	}
}

type permanentError struct {
	err error
}

func (pe *permanentError) Error() string {
	return pe.err.Error()
}

func (pe *permanentError) Unwrap() error {
	return pe.err
}

// NewPermanentError marks err as not retryable. A step returning it is recorded right away.
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}

	if e, ok := err.(*Error); ok {
		c := *e
		c.Permanent = true
		return &c
	}

	return &permanentError{err: err}
}

// CanRetry returns true if the given error is retryable
func CanRetry(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return !e.Permanent
	}

	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}

	// Retry errors by default
	return true
}

var panicErrorType = typeName(&PanicError{})

// typeName is the name of the concrete type of err. Errors created with errors.New or fmt.Errorf
// have no meaningful type and return "".
func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.PkgPath() + "." + t.Name() {
	case "errors.errorString", "fmt.wrapError", "fmt.wrapErrors":
		return ""
	}

	return t.Name()
}
