package args

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-durable/durable/backend/converter"
	"github.com/go-durable/durable/backend/payload"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	txType      = reflect.TypeOf((*sql.Tx)(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

func ArgsToInputs(c converter.Converter, args ...any) ([]payload.Payload, error) {
	inputs := make([]payload.Payload, 0, len(args))

	for _, arg := range args {
		input, err := c.To(arg)
		if err != nil {
			return nil, fmt.Errorf("converting args to inputs: %w", err)
		}
		inputs = append(inputs, input)
	}

	return inputs, nil
}

// InputsToArgs decodes inputs into the parameters of fn that follow its leading context (and
// transaction) parameters. The returned slice holds only the decoded values.
func InputsToArgs(c converter.Converter, fn reflect.Value, inputs []payload.Payload) ([]reflect.Value, error) {
	fnT := fn.Type()
	skip := Leading(fnT)

	numArgs := fnT.NumIn() - skip
	if numArgs != len(inputs) {
		return nil, fmt.Errorf("mismatched argument count: expected %d, got %d", numArgs, len(inputs))
	}

	args := make([]reflect.Value, 0, numArgs)
	for i := skip; i < fnT.NumIn(); i++ {
		arg := reflect.New(fnT.In(i)).Interface()
		if err := c.From(inputs[i-skip], arg); err != nil {
			return nil, fmt.Errorf("converting inputs: %w", err)
		}

		args = append(args, reflect.ValueOf(arg).Elem())
	}

	return args, nil
}

// Leading returns the number of framework supplied parameters at the start of fnT: a context and,
// for transactions, a *sql.Tx following it.
func Leading(fnT reflect.Type) int {
	n := 0
	if fnT.NumIn() > 0 && IsContext(fnT.In(0)) {
		n++

		if fnT.NumIn() > 1 && fnT.In(1) == txType {
			n++
		}
	}

	return n
}

func IsContext(inType reflect.Type) bool {
	return inType != nil && inType.Implements(contextType)
}

func IsTx(inType reflect.Type) bool {
	return inType == txType
}

// ParamsMatch checks that args can be passed to fn, ignoring its leading parameters.
func ParamsMatch(fn any, args ...any) error {
	fnT := reflect.TypeOf(fn)
	if fnT.Kind() != reflect.Func {
		return errors.New("not a function")
	}

	skip := Leading(fnT)
	if fnT.NumIn()-skip != len(args) {
		return fmt.Errorf("mismatched argument count: expected %d, got %d", fnT.NumIn()-skip, len(args))
	}

	for i, arg := range args {
		argT := fnT.In(i + skip)

		// Interfaces are checked when decoding
		if argT.Kind() == reflect.Interface {
			continue
		}

		if arg == nil {
			switch argT.Kind() {
			case reflect.Ptr, reflect.Map, reflect.Slice:
				continue
			}
			return fmt.Errorf("mismatched argument type: expected %v, got nil", argT)
		}

		if reflect.TypeOf(arg) != argT {
			return fmt.Errorf("mismatched argument type: expected %v, got %v", argT, reflect.TypeOf(arg))
		}
	}

	return nil
}

// ReturnTypeMatch checks that fn's first return value is a T. Functions only returning an error
// match any T.
func ReturnTypeMatch[T any](fn any) error {
	fnT := reflect.TypeOf(fn)
	if fnT.Kind() != reflect.Func {
		return errors.New("not a function")
	}

	if fnT.NumOut() < 2 {
		return nil
	}

	rT := reflect.TypeOf((*T)(nil)).Elem()
	if rT.Kind() == reflect.Interface {
		return nil
	}

	if fnT.Out(0) != rT {
		return fmt.Errorf("function must return %v, got %v", rT, fnT.Out(0))
	}

	return nil
}

// ReturnsError checks that fnT returns an error as its last result and at most one other value. kind
// names the function in the returned error, e.g. "workflow".
func ReturnsError(kind string, fnT reflect.Type) error {
	if fnT.NumOut() == 0 {
		return fmt.Errorf("%s must return error", kind)
	}

	if fnT.NumOut() > 2 {
		return fmt.Errorf("%s must return at most two values", kind)
	}

	if !fnT.Out(fnT.NumOut() - 1).Implements(errorType) {
		return fmt.Errorf("%s must return error as last return value", kind)
	}

	return nil
}
