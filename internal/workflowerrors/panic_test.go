package workflowerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func chargeCard() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewPanicError(fmt.Sprint(r))
		}
	}()

	var amounts map[string]int
	amounts["total"] = 1

	return nil
}

func Test_NewPanicError_StackStartsAtPanic(t *testing.T) {
	err := chargeCard()

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	require.Contains(t, pe.Error(), "assignment to entry in nil map")
	require.Contains(t, pe.Stack(), "chargeCard")
	require.NotContains(t, pe.Stack(), "NewPanicError")
}

func Test_PanicError_NotRetried(t *testing.T) {
	e := FromError(NewPermanentError(chargeCard()))

	require.True(t, e.Permanent)
	require.NotEmpty(t, e.Stacktrace)
	require.IsType(t, &PanicError{}, ToError(e))
}

type declinedError struct {
	code string
}

func (de *declinedError) Error() string {
	return "declined: " + de.code
}

func Test_typeName(t *testing.T) {
	require.Empty(t, typeName(errors.New("plain")))
	require.Empty(t, typeName(fmt.Errorf("wrapped: %w", errors.New("plain"))))
	require.Equal(t, "declinedError", typeName(&declinedError{code: "51"}))
	require.Equal(t, "PanicError", typeName(&PanicError{}))
	require.Equal(t, "Error", typeName(FromError(errors.New("plain"))))
}
