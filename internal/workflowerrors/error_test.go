package workflowerrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_NewError_Nil(t *testing.T) {
	err := FromError(nil)
	require.Nil(t, err)
}

func Test_NewError_DoesNotWrapAgain(t *testing.T) {
	err := FromError(errors.New("foo"))

	err2 := FromError(err)
	require.Same(t, err, err2)
}

func Test_NewError_DoesWrap(t *testing.T) {
	input := errors.New("foo")
	e := FromError(input)

	var expectedType *Error
	require.ErrorAs(t, e, &expectedType)
	require.EqualError(t, e, input.Error())

	require.False(t, e.Permanent)
	require.NoError(t, e.Unwrap())
}

func Test_NewError_KeepsCause(t *testing.T) {
	input := fmt.Errorf("charging card: %w", errors.New("declined"))
	e := FromError(input)

	require.EqualError(t, e, "charging card: declined")
	require.EqualError(t, e.Unwrap(), "declined")
}

func Test_NewPermanentError(t *testing.T) {
	input := errors.New("foo")
	perr := NewPermanentError(input)
	require.False(t, CanRetry(perr))

	e := FromError(perr)
	require.EqualError(t, e, input.Error())
	require.True(t, e.Permanent)
	require.False(t, CanRetry(e))
}

func Test_RoundTrip(t *testing.T) {
	input := &PanicError{message: "foo", stacktrace: "bar"}
	e := FromError(input)

	output := ToError(e)
	require.Equal(t, input, output)
}

func Test_JSONRoundTrip(t *testing.T) {
	e := FromError(fmt.Errorf("outer: %w", NewPermanentError(errors.New("inner"))))

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var restored Error
	require.NoError(t, json.Unmarshal(b, &restored))
	require.Equal(t, "outer: inner", restored.Message)
	require.IsType(t, &Error{}, restored.Cause)
	require.Equal(t, "inner", restored.Cause.Error())
}

func TestCanRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "Error",
			err:  FromError(errors.New("foo")),
			want: true,
		},
		{
			name: "Plain",
			err:  errors.New("foo"),
			want: true,
		},
		{
			name: "Permanent",
			err:  NewPermanentError(errors.New("foo")),
			want: false,
		},
		{
			name: "WrappedPermanent",
			err:  fmt.Errorf("wrapped: %w", NewPermanentError(errors.New("foo"))),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, CanRetry(tt.err))
		})
	}
}
