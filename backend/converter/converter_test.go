package converter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type order struct {
	ID    string   `json:"id"`
	Items []string `json:"items"`
}

func Test_Decode(t *testing.T) {
	p, err := DefaultConverter.To(order{ID: "o-1", Items: []string{"mug"}})
	require.NoError(t, err)

	o, err := Decode[order](DefaultConverter, p)
	require.NoError(t, err)
	require.Equal(t, order{ID: "o-1", Items: []string{"mug"}}, o)
}

func Test_Decode_EmptyPayload(t *testing.T) {
	o, err := Decode[*order](DefaultConverter, nil)
	require.NoError(t, err)
	require.Nil(t, o)

	n, err := Decode[int](DefaultConverter, []byte{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func Test_Decode_TypeMismatch(t *testing.T) {
	p, err := DefaultConverter.To("not a number")
	require.NoError(t, err)

	_, err = Decode[int](DefaultConverter, p)
	require.Error(t, err)
}
