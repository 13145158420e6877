package fn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type inventory struct{}

func (i *inventory) Reserve(ctx context.Context, sku string) error {
	return nil
}

func (i inventory) release(ctx context.Context, sku string) error {
	return nil
}

func chargeCard(_ context.Context, amount int) (string, error) {
	return "", nil
}

func Test_Name(t *testing.T) {
	var inv inventory

	tests := []struct {
		name string
		f    any
		want string
	}{
		{"package function", chargeCard, "chargeCard"},
		{"pointer method value", (&inv).Reserve, "Reserve"},
		{"value method value", inv.release, "release"},
		{"method expression", (*inventory).Reserve, "Reserve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Name(tt.f))
		})
	}
}

func Test_Name_Stable(t *testing.T) {
	var inv inventory

	require.Equal(t, Name(inv.release), Name(inventory{}.release))
}
