package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHub_PublishWakesSubscribers(t *testing.T) {
	h := NewHub()

	c1, unsub1 := h.Subscribe("msg:a:payment")
	defer unsub1()
	c2, unsub2 := h.Subscribe("msg:a:payment")
	defer unsub2()
	other, unsub3 := h.Subscribe("msg:b:payment")
	defer unsub3()

	h.Publish("msg:a:payment")

	require.Len(t, c1, 1)
	require.Len(t, c2, 1)
	require.Len(t, other, 0)
}

func TestHub_Coalesces(t *testing.T) {
	h := NewHub()

	c, unsub := h.Subscribe("k")
	defer unsub()

	h.Publish("k")
	h.Publish("k")
	h.Publish("k")

	require.Len(t, c, 1)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub()

	c, unsub := h.Subscribe("k")
	require.Equal(t, 1, h.Subscribers("k"))

	unsub()
	unsub()
	require.Equal(t, 0, h.Subscribers("k"))

	h.Publish("k")
	require.Len(t, c, 0)
}
