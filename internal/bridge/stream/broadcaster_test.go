package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := New[int]("test", nil)
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	defer cancelA()
	defer cancelC()

	b.Publish(1)
	b.Publish(2)

	require.Equal(t, 1, <-a)
	require.Equal(t, 2, <-a)
	require.Equal(t, 1, <-c)
	require.Equal(t, 2, <-c)
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	drops := 0
	b := New[string]("lifecycle", func(name string) {
		require.Equal(t, "lifecycle", name)
		drops++
	})
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish("a")
	b.Publish("b")

	require.Equal(t, 1, drops)
	require.Equal(t, "a", <-ch)
}

func TestBroadcasterCancelAndClose(t *testing.T) {
	b := New[int]("x", nil)
	ch, cancel := b.Subscribe(1)
	require.Equal(t, 1, b.Subscribers())

	cancel()
	cancel()
	_, ok := <-ch
	require.False(t, ok)
	require.Equal(t, 0, b.Subscribers())

	other, _ := b.Subscribe(1)
	b.Close()
	_, ok = <-other
	require.False(t, ok)

	late, _ := b.Subscribe(1)
	_, ok = <-late
	require.False(t, ok)
	b.Publish(3)
}
