package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBusDeliversToSubscriber(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	received := make(chan []byte, 1)
	sub, err := bus.Subscribe(ctx, "rumors", func(_ context.Context, payload []byte) {
		received <- payload
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "rumors", []byte("hello")))

	select {
	case payload := <-received:
		assert.Equal(t, "hello", string(payload))
	default:
		t.Fatal("handler was not invoked synchronously")
	}

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(ctx, "rumors", []byte("again")))
	select {
	case <-received:
		t.Fatal("handler invoked after unsubscribe")
	default:
	}
}

func TestInMemoryBusTopicIsolation(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	var gotOther bool
	_, err := bus.Subscribe(ctx, "votes", func(_ context.Context, _ []byte) { gotOther = true })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "rumors", []byte("x")))
	assert.False(t, gotOther)
}
