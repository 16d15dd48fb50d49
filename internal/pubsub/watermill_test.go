package pubsub

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillBridge_PreservesOrder(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 1000
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	require.NoError(t, bridge.Subscribe(ctx, "feed.messages", func(ctx context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(msg.Payload))
		if len(got) == n {
			close(done)
		}
		return nil
	}))

	for i := 0; i < n; i++ {
		require.NoError(t, bridge.Publish(ctx, Message{Topic: "feed.messages", Payload: []byte(strconv.Itoa(i))}))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all messages delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		require.Equal(t, strconv.Itoa(i), v)
	}
}

func TestWatermillBridge_MapsFields(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Message, 1)
	require.NoError(t, bridge.Subscribe(ctx, "feed.events", func(ctx context.Context, msg Message) error {
		received <- msg
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{
		Topic:     "feed.events",
		SessionID: "abc",
		Payload:   []byte("payload"),
		Metadata:  map[string]string{"kind": "disconnected"},
	}))

	select {
	case msg := <-received:
		assert.Equal(t, "feed.events", msg.Topic)
		assert.Equal(t, "abc", msg.SessionID)
		assert.Equal(t, "payload", string(msg.Payload))
		assert.Equal(t, map[string]string{"kind": "disconnected"}, msg.Metadata)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestWatermillBridge_HandlerErrorDoesNotRedeliver(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, bridge.Subscribe(ctx, "t", func(ctx context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("handler failed")
	}))

	// Publish blocks until the subscriber acked, so the call count is final afterwards.
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "t", Payload: []byte("x")}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "t", Payload: []byte("y")}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestWatermillBridge_PublishWithoutSubscribers(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	assert.NoError(t, bridge.Publish(context.Background(), Message{Topic: "nobody", Payload: []byte("x")}))
	assert.Error(t, bridge.Publish(context.Background(), Message{Payload: []byte("x")}), "topic is required")
}
