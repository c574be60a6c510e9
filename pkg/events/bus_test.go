package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesHandler(t *testing.T) {
	bus, err := NewBus()
	require.NoError(t, err)

	got := make(chan Envelope, 4)
	bus.Handle("collect", func(env Envelope) error {
		got <- env
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.Start(ctx))
	require.Error(t, bus.Start(ctx))

	require.NoError(t, bus.Publisher().Publish(TopicStackEvents, message.NewMessage("garbage", []byte("not json"))))
	require.NoError(t, Publish(bus.Publisher(), TypeServiceStarted, ServiceEvent{Service: "mysql", PID: 42}))

	select {
	case env := <-got:
		require.Equal(t, TypeServiceStarted, env.Type)
		var ev ServiceEvent
		require.NoError(t, env.Decode(&ev))
		require.Equal(t, "mysql", ev.Service)
		require.Equal(t, 42, ev.PID)
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}

	require.NoError(t, bus.Close())
}

func TestBus_StartHonoursCancelledContext(t *testing.T) {
	bus, err := NewBus()
	require.NoError(t, err)
	bus.Handle("noop", func(Envelope) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, bus.Start(ctx))
	_ = bus.Close()
}

func TestPublish_NilPublisher(t *testing.T) {
	require.NoError(t, Publish(nil, TypeStackUp, StackEvent{Project: "p"}))
}

func TestNewEnvelope(t *testing.T) {
	_, err := NewEnvelope("", nil)
	require.Error(t, err)

	env, err := NewEnvelope(TypeStackUp, nil)
	require.NoError(t, err)
	require.Error(t, env.Decode(&StackEvent{}))
}
