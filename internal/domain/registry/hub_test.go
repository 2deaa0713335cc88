package registry

import (
	"context"
	"testing"
	"time"

	"github.com/livecast/overlay-delivery-service/internal/domain/event"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTipEvent(streamID, user string) event.Eventer {
	return event.NewViewerEventV1(model.Event{
		ID:       user + "-tip",
		StreamID: streamID,
		Payload:  &model.TipSent{Viewer: model.Viewer{Username: user}, TipAmount: 1},
	}, "node-a")
}

func recv(t *testing.T, conn Connector) event.Eventer {
	t.Helper()
	select {
	case ev, ok := <-conn.Recv():
		require.True(t, ok, "connection closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestHub_BroadcastFansOutWithinStream(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	ctx := context.Background()
	a := NewConnector(ctx, "s1", model.Viewer{Username: "a"}, ConnectMetadata{}, 8)
	b := NewConnector(ctx, "s1", model.Viewer{Username: "b"}, ConnectMetadata{}, 8)
	other := NewConnector(ctx, "s2", model.Viewer{Username: "c"}, ConnectMetadata{}, 8)
	hub.Register(a)
	hub.Register(b)
	hub.Register(other)

	require.True(t, hub.Broadcast(newTipEvent("s1", "alice")))

	assert.Equal(t, "alice-tip", recv(t, a).GetID())
	assert.Equal(t, "alice-tip", recv(t, b).GetID())

	select {
	case ev := <-other.Recv():
		t.Fatalf("event leaked to another stream: %v", ev.GetID())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PreservesOrderPerConnection(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	conn := NewConnector(context.Background(), "s1", model.Viewer{}, ConnectMetadata{}, 64)
	hub.Register(conn)

	users := []string{"alice", "bob", "carol", "dave"}
	for _, u := range users {
		require.True(t, hub.Broadcast(newTipEvent("s1", u)))
	}
	for _, u := range users {
		assert.Equal(t, u+"-tip", recv(t, conn).GetID())
	}
}

func TestHub_BroadcastUnknownStream(t *testing.T) {
	hub := NewHub()
	assert.False(t, hub.Broadcast(newTipEvent("nobody", "alice")))
}

func TestHub_UnregisterClosesConnection(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	conn := NewConnector(context.Background(), "s1", model.Viewer{}, ConnectMetadata{}, 4)
	hub.Register(conn)
	assert.Equal(t, 1, hub.Stats().TotalConnections)

	hub.Unregister("s1", conn.GetID())
	hub.Unregister("s1", conn.GetID()) // idempotent

	_, ok := <-conn.Recv()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Stats().TotalConnections)
	assert.True(t, hub.IsActive("s1"), "room is kept until the janitor runs")
}

func TestHub_EvictIdle(t *testing.T) {
	hub := NewHub(WithIdleTimeout(10 * time.Millisecond))
	defer hub.Shutdown()

	busy := NewConnector(context.Background(), "busy", model.Viewer{}, ConnectMetadata{}, 4)
	hub.Register(busy)
	idle := NewConnector(context.Background(), "idle", model.Viewer{}, ConnectMetadata{}, 4)
	hub.Register(idle)
	hub.Unregister("idle", idle.GetID())

	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, hub.EvictIdle())
	assert.False(t, hub.IsActive("idle"))
	assert.True(t, hub.IsActive("busy"))

	// a viewer returning after eviction gets a fresh room
	again := NewConnector(context.Background(), "idle", model.Viewer{}, ConnectMetadata{}, 4)
	hub.Register(again)
	require.True(t, hub.Broadcast(newTipEvent("idle", "bob")))
	assert.Equal(t, "bob-tip", recv(t, again).GetID())
}

func TestConnect_SlowConsumerDropsViewerEvents(t *testing.T) {
	conn := NewConnector(context.Background(), "s1", model.Viewer{}, ConnectMetadata{}, 1)
	defer conn.Close()

	assert.True(t, conn.Send(newTipEvent("s1", "a"), 10*time.Millisecond))
	assert.False(t, conn.Send(newTipEvent("s1", "b"), 10*time.Millisecond))
	assert.Equal(t, uint64(1), conn.Dropped())

	// system signals evict the oldest buffered frame
	sys := event.NewSystemEvent("s1", event.PriorityHigh, &model.TimeSync{RequestedAt: 1, ServerTime: 2})
	assert.True(t, conn.Send(sys, 10*time.Millisecond))
	assert.Equal(t, sys.GetID(), recv(t, conn).GetID())
}

func TestConnect_CloseIsIdempotent(t *testing.T) {
	conn := NewConnector(context.Background(), "s1", model.Viewer{}, ConnectMetadata{}, 1)
	conn.Close()
	conn.Close()
	assert.False(t, conn.Send(newTipEvent("s1", "a"), time.Millisecond))
}
