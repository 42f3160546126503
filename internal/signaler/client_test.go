package signaler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amalgammas/link/internal/room"
	"github.com/amalgammas/link/internal/server"
	"github.com/amalgammas/link/internal/signaling"
	"github.com/amalgammas/link/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (wsURL string, rooms *room.Registry) {
	t.Helper()

	rooms = room.NewRegistry()
	hub := signaling.NewHub(rooms, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(server.NewRouter(rooms, hub, nil, server.Options{}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", rooms
}

func connect(t *testing.T, url string) *Client {
	t.Helper()
	c := New(url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)
	return c
}

func receive(t *testing.T, c *Client, typ string) *wire.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Incoming():
		require.True(t, ok, "connection closed while waiting for %s", typ)
		require.Equal(t, typ, msg.Type)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s received", typ)
		return nil
	}
}

func TestJoinAndRelay(t *testing.T) {
	url, rooms := startServer(t)
	rm := rooms.Create()

	a := connect(t, url)
	b := connect(t, url)

	require.NoError(t, a.Send(&wire.Message{Type: wire.TypeJoinRoom, RoomID: rm.ID}))
	receive(t, a, wire.TypeJoined)
	receive(t, a, wire.TypeWaiting)

	require.NoError(t, b.Send(&wire.Message{Type: wire.TypeJoinRoom, RoomID: rm.ID}))
	receive(t, b, wire.TypeJoined)
	receive(t, a, wire.TypeReady)
	receive(t, b, wire.TypeReady)

	answer, err := wire.NewSignal(rm.ID, wire.SignalPayload{Type: wire.KindAnswer, SDP: "v=0"})
	require.NoError(t, err)
	require.NoError(t, b.Send(answer))

	got := receive(t, a, wire.TypeSignal)
	payload, err := wire.DecodeSignal(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, wire.KindAnswer, payload.Type)
}

func TestCloseFlushesLeave(t *testing.T) {
	url, rooms := startServer(t)
	rm := rooms.Create()

	a := connect(t, url)
	b := connect(t, url)

	require.NoError(t, a.Send(&wire.Message{Type: wire.TypeJoinRoom, RoomID: rm.ID}))
	receive(t, a, wire.TypeJoined)
	receive(t, a, wire.TypeWaiting)
	require.NoError(t, b.Send(&wire.Message{Type: wire.TypeJoinRoom, RoomID: rm.ID}))
	receive(t, b, wire.TypeJoined)
	receive(t, a, wire.TypeReady)

	require.NoError(t, b.Send(&wire.Message{Type: wire.TypeLeaveRoom, RoomID: rm.ID}))
	b.Close()

	receive(t, a, wire.TypePeerLeft)
	assert.ErrorIs(t, b.Send(&wire.Message{Type: wire.TypeLeaveRoom}), ErrClosed)
}

func TestIncomingClosesWhenServerGoes(t *testing.T) {
	rooms := room.NewRegistry()
	hub := signaling.NewHub(rooms, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(server.NewRouter(rooms, hub, nil, server.Options{}))
	defer srv.Close()

	c := connect(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")

	// Stopping the hub closes every connection's queue, which closes the socket.
	cancel()

	select {
	case _, ok := <-c.Incoming():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("incoming channel not closed")
	}
}

func TestConnectFailure(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, c.Connect(ctx))
}
