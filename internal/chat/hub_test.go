package chat

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(2)
	go h.Run()
	t.Cleanup(func() { close(h.Quit) })
	return h
}

// newHubServer upgrades each request, subscribes it to the room named in the
// query, and acks with a ready frame so tests know the registration landed.
func newHubServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(h, conn, r.URL.Query().Get("room"), "")
		h.Register(client)
		conn.WriteMessage(websocket.TextMessage, []byte("ready"))
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialRoom(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?room=" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "ready", string(msg))
	return conn
}

func TestBroadcastDeliversInOrder(t *testing.T) {
	h := newTestHub(t)
	srv := newHubServer(t, h)
	conn := dialRoom(t, srv, "r1")

	const n = 50
	for i := 1; i <= n; i++ {
		h.Broadcast("r1", []byte(fmt.Sprintf("event-%d", i)))
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 1; i <= n; i++ {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("event-%d", i), string(msg))
	}
}

func TestBroadcastIsScopedToRoom(t *testing.T) {
	h := newTestHub(t)
	srv := newHubServer(t, h)
	sub1 := dialRoom(t, srv, "r1")
	sub2 := dialRoom(t, srv, "r2")

	h.Broadcast("r1", []byte("only-r1"))

	sub1.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := sub1.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "only-r1", string(msg))

	sub2.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = sub2.ReadMessage()
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout(), "r2 subscriber should receive nothing")
}

func TestMultipleSubscribersReceiveEachEvent(t *testing.T) {
	h := newTestHub(t)
	srv := newHubServer(t, h)
	subs := []*websocket.Conn{
		dialRoom(t, srv, "r1"),
		dialRoom(t, srv, "r1"),
		dialRoom(t, srv, "r1"),
	}

	h.Broadcast("r1", []byte("hello-all"))

	for i, sub := range subs {
		sub.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := sub.ReadMessage()
		require.NoError(t, err, "subscriber %d", i)
		assert.Equal(t, "hello-all", string(msg))
	}
}

func TestSlowConsumerIsEvicted(t *testing.T) {
	h := newTestHub(t)
	srv := newHubServer(t, h)

	slow := dialRoom(t, srv, "r1")
	healthy := dialRoom(t, srv, "r1")

	// Drain the healthy subscriber so only the idle one backs up.
	healthyDone := make(chan struct{})
	go func() {
		defer close(healthyDone)
		for {
			healthy.SetReadDeadline(time.Now().Add(10 * time.Second))
			_, msg, err := healthy.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "fin" {
				return
			}
		}
	}()

	// Large frames fill the kernel buffers, then the send channel, then the
	// hub evicts.
	big := []byte(strings.Repeat("x", 64*1024))
	for i := 0; i < 600; i++ {
		h.Broadcast("r1", big)
	}
	h.Broadcast("r1", []byte("fin"))

	select {
	case <-healthyDone:
	case <-time.After(15 * time.Second):
		t.Fatal("healthy subscriber starved; hub wedged on slow consumer")
	}

	// The evicted connection is closed server-side: reads drain whatever was
	// buffered and then fail with a close error, not a timeout.
	slow.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, _, err := slow.ReadMessage()
		if err == nil {
			continue
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			t.Fatal("slow consumer was never evicted")
		}
		break
	}
}

// A caller-side unregister racing shutdown must leave the cleanup to the
// shard's quit path; a second close of the send channel would panic a shard
// still draining queued broadcasts.
func TestUnregisterDuringShutdownLeavesCleanupToShard(t *testing.T) {
	h := NewHub(1)
	go h.Run()

	clients := make(chan *Client, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(h, conn, "r1", "")
		h.Register(client)
		clients <- client
		conn.WriteMessage(websocket.TextMessage, []byte("ready"))
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "ready", string(msg))
	client := <-clients

	// Queue work for the shard, then shut down while the caller-side
	// unregister lands on the quit branch.
	for i := 0; i < 200; i++ {
		h.Broadcast("r1", []byte("pending"))
	}
	close(h.Quit)
	h.Unregister(client)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				t.Fatal("connection still open after hub shutdown")
			}
			break
		}
	}
}

func TestQuitClosesSubscribers(t *testing.T) {
	h := NewHub(2)
	go h.Run()
	srv := newHubServer(t, h)
	conn := dialRoom(t, srv, "r1")

	close(h.Quit)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		t.Fatal("connection still open after hub shutdown")
	}
}
