package ringsignal

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func setupHubServer(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	router := chi.NewRouter()
	RegisterRoutes(router, hub)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/ringing"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_Register_SendsCurrentState(t *testing.T) {
	_, conn := setupHubServer(t)

	msg := readMessage(t, conn)
	require.Equal(t, "ringing_state", msg.Object)
	require.False(t, msg.Ringing)
	require.Empty(t, msg.AlarmIDs)
}

func TestHub_Register_LateClientSeesRingingState(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	router := chi.NewRouter()
	RegisterRoutes(router, hub)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	hub.Update(true, []string{"alarm-1"})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/ringing"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := readMessage(t, conn)
	require.True(t, msg.Ringing)
	require.Equal(t, []string{"alarm-1"}, msg.AlarmIDs)
}

func TestHub_Update_Broadcasts(t *testing.T) {
	hub, conn := setupHubServer(t)
	readMessage(t, conn)

	hub.Update(true, []string{"alarm-1", "alarm-2"})
	msg := readMessage(t, conn)
	require.True(t, msg.Ringing)
	require.Equal(t, []string{"alarm-1", "alarm-2"}, msg.AlarmIDs)

	hub.Update(false, nil)
	msg = readMessage(t, conn)
	require.False(t, msg.Ringing)
	require.Empty(t, msg.AlarmIDs)
}

func TestHub_ConnectDuringBroadcastStorm(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	router := chi.NewRouter()
	RegisterRoutes(router, hub)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/ringing"

	// Broadcast continuously while clients connect, so registration
	// writes and broadcast writes overlap on the same connections.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.Update(true, []string{"alarm-1"})
			time.Sleep(time.Millisecond)
		}
	}()

	conns := make([]*websocket.Conn, 0, 6)
	for i := 0; i < 6; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		conns = append(conns, conn)
		readMessage(t, conn)
	}

	<-done
	hub.Update(false, nil)

	// Every client survives the storm and observes the final quiet
	// state; a torn or concurrent write would kill its connection.
	for _, conn := range conns {
		for {
			msg := readMessage(t, conn)
			if !msg.Ringing && len(msg.AlarmIDs) == 0 {
				break
			}
		}
	}
	require.Equal(t, 6, hub.ClientCount())
}

func TestHub_ClientCount_TracksDisconnect(t *testing.T) {
	hub, conn := setupHubServer(t)
	readMessage(t, conn)

	require.Equal(t, 1, hub.ClientCount())

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_Close_Idempotent(t *testing.T) {
	hub := NewHub(nil)
	hub.Close()
	hub.Close()
	require.Zero(t, hub.ClientCount())
}
