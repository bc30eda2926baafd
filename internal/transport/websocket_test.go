package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "fluxctl/internal/errors"
	"fluxctl/internal/protocol"
	"fluxctl/internal/session"
)

// deviceServer runs handle for every websocket accepted by a local
// HTTP server and returns the control URL to dial.
func deviceServer(t *testing.T, handle func(ws *websocket.Conn)) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handle(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + protocol.ControlPath + "dev-1"
}

func readText(t *testing.T, ws *websocket.Conn) string {
	mt, data, err := ws.ReadMessage()
	if err != nil {
		t.Errorf("device read: %v", err)
		return ""
	}
	if mt != websocket.TextMessage {
		t.Errorf("device read: message type %d, want text", mt)
	}
	return string(data)
}

func drain(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func TestWebSocket_EndToEnd(t *testing.T) {
	uploaded := make(chan []int, 1)
	url := deviceServer(t, func(ws *websocket.Conn) {
		if got := readText(t, ws); got != "client-key" {
			t.Errorf("credential = %q", got)
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`{"status":"connecting","stage":"auth"}`))
		ws.WriteMessage(websocket.TextMessage, []byte(`{"status":"connected"}`))

		if got := readText(t, ws); got != "camera snap" {
			t.Errorf("command = %q", got)
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`{"status":"binary","mimetype":"image/png","size":100}`))
		ws.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte{1}, 60))
		ws.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte{2}, 40))
		ws.WriteMessage(websocket.TextMessage, []byte(`{"status":"ok"}`))

		if got := readText(t, ws); got != "upload text/gcode 5000" {
			t.Errorf("command = %q", got)
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`{"status":"continue"}`))
		var sizes []int
		for total := 0; total < 5000; {
			_, data, err := ws.ReadMessage()
			if err != nil {
				t.Errorf("upload read: %v", err)
				return
			}
			sizes = append(sizes, len(data))
			total += len(data)
		}
		uploaded <- sizes
		ws.WriteMessage(websocket.TextMessage, []byte(`{"status":"ok"}`))
		drain(ws)
	})

	conn, err := DialWebSocket(context.Background(), &TCPDialer{Timeout: time.Second}, url, WSOptions{})
	require.NoError(t, err)

	var stages []string
	r := session.NewRunner(conn, "client-key", session.Handlers{
		OnConnecting: func(_ *session.Session, stage string) { stages = append(stages, stage) },
	})
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	select {
	case <-r.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := r.Exec(ctx, "camera snap", session.Options{})
	require.NoError(t, err)
	bins := p.Binaries()
	require.Len(t, bins, 1)
	assert.Equal(t, "image/png", bins[0].MimeType)
	assert.Equal(t, 100, bins[0].Size())

	_, err = r.Exec(ctx, "upload text/gcode 5000", session.Options{File: bytes.NewReader(make([]byte, 5000))})
	require.NoError(t, err)
	assert.Equal(t, []int{3984, 1016}, <-uploaded)

	require.NoError(t, r.Close())
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after close")
	}
	assert.Equal(t, websocket.CloseNormalClosure, r.CloseEvent().Code)
	assert.Equal(t, []string{"auth"}, stages)
}

func TestWebSocket_HandshakeRejected(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"forbidden", http.StatusForbidden, false},
		{"unavailable", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/control/x"
			_, err := DialWebSocket(context.Background(), &TCPDialer{Timeout: time.Second}, url, WSOptions{})
			var ne *ncerr.NetworkError
			require.True(t, errors.As(err, &ne))
			assert.Equal(t, "handshake", ne.Op)
			assert.Equal(t, tt.retryable, ncerr.IsRetryable(err))
		})
	}
}

func TestWebSocket_DialRefused(t *testing.T) {
	_, err := DialWebSocket(context.Background(), &TCPDialer{Timeout: time.Second}, "ws://127.0.0.1:1/ws/control/x", WSOptions{})
	var ne *ncerr.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "dial", ne.Op)
}

// TestWSConn_CloseGrace verifies that a peer which never answers the
// close frame still yields a normal closure once the grace expires.
func TestWSConn_CloseGrace(t *testing.T) {
	release := make(chan struct{})
	url := deviceServer(t, func(ws *websocket.Conn) { <-release })
	defer close(release)

	conn, err := DialWebSocket(context.Background(), &TCPDialer{Timeout: time.Second}, url,
		WSOptions{CloseGrace: 100 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err = conn.ReadFrame()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)

	assert.ErrorIs(t, conn.WriteText([]byte("ls")), ncerr.ErrClosed)
}

func TestWSConn_FrameKinds(t *testing.T) {
	url := deviceServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte("hello"))
		ws.WriteMessage(websocket.BinaryMessage, []byte{0, 1, 2})
		drain(ws)
	})
	conn, err := DialWebSocket(context.Background(), &TCPDialer{Timeout: time.Second}, url, WSOptions{})
	require.NoError(t, err)
	defer conn.Close()

	f, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.False(t, f.Binary)
	assert.Equal(t, "hello", string(f.Data))

	f, err = conn.ReadFrame()
	require.NoError(t, err)
	assert.True(t, f.Binary)
	assert.Equal(t, []byte{0, 1, 2}, f.Data)
	assert.NotNil(t, conn.RemoteAddr())
}
