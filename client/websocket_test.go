package client

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/teamhub/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEchoServer answers every frame with the same frame, and closes with
// code 4001 when asked to by a frame of type "close_me".
func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), `"close_me"`) {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(4001, "asked to"), time.Now().Add(time.Second))
				return
			}
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketTransport_RoundTrip(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWebSocketTransport()
	assert.Equal(t, "websocket", tr.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// http:// is rewritten to ws://.
	conn, err := tr.Dial(ctx, srv.URL)
	require.NoError(t, err)
	defer conn.Close(CloseNormal, "done")

	msg := chatMessage(t, "echo")
	require.NoError(t, conn.Send(msg))

	// The binary frame in front of the echo is skipped.
	data, err := conn.Read()
	require.NoError(t, err)
	got, err := proto.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, proto.TypeChatMessage, got.Type)
}

func TestWebSocketTransport_CloseCode(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWebSocketTransport()

	conn, err := tr.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer conn.Close(CloseAbnormal, "")

	closeMe, err := proto.NewMessage("close_me", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Send(closeMe))

	_, err = conn.Read()
	require.Error(t, err)
	var ce *CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4001, ce.Code)
	assert.Equal(t, 4001, closeCode(err))
}

func TestWebSocketTransport_DialErrors(t *testing.T) {
	tr := NewWebSocketTransport()

	_, err := tr.Dial(context.Background(), "ftp://example.com/ws")
	assert.ErrorContains(t, err, "unsupported WebSocket scheme")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = tr.Dial(ctx, "127.0.0.1:1")
	assert.Error(t, err)
}

func TestTCPTransport_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			_, _ = conn.Write([]byte("\n"))
			_, _ = conn.Write(append(scanner.Bytes(), '\n'))
			return
		}
	}()

	tr := NewTCPTransport()
	assert.Equal(t, "tcp", tr.Name())
	conn, err := tr.Dial(context.Background(), "tcp://"+ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close(CloseNormal, "")

	msg := chatMessage(t, "over tcp")
	require.NoError(t, conn.Send(msg))

	data, err := conn.Read()
	require.NoError(t, err)
	got, err := proto.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)

	// Server hung up without a close code.
	_, err = conn.Read()
	require.Error(t, err)
	assert.Equal(t, CloseAbnormal, closeCode(err))
}

func TestTCPTransport_OversizedFrameDropped(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	msg := chatMessage(t, "fits")
	frame, err := proto.Encode(msg)
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte(`{"type":"chat_message","payload":"` + strings.Repeat("x", 100_000) + `"}` + "\n"))
		_, _ = conn.Write(append(frame, '\n'))
		_, _ = conn.Write(frame) // no trailing newline before EOF
	}()

	tr := NewTCPTransport()
	tr.MaxFrameSize = len(frame) + 8
	conn, err := tr.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close(CloseNormal, "")

	for range 2 {
		data, err := conn.Read()
		require.NoError(t, err, "an oversized frame must not end the connection")
		got, err := proto.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, msg.ID, got.ID)
	}

	_, err = conn.Read()
	require.Error(t, err)
}
