package transport

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sessamekesh/shardwire/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startServer(t *testing.T, handle func(c *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handle(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialReadWrite(t *testing.T) {
	url := startServer(t, func(c *websocket.Conn) {
		msgType, payload, err := c.ReadMessage()
		if err != nil {
			return
		}
		c.WriteMessage(msgType, append([]byte("echo:"), payload...))
		c.ReadMessage()
	})

	d := CreateWebsocketDialer(WebsocketDialerParams{Logger: zap.NewNop()})
	conn, err := d.Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close(websocket.CloseNormalClosure, "")

	require.NoError(t, conn.WriteMessage(TextMessage, []byte("hi")))
	msgType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, TextMessage, msgType)
	assert.Equal(t, "echo:hi", string(payload))
}

func TestReadReportsServerCloseCode(t *testing.T) {
	url := startServer(t, func(c *websocket.Conn) {
		c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(4004, "Authentication failed."), time.Now().Add(time.Second))
		c.ReadMessage()
	})

	d := CreateWebsocketDialer(WebsocketDialerParams{Logger: zap.NewNop()})
	conn, err := d.Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close(websocket.CloseNormalClosure, "")

	_, _, err = conn.ReadMessage()
	var transportErr *errors.TransportError
	require.True(t, stderrors.As(err, &transportErr))
	assert.Equal(t, 4004, transportErr.CloseCode)
	assert.Equal(t, "read", transportErr.Op)
}

func TestCloseSendsCode(t *testing.T) {
	codes := make(chan int, 1)
	url := startServer(t, func(c *websocket.Conn) {
		_, _, err := c.ReadMessage()
		var closeErr *websocket.CloseError
		if stderrors.As(err, &closeErr) {
			codes <- closeErr.Code
		}
	})

	d := CreateWebsocketDialer(WebsocketDialerParams{Logger: zap.NewNop()})
	conn, err := d.Dial(context.Background(), url)
	require.NoError(t, err)

	require.NoError(t, conn.Close(4000, "reconnecting"))
	// Second close is a no-op.
	conn.Close(websocket.CloseNormalClosure, "")

	select {
	case code := <-codes:
		assert.Equal(t, 4000, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close frame")
	}
}

func TestDialFailureIsTransportError(t *testing.T) {
	var d Dialer = CreateWebsocketDialer(WebsocketDialerParams{Logger: zap.NewNop(), HandshakeTimeout: time.Second})
	_, err := d.Dial(context.Background(), "ws://127.0.0.1:1/gateway")

	var transportErr *errors.TransportError
	require.True(t, stderrors.As(err, &transportErr))
	assert.Equal(t, "dial", transportErr.Op)
}
