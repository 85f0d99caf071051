package transport

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sessamekesh/shardwire/pkg/errors"
	"go.uber.org/zap"
)

const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

// Conn is the duplex frame capability a gateway connection needs. Implementations
// must allow one concurrent reader alongside one concurrent writer.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close(code int, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type WebsocketDialerParams struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxReadSize      int64
	Header           http.Header

	Logger *zap.Logger
}

// WebsocketDialer opens gateway sockets with gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
	params WebsocketDialerParams
	log    *zap.Logger
}

var _ Dialer = (*WebsocketDialer)(nil)

func CreateWebsocketDialer(params WebsocketDialerParams) *WebsocketDialer {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	if params.HandshakeTimeout <= 0 {
		params.HandshakeTimeout = 15 * time.Second
	}
	if params.WriteTimeout <= 0 {
		params.WriteTimeout = 10 * time.Second
	}

	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: params.HandshakeTimeout,
		},
		params: params,
		log:    logger.With(zap.String("transport", "WebSocket")),
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := d.dialer.DialContext(ctx, url, d.params.Header)
	if err != nil {
		fields := []zap.Field{zap.String("url", url), zap.Error(err)}
		if resp != nil {
			fields = append(fields, zap.Int("status", resp.StatusCode))
		}
		d.log.Debug("WebSocket dial failed", fields...)
		return nil, &errors.TransportError{Op: "dial", Err: err}
	}

	if d.params.MaxReadSize > 0 {
		c.SetReadLimit(d.params.MaxReadSize)
	}

	return &websocketConn{
		conn:         c,
		writeTimeout: d.params.WriteTimeout,
	}, nil
}

type websocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mut_write sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *websocketConn) ReadMessage() (int, []byte, error) {
	msgType, payload, err := c.conn.ReadMessage()
	if err != nil {
		return 0, nil, translateError("read", err)
	}
	return msgType, payload, nil
}

func (c *websocketConn) WriteMessage(messageType int, data []byte) error {
	c.mut_write.Lock()
	defer c.mut_write.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return translateError("write", err)
	}
	return nil
}

// Close sends a close frame with the given code, then tears down the socket. The
// code matters to the gateway: 1000/1001 end the session, anything else keeps it
// resumable.
func (c *websocketConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mut_write.Lock()
		deadline := time.Now().Add(c.writeTimeout)
		c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.mut_write.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func translateError(op string, err error) error {
	var closeErr *websocket.CloseError
	if stderrors.As(err, &closeErr) {
		return &errors.TransportError{Op: op, CloseCode: closeErr.Code, Err: err}
	}
	if stderrors.Is(err, net.ErrClosed) {
		return &errors.TransportError{Op: op, Err: net.ErrClosed}
	}
	return &errors.TransportError{Op: op, Err: err}
}
