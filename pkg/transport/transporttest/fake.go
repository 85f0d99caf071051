// Package transporttest provides an in-process scripted gateway socket for tests.
package transporttest

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sessamekesh/shardwire/pkg/errors"
	"github.com/sessamekesh/shardwire/pkg/transport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type serverFrame struct {
	messageType int
	data        []byte
	closeCode   int
}

// ClientFrame is a frame written by the code under test.
type ClientFrame struct {
	Op   int                 `json:"op"`
	Data jsoniter.RawMessage `json:"d"`
}

// Conn is one fake socket. The client side satisfies transport.Conn, the server
// side is driven by the test through Send*, CloseWithCode and NextFrame.
type Conn struct {
	URL string

	toClient   chan serverFrame
	fromClient chan []byte
	closed     chan struct{}
	closeOnce  sync.Once

	mut_close sync.Mutex
	closeCode int
}

func NewConn(url string) *Conn {
	return &Conn{
		URL:        url,
		toClient:   make(chan serverFrame, 256),
		fromClient: make(chan []byte, 256),
		closed:     make(chan struct{}),
	}
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.toClient:
		if f.closeCode != 0 {
			c.markClosed(f.closeCode)
			return 0, nil, &errors.TransportError{Op: "read", CloseCode: f.closeCode, Err: net.ErrClosed}
		}
		return f.messageType, f.data, nil
	case <-c.closed:
		return 0, nil, &errors.TransportError{Op: "read", Err: net.ErrClosed}
	}
}

func (c *Conn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return &errors.TransportError{Op: "write", Err: net.ErrClosed}
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case c.fromClient <- buf:
		return nil
	case <-c.closed:
		return &errors.TransportError{Op: "write", Err: net.ErrClosed}
	}
}

func (c *Conn) Close(code int, reason string) error {
	c.markClosed(code)
	return nil
}

func (c *Conn) markClosed(code int) {
	c.closeOnce.Do(func() {
		c.mut_close.Lock()
		c.closeCode = code
		c.mut_close.Unlock()
		close(c.closed)
	})
}

// CloseCode is the code of whichever side closed the socket first.
func (c *Conn) CloseCode() int {
	c.mut_close.Lock()
	defer c.mut_close.Unlock()
	return c.closeCode
}

func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

func (c *Conn) Send(messageType int, data []byte) {
	c.toClient <- serverFrame{messageType: messageType, data: data}
}

// SendOp queues a JSON text frame. seq and name are only written when non-zero.
func (c *Conn) SendOp(op int, d any, seq int64, name string) {
	frame := map[string]any{"op": op, "d": d, "s": nil, "t": nil}
	if seq != 0 {
		frame["s"] = seq
	}
	if name != "" {
		frame["t"] = name
	}
	data, err := json.Marshal(frame)
	if err != nil {
		panic(err)
	}
	c.Send(transport.TextMessage, data)
}

func (c *Conn) SendHello(intervalMs int64) {
	c.SendOp(10, map[string]any{"heartbeat_interval": intervalMs}, 0, "")
}

func (c *Conn) SendDispatch(name string, seq int64, d any) {
	c.SendOp(0, d, seq, name)
}

// CloseWithCode simulates the server closing the socket. Frames queued before it
// are still delivered first.
func (c *Conn) CloseWithCode(code int) {
	c.toClient <- serverFrame{closeCode: code}
}

// NextFrame waits for the next frame the client wrote.
func (c *Conn) NextFrame(timeout time.Duration) (ClientFrame, bool) {
	select {
	case data := <-c.fromClient:
		frame := ClientFrame{}
		if err := json.Unmarshal(data, &frame); err != nil {
			return ClientFrame{Op: -1, Data: data}, true
		}
		return frame, true
	case <-time.After(timeout):
		return ClientFrame{}, false
	}
}

// Dialer hands every new Conn to the test through Conns.
type Dialer struct {
	Conns chan *Conn

	mut_fail  sync.Mutex
	failCount int
	failErr   error

	dials atomic.Int32
}

func NewDialer() *Dialer {
	return &Dialer{Conns: make(chan *Conn, 64)}
}

// FailNext makes the next n dials fail with err. n < 0 fails every dial.
func (d *Dialer) FailNext(n int, err error) {
	d.mut_fail.Lock()
	defer d.mut_fail.Unlock()
	d.failCount = n
	d.failErr = err
}

func (d *Dialer) Dials() int {
	return int(d.dials.Load())
}

func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.dials.Add(1)

	d.mut_fail.Lock()
	if d.failCount != 0 {
		if d.failCount > 0 {
			d.failCount--
		}
		err := d.failErr
		d.mut_fail.Unlock()
		return nil, &errors.TransportError{Op: "dial", Err: err}
	}
	d.mut_fail.Unlock()

	c := NewConn(url)
	select {
	case d.Conns <- c:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
