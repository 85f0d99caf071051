package gateway

import (
	"context"
	stderrors "errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sessamekesh/shardwire/pkg/errors"
	gatewayframe "github.com/sessamekesh/shardwire/pkg/message/gateway_frame"
	"github.com/sessamekesh/shardwire/pkg/transport"
	utils "github.com/sessamekesh/shardwire/pkg/util"
	"go.uber.org/zap"
)

const ClientName = "shardwire"

// IdentifyGate paces identify attempts across every shard of one client. Resumes
// never pass through it.
type IdentifyGate interface {
	Wait(ctx context.Context, shardID int) error
}

type ConnectionParams struct {
	ShardID    int
	ShardCount int

	Token          string
	Intents        gatewayframe.Intents
	GatewayURL     string
	Compress       bool
	LargeThreshold int
	Presence       *gatewayframe.PresenceUpdate

	Dialer       transport.Dialer
	IdentifyGate IdentifyGate

	// Dispatch events are delivered here in receive order. Must not be nil.
	Events chan<- gatewayframe.DispatchEvent

	// Consecutive sockets that fail to reach Ready before Run gives up. The drop
	// that ends a Ready session is not one of them. Zero or less retries forever.
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffMax           time.Duration

	Random *utils.RandomSource
	Logger *zap.Logger
}

// Connection runs the gateway protocol for one shard. All socket writes and all
// protocol state live on the goroutine that called Run.
type Connection struct {
	params  ConnectionParams
	log     *zap.Logger
	backoff *backoff

	state   atomic.Int32
	latency atomic.Int64

	mut_session sync.RWMutex
	session     *Session

	presence        *gatewayframe.PresenceUpdate
	presenceUpdates chan presenceRequest

	// Closed when Run returns.
	done     chan struct{}
	doneOnce sync.Once
}

type presenceRequest struct {
	presence gatewayframe.PresenceUpdate
	result   chan error
}

func NewConnection(params ConnectionParams) *Connection {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.ShardCount <= 0 {
		params.ShardCount = 1
	}
	if params.GatewayURL == "" {
		params.GatewayURL = gatewayframe.DefaultURL
	}
	if params.BackoffBase <= 0 {
		params.BackoffBase = time.Second
	}
	if params.BackoffMax <= 0 {
		params.BackoffMax = 30 * time.Second
	}
	if params.Random == nil {
		params.Random = utils.CreateRandomSource(time.Now().UnixNano())
	}

	return &Connection{
		params:          params,
		log:             logger.With(zap.Int("shard", params.ShardID), zap.Int("shardCount", params.ShardCount)),
		backoff:         newBackoff(params.BackoffBase, params.BackoffMax, params.Random),
		presence:        params.Presence,
		presenceUpdates: make(chan presenceRequest),
		done:            make(chan struct{}),
	}
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.log.Debug("Gateway state transition", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Session returns a copy of the current session, if one is established.
func (c *Connection) Session() (Session, bool) {
	c.mut_session.RLock()
	defer c.mut_session.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

func (c *Connection) setSession(s *Session) {
	c.mut_session.Lock()
	defer c.mut_session.Unlock()
	c.session = s
}

func (c *Connection) clearSession() {
	c.setSession(nil)
}

func (c *Connection) advanceSequence(seq int64) {
	c.mut_session.Lock()
	defer c.mut_session.Unlock()
	if c.session != nil && seq > c.session.Sequence {
		c.session.Sequence = seq
	}
}

// Latency is the round trip of the most recent acknowledged heartbeat.
func (c *Connection) Latency() time.Duration {
	return time.Duration(c.latency.Load())
}

// UpdatePresence sends a presence update (opcode 3). It is also remembered and sent
// with any later identify.
func (c *Connection) UpdatePresence(ctx context.Context, presence gatewayframe.PresenceUpdate) error {
	if state := c.State(); state != State_Connected {
		return &errors.NotConnected{ShardID: c.params.ShardID, State: state.String()}
	}

	req := presenceRequest{presence: presence, result: make(chan error, 1)}
	select {
	case c.presenceUpdates <- req:
	case <-c.done:
		return &errors.NotConnected{ShardID: c.params.ShardID, State: State_Closed.String()}
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the connection until ctx is cancelled (returns nil), the gateway
// rejects the credentials (*errors.AuthError) or MaxReconnectAttempts consecutive
// attempts fail (*errors.ReconnectExhausted).
func (c *Connection) Run(ctx context.Context) error {
	defer func() {
		c.setState(State_Closed)
		c.doneOnce.Do(func() { close(c.done) })
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		reachedReady, err := c.runSocket(ctx)
		if ctx.Err() != nil {
			return nil
		}

		var authErr *errors.AuthError
		if stderrors.As(err, &authErr) {
			c.log.Error("Gateway rejected identify, shard will not reconnect", zap.Error(err))
			c.clearSession()
			return authErr
		}

		if reachedReady {
			failures = 0
		} else {
			failures++
		}

		if c.params.MaxReconnectAttempts > 0 && failures >= c.params.MaxReconnectAttempts {
			c.clearSession()
			return &errors.ReconnectExhausted{
				ShardID:  c.params.ShardID,
				Attempts: failures,
				LastErr:  err,
			}
		}

		c.setState(State_Reconnecting)
		delay := c.backoff.Next()
		c.log.Info("Gateway connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", delay),
			zap.Int("failures", failures))

		if !c.sleep(ctx, delay) {
			return nil
		}
	}
}

func (c *Connection) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case req := <-c.presenceUpdates:
			req.result <- &errors.NotConnected{ShardID: c.params.ShardID, State: c.State().String()}
		}
	}
}

type inboundFrame struct {
	env *gatewayframe.Envelope
	err error
}

// runSocket owns exactly one transport socket and one Codec. It reports whether the
// socket reached Ready before it ended.
func (c *Connection) runSocket(ctx context.Context) (bool, error) {
	session, resuming := c.Session()

	target := c.params.GatewayURL
	if resuming && session.ResumeURL != "" {
		target = session.ResumeURL
	}
	url, err := gatewayframe.BuildURL(target, c.params.Compress)
	if err != nil {
		return false, err
	}

	c.setState(State_Connecting)
	if gate := c.params.IdentifyGate; gate != nil && !resuming {
		if err := gate.Wait(ctx, c.params.ShardID); err != nil {
			return false, err
		}
	}

	conn, err := c.params.Dialer.Dial(ctx, url)
	if err != nil {
		return false, err
	}
	c.setState(State_AwaitingHello)

	s := &socketRun{
		c:        c,
		conn:     conn,
		log:      c.log.With(zap.String("connId", uuid.NewString())),
		resuming: resuming,
		session:  session,
	}
	if resuming {
		s.lastSeq = session.Sequence
	}

	codec := gatewayframe.NewCodec(c.params.Compress)
	inbound := make(chan inboundFrame)
	done := make(chan struct{})
	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		readLoop(conn, codec, inbound, done)
	}()

	defer func() {
		if s.heartbeater != nil {
			s.heartbeater.Stop()
		}
		if ctx.Err() != nil {
			conn.Close(CloseCode_Normal, "shutting down")
		} else {
			conn.Close(CloseCode_Reconnect, "reconnecting")
		}
		close(done)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return s.ready, nil
		case f := <-inbound:
			if f.err != nil {
				return s.ready, c.classifyReadError(f.err)
			}
			if err := s.handleEnvelope(ctx, f.env); err != nil {
				return s.ready, err
			}
		case <-s.ticks():
			if err := s.onHeartbeatTick(); err != nil {
				return s.ready, err
			}
		case req := <-c.presenceUpdates:
			req.result <- s.sendPresence(req.presence)
		}
	}
}

// readLoop decodes frames with the socket's own codec. Partial compressed frames
// produce nothing; the first error ends the loop.
func readLoop(conn transport.Conn, codec *gatewayframe.Codec, out chan<- inboundFrame, done <-chan struct{}) {
	for {
		msgType, data, err := conn.ReadMessage()

		f := inboundFrame{err: err}
		if err == nil {
			env, decodeErr := codec.Decode(data, msgType == transport.BinaryMessage)
			if decodeErr == nil && env == nil {
				continue
			}
			f = inboundFrame{env: env, err: decodeErr}
		}

		select {
		case out <- f:
		case <-done:
			return
		}
		if f.err != nil {
			return
		}
	}
}

func (c *Connection) classifyReadError(err error) error {
	var transportErr *errors.TransportError
	if !stderrors.As(err, &transportErr) || transportErr.CloseCode == 0 {
		return err
	}

	code := transportErr.CloseCode
	if isAuthCloseCode(code) {
		return &errors.AuthError{CloseCode: code, Reason: closeCodeReason(code)}
	}
	if isSessionEndingCloseCode(code) {
		c.log.Info("Gateway ended the session", zap.Int("closeCode", code), zap.String("reason", closeCodeReason(code)))
		c.clearSession()
	}
	return err
}

func (c *Connection) identifyPayload() gatewayframe.Identify {
	return gatewayframe.Identify{
		Token:   c.params.Token,
		Intents: c.params.Intents,
		Properties: gatewayframe.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: ClientName,
			Device:  ClientName,
		},
		Compress:       false,
		LargeThreshold: c.params.LargeThreshold,
		Shard:          [2]int{c.params.ShardID, c.params.ShardCount},
		Presence:       c.presence,
	}
}

// socketRun is the per-socket half of the state machine.
type socketRun struct {
	c    *Connection
	conn transport.Conn
	log  *zap.Logger

	resuming bool
	session  Session

	interval time.Duration
	lastSeq  int64
	ready    bool
	held     []gatewayframe.DispatchEvent

	heartbeater      *heartbeater
	ackOutstanding   bool
	lastHeartbeat    time.Time
	pendingHeartbeat bool
}

func (s *socketRun) ticks() <-chan time.Time {
	if s.heartbeater == nil {
		return nil
	}
	return s.heartbeater.C
}

func (s *socketRun) write(frame gatewayframe.Frame) error {
	payload, err := gatewayframe.Encode(frame)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(transport.TextMessage, payload)
}

func (s *socketRun) handleEnvelope(ctx context.Context, env *gatewayframe.Envelope) error {
	switch env.Op {
	case gatewayframe.Opcode_Hello:
		return s.onHello(env)
	case gatewayframe.Opcode_Dispatch:
		return s.onDispatch(ctx, env)
	case gatewayframe.Opcode_Heartbeat:
		if !s.ready {
			s.pendingHeartbeat = true
			return nil
		}
		return s.sendHeartbeat()
	case gatewayframe.Opcode_HeartbeatAck:
		s.ackOutstanding = false
		if !s.lastHeartbeat.IsZero() {
			s.c.latency.Store(int64(time.Since(s.lastHeartbeat)))
		}
		return nil
	case gatewayframe.Opcode_Reconnect:
		return &errors.ReconnectRequested{}
	case gatewayframe.Opcode_InvalidSession:
		resumable := gatewayframe.DecodeInvalidSession(env)
		if !resumable {
			s.c.clearSession()
		}
		return &errors.SessionInvalidated{Resumable: resumable}
	}

	if env.Op.Known() {
		s.log.Debug("Ignoring client-only gateway opcode", zap.Stringer("op", env.Op))
	} else {
		s.log.Debug("Ignoring unknown gateway opcode", zap.Int("op", int(env.Op)))
	}
	return nil
}

func (s *socketRun) onHello(env *gatewayframe.Envelope) error {
	if s.interval != 0 {
		s.log.Debug("Ignoring repeated hello")
		return nil
	}

	hello, err := gatewayframe.DecodeHello(env)
	if err != nil {
		return err
	}
	s.interval = time.Duration(hello.HeartbeatInterval) * time.Millisecond

	if s.resuming {
		s.c.setState(State_Resuming)
		s.log.Debug("Resuming session", zap.String("sessionId", s.session.ID), zap.Int64("seq", s.session.Sequence))
		return s.write(gatewayframe.ResumeFrame(gatewayframe.Resume{
			Token:     s.c.params.Token,
			SessionID: s.session.ID,
			Seq:       s.session.Sequence,
		}))
	}

	s.c.setState(State_Identifying)
	s.log.Debug("Identifying")
	return s.write(gatewayframe.IdentifyFrame(s.c.identifyPayload()))
}

func (s *socketRun) onDispatch(ctx context.Context, env *gatewayframe.Envelope) error {
	if env.Seq > 0 {
		if env.Seq <= s.lastSeq {
			s.log.Debug("Dropping replayed dispatch", zap.String("event", env.Type), zap.Int64("seq", env.Seq))
			return nil
		}
		s.lastSeq = env.Seq
	}

	ev := env.DispatchEvent()

	switch env.Type {
	case gatewayframe.EventName_Ready:
		ready, err := gatewayframe.DecodeReady(env)
		if err != nil {
			return err
		}
		s.c.setSession(&Session{
			ID:         ready.SessionID,
			ResumeURL:  ready.ResumeGatewayURL,
			ShardID:    s.c.params.ShardID,
			ShardCount: s.c.params.ShardCount,
			Intents:    s.c.params.Intents,
		})
		s.held = append(s.held, ev)
		return s.becomeReady(ctx, false)
	case gatewayframe.EventName_Resumed:
		s.held = append(s.held, ev)
		return s.becomeReady(ctx, true)
	}

	if !s.ready {
		s.held = append(s.held, ev)
		return nil
	}
	return s.emit(ctx, ev)
}

func (s *socketRun) becomeReady(ctx context.Context, resumed bool) error {
	if s.ready {
		s.log.Debug("Ignoring repeated ready", zap.Bool("resumed", resumed))
		return nil
	}

	if s.interval <= 0 {
		return &errors.MissingFieldError{MessageName: "Hello", FieldName: "heartbeat_interval"}
	}

	s.ready = true
	s.c.setState(State_Ready)
	s.c.backoff.Reset()
	s.heartbeater = startHeartbeater(s.interval, s.c.params.Random)

	held := s.held
	s.held = nil
	for _, ev := range held {
		if err := s.emit(ctx, ev); err != nil {
			return err
		}
	}

	s.c.setState(State_Connected)
	if session, has := s.c.Session(); has {
		s.log.Info("Shard connected",
			zap.Bool("resumed", resumed),
			zap.String("sessionId", session.ID),
			zap.Int64("seq", session.Sequence))
	}

	if s.pendingHeartbeat {
		s.pendingHeartbeat = false
		return s.sendHeartbeat()
	}
	return nil
}

func (s *socketRun) emit(ctx context.Context, ev gatewayframe.DispatchEvent) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	select {
	case s.c.params.Events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.c.advanceSequence(ev.Seq)
	return nil
}

func (s *socketRun) onHeartbeatTick() error {
	if s.ackOutstanding {
		s.c.setState(State_Reconnecting)
		return &errors.ZombieConnection{Interval: s.interval}
	}
	return s.sendHeartbeat()
}

func (s *socketRun) sendHeartbeat() error {
	if err := s.write(gatewayframe.HeartbeatFrame(s.lastSeq)); err != nil {
		return err
	}
	s.ackOutstanding = true
	s.lastHeartbeat = time.Now()
	return nil
}

func (s *socketRun) sendPresence(presence gatewayframe.PresenceUpdate) error {
	if !s.ready {
		return &errors.NotConnected{ShardID: s.c.params.ShardID, State: s.c.State().String()}
	}
	if err := s.write(gatewayframe.PresenceFrame(presence)); err != nil {
		return err
	}
	s.c.presence = &presence
	return nil
}
