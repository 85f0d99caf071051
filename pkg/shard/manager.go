package shard

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sessamekesh/shardwire/internal"
	"github.com/sessamekesh/shardwire/pkg/errors"
	"github.com/sessamekesh/shardwire/pkg/gateway"
	gatewayframe "github.com/sessamekesh/shardwire/pkg/message/gateway_frame"
	"github.com/sessamekesh/shardwire/pkg/transport"
	utils "github.com/sessamekesh/shardwire/pkg/util"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher receives every dispatch event from every shard. Calls for one shard
// are sequential and in receive order; calls for different shards may overlap.
type Dispatcher interface {
	Dispatch(ctx context.Context, shardID int, event gatewayframe.DispatchEvent) error
}

type ManagerParams struct {
	Token          string
	Intents        gatewayframe.Intents
	GatewayURL     string
	Compress       bool
	LargeThreshold int
	Presence       *gatewayframe.PresenceUpdate

	IdentifyInterval     time.Duration
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	DispatchBuffer       int
	ShutdownGrace        time.Duration

	Dialer     transport.Dialer
	Dispatcher Dispatcher
	Random     *utils.RandomSource
	Logger     *zap.Logger
}

// ShardFailure is reported once per terminal condition of a shard. Restarting is
// false only when the shard will not be run again.
type ShardFailure struct {
	ShardID    int
	Err        error
	Restarting bool
}

type Manager struct {
	params ManagerParams
	log    *zap.Logger
	gate   *IdentifyGate
	store  *internal.ShardStore

	failures chan ShardFailure
	started  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}

	mut_connections sync.RWMutex
	connections     map[int]*gateway.Connection

	mut_presence sync.RWMutex
	presence     *gatewayframe.PresenceUpdate
}

func NewManager(params ManagerParams) *Manager {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.BackoffBase <= 0 {
		params.BackoffBase = time.Second
	}
	if params.BackoffMax <= 0 {
		params.BackoffMax = 30 * time.Second
	}
	if params.DispatchBuffer <= 0 {
		params.DispatchBuffer = 64
	}
	if params.ShutdownGrace <= 0 {
		params.ShutdownGrace = 10 * time.Second
	}
	if params.Random == nil {
		params.Random = utils.CreateRandomSource(time.Now().UnixNano())
	}

	return &Manager{
		params:      params,
		log:         logger.With(zap.String("component", "ShardManager")),
		gate:        NewIdentifyGate(params.IdentifyInterval, logger),
		store:       internal.CreateShardStore(),
		failures:    make(chan ShardFailure, 64),
		done:        make(chan struct{}),
		connections: make(map[int]*gateway.Connection),
		presence:    params.Presence,
	}
}

// Start launches one supervised connection per shard index and returns without
// waiting for any of them to connect.
func (m *Manager) Start(ctx context.Context, shardCount int) error {
	if shardCount <= 0 {
		return fmt.Errorf("shard count must be positive, got %d", shardCount)
	}
	if m.params.Dialer == nil || m.params.Dispatcher == nil {
		return fmt.Errorf("shard manager needs both a Dialer and a Dispatcher")
	}
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("shard manager already started")
	}

	now := time.Now().UnixMilli()
	for i := 0; i < shardCount; i++ {
		if err := m.store.CreateShard(i, shardCount, now); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	group := errgroup.Group{}
	for i := 0; i < shardCount; i++ {
		shardID := i
		group.Go(func() error {
			m.superviseShard(runCtx, shardID, shardCount)
			return nil
		})
	}

	go func() {
		group.Wait()
		close(m.done)
	}()

	m.log.Info("Shard manager started", zap.Int("shardCount", shardCount), zap.Duration("identifyInterval", m.params.IdentifyInterval))
	return nil
}

// Shutdown closes every shard and waits up to ShutdownGrace for them to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.started.Load() {
		return nil
	}
	m.cancel()

	timer := time.NewTimer(m.params.ShutdownGrace)
	defer timer.Stop()

	select {
	case <-m.done:
		m.log.Info("All shards stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("shards did not stop within %s", m.params.ShutdownGrace)
	}
}

// Done is closed once every shard has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) Failures() <-chan ShardFailure {
	return m.failures
}

func (m *Manager) Status() []internal.ShardDescriptor {
	descriptors := m.store.List()
	for i := range descriptors {
		conn := m.connection(descriptors[i].ShardID)
		if conn == nil {
			continue
		}
		descriptors[i].State = conn.State().String()
		if session, has := conn.Session(); has {
			descriptors[i].SessionID = session.ID
			descriptors[i].LastSequence = session.Sequence
		}
	}
	return descriptors
}

// UpdatePresence sends presence to every connected shard and keeps it for shards
// that identify later.
func (m *Manager) UpdatePresence(ctx context.Context, presence gatewayframe.PresenceUpdate) error {
	m.mut_presence.Lock()
	m.presence = &presence
	m.mut_presence.Unlock()

	m.mut_connections.RLock()
	targets := make(map[int]*gateway.Connection, len(m.connections))
	for id, conn := range m.connections {
		if conn.State() == gateway.State_Connected {
			targets[id] = conn
		}
	}
	m.mut_connections.RUnlock()

	mut := sync.Mutex{}
	var combined error
	group := errgroup.Group{}
	for id, conn := range targets {
		group.Go(func() error {
			if err := conn.UpdatePresence(ctx, presence); err != nil {
				mut.Lock()
				combined = multierr.Append(combined, fmt.Errorf("shard %d: %w", id, err))
				mut.Unlock()
			}
			return nil
		})
	}
	group.Wait()

	return combined
}

func (m *Manager) connection(shardID int) *gateway.Connection {
	m.mut_connections.RLock()
	defer m.mut_connections.RUnlock()
	return m.connections[shardID]
}

func (m *Manager) setConnection(shardID int, conn *gateway.Connection) {
	m.mut_connections.Lock()
	defer m.mut_connections.Unlock()
	if conn == nil {
		delete(m.connections, shardID)
		return
	}
	m.connections[shardID] = conn
}

func (m *Manager) report(f ShardFailure) {
	select {
	case m.failures <- f:
	default:
		m.log.Warn("Shard failure channel full, dropping report", zap.Int("shard", f.ShardID), zap.Error(f.Err))
	}
}

func (m *Manager) superviseShard(ctx context.Context, shardID, shardCount int) {
	log := m.log.With(zap.Int("shard", shardID))
	restarts := 0

	for {
		err := m.runShard(ctx, shardID, shardCount)
		if ctx.Err() != nil {
			return
		}

		var authErr *errors.AuthError
		if stderrors.As(err, &authErr) {
			log.Error("Shard stopped permanently", zap.Error(err))
			m.store.MarkTerminal(shardID, err)
			m.report(ShardFailure{ShardID: shardID, Err: err, Restarting: false})
			return
		}

		restarts++
		delay := m.restartDelay(restarts)
		log.Error("Shard failed, restarting with a fresh identify",
			zap.Error(err),
			zap.Int("restarts", restarts),
			zap.Duration("backoff", delay))
		m.store.RecordRestart(shardID, err, time.Now().UnixMilli())
		m.report(ShardFailure{ShardID: shardID, Err: err, Restarting: true})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) restartDelay(restarts int) time.Duration {
	d := m.params.BackoffMax
	if restarts < 32 {
		if scaled := m.params.BackoffBase << (restarts - 1); scaled > 0 && scaled < d {
			d = scaled
		}
	}
	return m.params.Random.Between(d/2, d)
}

// runShard runs one Connection to completion along with the worker feeding its
// events to the Dispatcher.
func (m *Manager) runShard(ctx context.Context, shardID, shardCount int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errors.ShardCrashed{ShardID: shardID, Panic: r}
		}
	}()

	m.mut_presence.RLock()
	presence := m.presence
	m.mut_presence.RUnlock()

	events := make(chan gatewayframe.DispatchEvent, m.params.DispatchBuffer)
	conn := gateway.NewConnection(gateway.ConnectionParams{
		ShardID:              shardID,
		ShardCount:           shardCount,
		Token:                m.params.Token,
		Intents:              m.params.Intents,
		GatewayURL:           m.params.GatewayURL,
		Compress:             m.params.Compress,
		LargeThreshold:       m.params.LargeThreshold,
		Presence:             presence,
		Dialer:               m.params.Dialer,
		IdentifyGate:         m.gate,
		Events:               events,
		MaxReconnectAttempts: m.params.MaxReconnectAttempts,
		BackoffBase:          m.params.BackoffBase,
		BackoffMax:           m.params.BackoffMax,
		Random:               m.params.Random,
		Logger:               m.params.Logger,
	})

	m.setConnection(shardID, conn)
	defer m.setConnection(shardID, nil)

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.dispatchLoop(ctx, shardID, events)
	}()
	defer func() {
		close(events)
		wg.Wait()
	}()

	return conn.Run(ctx)
}

// dispatchLoop stops handing events out once shutdown begins. Handlers already
// running get a context that outlives the shutdown signal.
func (m *Manager) dispatchLoop(ctx context.Context, shardID int, events <-chan gatewayframe.DispatchEvent) {
	handlerCtx := context.WithoutCancel(ctx)

	for ev := range events {
		if ctx.Err() != nil {
			continue
		}
		if err := m.params.Dispatcher.Dispatch(handlerCtx, shardID, ev); err != nil {
			m.log.Debug("Dispatch rejected", zap.Int("shard", shardID), zap.String("event", ev.Name), zap.Error(err))
		}
		m.store.Update(shardID, func(d *internal.ShardDescriptor) {
			if ev.Seq > d.LastSequence {
				d.LastSequence = ev.Seq
			}
		})
	}
}
