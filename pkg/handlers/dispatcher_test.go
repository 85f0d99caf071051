package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	gatewayframe "github.com/sessamekesh/shardwire/pkg/message/gateway_frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type callLog struct {
	mut   sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) get() []string {
	l.mut.Lock()
	defer l.mut.Unlock()
	return append([]string(nil), l.calls...)
}

func recorder(l *callLog, name string) HandlerFunc {
	return func(ctx context.Context, hctx *Context, event *Event) error {
		l.add(fmt.Sprintf("%s:%s:%d", name, event.Name, event.Seq))
		return nil
	}
}

func newObservedDispatcher(registry *Registry) (*Dispatcher, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	d := NewDispatcher(DispatcherParams{
		Registry:   registry,
		Rest:       &recordingRest{},
		ShardCount: 4,
		Logger:     zap.New(core),
	})
	return d, logs
}

func TestDispatchInvokesInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	calls := &callLog{}
	r.Register(Category_All, recorder(calls, "all"))
	r.Register(Category_MessageCreate, recorder(calls, "first"))
	r.Register(Category_MessageCreate, recorder(calls, "second"))
	r.Register(Category_GuildCreate, recorder(calls, "guild"))

	d, _ := newObservedDispatcher(r)
	require.NoError(t, d.Dispatch(context.Background(), 1, messageCreate(5, "hi", false)))

	assert.Equal(t, []string{
		"first:MESSAGE_CREATE:5",
		"second:MESSAGE_CREATE:5",
		"all:MESSAGE_CREATE:5",
	}, calls.get())
}

func TestDispatchPreservesEventOrder(t *testing.T) {
	r := NewRegistry()
	var seqs []int64
	r.Register(Category_MessageCreate, HandlerFunc(func(ctx context.Context, hctx *Context, event *Event) error {
		seqs = append(seqs, event.Seq)
		return nil
	}))

	d, _ := newObservedDispatcher(r)
	var want []int64
	for seq := int64(1); seq <= 50; seq++ {
		want = append(want, seq)
		require.NoError(t, d.Dispatch(context.Background(), 0, messageCreate(seq, "x", false)))
	}
	assert.Equal(t, want, seqs)
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	r := NewRegistry()
	calls := &callLog{}
	r.Register(Category_MessageCreate, HandlerFunc(func(ctx context.Context, hctx *Context, event *Event) error {
		calls.add("failing")
		return stderrors.New("boom")
	}))
	r.Register(Category_MessageCreate, HandlerFunc(func(ctx context.Context, hctx *Context, event *Event) error {
		calls.add("panicking")
		panic("kaboom")
	}))
	r.Register(Category_MessageCreate, recorder(calls, "survivor"))

	d, logs := newObservedDispatcher(r)
	require.NoError(t, d.Dispatch(context.Background(), 0, messageCreate(1, "hi", false)))
	require.NoError(t, d.Dispatch(context.Background(), 0, messageCreate(2, "hi", false)))

	assert.Equal(t, []string{
		"failing", "panicking", "survivor:MESSAGE_CREATE:1",
		"failing", "panicking", "survivor:MESSAGE_CREATE:2",
	}, calls.get())

	failures := logs.FilterMessage("Event handler failed").All()
	require.Len(t, failures, 4)
	assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
	assert.Contains(t, failures[0].ContextMap()["error"], "boom")
	assert.Contains(t, failures[1].ContextMap()["error"], "kaboom")
}

func TestDispatchWithoutHandlersIsSilent(t *testing.T) {
	d, logs := newObservedDispatcher(NewRegistry())

	require.NoError(t, d.Dispatch(context.Background(), 0, dispatchEvent("TYPING_START", 3, map[string]any{})))
	require.NoError(t, d.Dispatch(context.Background(), 0, gatewayframe.DispatchEvent{Name: "MESSAGE_CREATE", Seq: 4, Data: []byte(`not json`)}))
	assert.Equal(t, 0, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 0, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestTypedPayloadDecodedOnce(t *testing.T) {
	r := NewRegistry()
	var seen []*ChannelMessage
	for i := 0; i < 2; i++ {
		r.Register(Category_MessageCreate, HandlerFunc(func(ctx context.Context, hctx *Context, event *Event) error {
			msg, ok := event.Payload.(*ChannelMessage)
			require.True(t, ok)
			seen = append(seen, msg)
			assert.Equal(t, 2, hctx.ShardID)
			assert.Equal(t, 4, hctx.ShardCount)
			assert.NotNil(t, hctx.Rest)
			return nil
		}))
	}

	d, _ := newObservedDispatcher(r)
	require.NoError(t, d.Dispatch(context.Background(), 2, messageCreate(1, "typed", false)))

	require.Len(t, seen, 2)
	assert.Same(t, seen[0], seen[1])
	assert.Equal(t, "typed", seen[0].Content)
	assert.Equal(t, "u1", seen[0].Author.ID)
}

func TestUndecodablePayloadDropped(t *testing.T) {
	r := NewRegistry()
	calls := &callLog{}
	r.Register(Category_MessageDelete, recorder(calls, "delete"))

	d, logs := newObservedDispatcher(r)
	require.NoError(t, d.Dispatch(context.Background(), 0, gatewayframe.DispatchEvent{Name: "MESSAGE_DELETE", Seq: 1, Data: []byte(`{"id":`)}))

	assert.Empty(t, calls.get())
	assert.Equal(t, 1, logs.FilterMessage("Dropping dispatch with undecodable payload").Len())
}

type deleteRecorder struct {
	got []*MessageDelete
}

func (h *deleteRecorder) OnMessageDelete(ctx context.Context, hctx *Context, deleted *MessageDelete) error {
	h.got = append(h.got, deleted)
	return nil
}

func TestTypedCapabilityReceivesPayload(t *testing.T) {
	r := NewRegistry()
	h := &deleteRecorder{}
	_, err := r.AddMessageHandler(h)
	require.NoError(t, err)

	d, _ := newObservedDispatcher(r)
	require.NoError(t, d.Dispatch(context.Background(), 0, dispatchEvent("MESSAGE_DELETE", 9, map[string]any{"id": "m9", "channel_id": "c1"})))

	require.Len(t, h.got, 1)
	assert.Equal(t, "m9", h.got[0].ID)
	assert.Equal(t, "c1", h.got[0].ChannelID)
}

func TestUnregisterDuringDispatchSeesConsistentSnapshot(t *testing.T) {
	r := NewRegistry()
	calls := &callLog{}
	victim := &namedHandler{name: "victim"}

	var victimReg Registration
	r.Register(Category_MessageCreate, HandlerFunc(func(ctx context.Context, hctx *Context, event *Event) error {
		calls.add(fmt.Sprintf("mutator:%d", event.Seq))
		if event.Seq == 1 {
			victimReg.Remove()
			r.Register(Category_MessageCreate, recorder(calls, "late"))
		}
		return nil
	}))
	victimReg = r.Register(Category_MessageCreate, HandlerFunc(func(ctx context.Context, hctx *Context, event *Event) error {
		calls.add(fmt.Sprintf("%s:%d", victim.name, event.Seq))
		return nil
	}))

	d, _ := newObservedDispatcher(r)
	require.NoError(t, d.Dispatch(context.Background(), 0, messageCreate(1, "x", false)))
	require.NoError(t, d.Dispatch(context.Background(), 0, messageCreate(2, "x", false)))

	assert.Equal(t, []string{
		"mutator:1", "victim:1",
		"mutator:2", "late:MESSAGE_CREATE:2",
	}, calls.get())
}

func TestConcurrentRegistrationAndDispatch(t *testing.T) {
	r := NewRegistry()
	d, _ := newObservedDispatcher(r)

	wg := sync.WaitGroup{}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				reg := r.Register(Category_MessageCreate, HandlerFunc(func(ctx context.Context, hctx *Context, event *Event) error { return nil }))
				reg.Remove()
			}
		}()
	}
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func(shardID int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				assert.NoError(t, d.Dispatch(context.Background(), shardID, messageCreate(int64(i+1), "x", false)))
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len(Category_MessageCreate))
}

func TestCloseWaitsForInFlightAndRejectsNew(t *testing.T) {
	r := NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	r.Register(Category_MessageCreate, HandlerFunc(func(ctx context.Context, hctx *Context, event *Event) error {
		close(started)
		<-release
		close(finished)
		return nil
	}))

	d, _ := newObservedDispatcher(r)
	go d.Dispatch(context.Background(), 0, messageCreate(1, "x", false))
	<-started

	closed := make(chan error, 1)
	go func() {
		closed <- d.Close(context.Background())
	}()

	require.Eventually(t, func() bool {
		var closedErr *DispatcherClosed
		return stderrors.As(d.Dispatch(context.Background(), 0, dispatchEvent("TYPING_START", 2, nil)), &closedErr)
	}, time.Second, time.Millisecond)

	select {
	case <-closed:
		t.Fatal("Close returned while a handler was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close never returned")
	}
	<-finished
}

func TestCloseHonorsContext(t *testing.T) {
	r := NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	r.Register(Category_MessageCreate, HandlerFunc(func(ctx context.Context, hctx *Context, event *Event) error {
		close(started)
		<-release
		return nil
	}))

	d, _ := newObservedDispatcher(r)
	go d.Dispatch(context.Background(), 0, messageCreate(1, "x", false))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}
