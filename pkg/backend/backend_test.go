package backend

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QYUbit/axnet/pkg/channel"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/session"
	"github.com/QYUbit/axnet/pkg/tick"
)

func TestInboxLimitsMessagesOnly(t *testing.T) {
	in := NewInbox(2)

	assert.True(t, in.Push(Event{Kind: EventMessage}))
	assert.True(t, in.Push(Event{Kind: EventMessage}))
	assert.False(t, in.Push(Event{Kind: EventMessage}))
	assert.True(t, in.Push(Event{Kind: EventDisconnect, Peer: "p"}))

	events := in.Drain()
	require.Len(t, events, 3)
	assert.Equal(t, EventDisconnect, events[2].Kind)
	assert.Equal(t, int64(1), in.Dropped())

	assert.True(t, in.Push(Event{Kind: EventMessage}))
	assert.Len(t, in.Drain(), 1)
	assert.Empty(t, in.Drain())
}

func TestInboxDeliverReliableOverflow(t *testing.T) {
	set := channel.DefaultSet()
	in := NewInbox(2)

	require.NoError(t, in.Deliver(set, Event{Kind: EventMessage, Channel: channel.Init}))
	require.NoError(t, in.Deliver(set, Event{Kind: EventMessage, Channel: channel.Update}))

	assert.NoError(t, in.Deliver(set, Event{Kind: EventMessage, Channel: channel.Update}))
	assert.ErrorIs(t, in.Deliver(set, Event{Kind: EventMessage, Channel: channel.Init}), ErrInboxOverflow)
	assert.ErrorIs(t, in.Deliver(set, Event{Kind: EventMessage, Channel: 7}), ErrInboxOverflow)

	assert.Equal(t, 2, in.Len())
	assert.Equal(t, int64(3), in.Dropped())
}

func TestInboxConcurrentPush(t *testing.T) {
	in := NewInbox(1000)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				in.Push(Event{Kind: EventMessage})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, in.Drain(), 500)
}

func TestApplyClient(t *testing.T) {
	c := netcore.NewClient()
	c.SetupChannels(2)

	ApplyClient(c, []Event{
		{Kind: EventStatus, Status: netcore.Connecting{}},
		{Kind: EventStatus, Status: netcore.Connected{PeerID: "me"}},
		{Kind: EventMessage, Channel: 1, Payload: []byte("hi")},
		{Kind: EventMessage, Channel: 9, Payload: []byte("bogus")},
	}, nil)

	id, ok := c.ID()
	require.True(t, ok)
	assert.Equal(t, netcore.PeerID("me"), id)

	msg, ok := c.Receive(1)
	require.True(t, ok)
	assert.Equal(t, "hi", string(msg))

	ApplyClient(c, []Event{
		{Kind: EventMessage, Channel: 0, Payload: []byte("late")},
		{Kind: EventStatus, Status: netcore.Disconnected{}},
	}, nil)
	received, _ := c.Pending()
	assert.Zero(t, received)
}

func TestApplyServer(t *testing.T) {
	srv := netcore.NewServer()
	srv.SetupChannels(1)
	sessions := session.NewManager(srv)

	violators := ApplyServer(srv, sessions, []Event{
		{Kind: EventStarted},
		{Kind: EventConnect, Peer: "a", Addr: "1.2.3.4:5"},
		{Kind: EventConnect, Peer: "b"},
		{Kind: EventMessage, Peer: "a", Channel: 0, Payload: []byte("x")},
		{Kind: EventMessage, Peer: "b", Channel: 4, Payload: []byte("bad")},
		{Kind: EventMessage, Peer: "ghost", Channel: 0, Payload: []byte("y")},
		{Kind: EventDisconnect, Peer: "ghost"},
	}, nil)

	assert.Equal(t, []netcore.PeerID{"b"}, violators)
	assert.True(t, srv.IsRunning())
	assert.Equal(t, []netcore.PeerID{"a"}, srv.Peers())

	all := srv.ReceiveAll(0)
	require.Len(t, all, 1)
	assert.Equal(t, netcore.PeerID("a"), all[0].Peer)

	events := sessions.DrainEvents()
	require.Len(t, events, 3)
	assert.Equal(t, session.Event{Kind: session.PeerDisconnected, Peer: "b", Reason: ReasonProtocol}, events[2])

	ApplyServer(srv, sessions, []Event{{Kind: EventStopped, Reason: "bye"}}, nil)
	assert.False(t, srv.IsRunning())
	assert.Zero(t, sessions.Len())
}

func TestWritePumpWritesInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	p := NewWritePump(8, func(o Outgoing) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(o.Payload))
		if len(got) == 3 {
			close(done)
		}
		return nil
	}, nil)
	defer p.Close()

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, p.TryPush(Outgoing{Payload: []byte(s)}))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writes not performed")
	}
	mu.Lock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
	mu.Unlock()
}

func TestWritePumpStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	errs := make(chan error, 1)

	p := NewWritePump(1, func(Outgoing) error { return boom }, func(err error) { errs <- err })
	require.NoError(t, p.TryPush(Outgoing{}))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("error not reported")
	}
	<-p.Done()
	assert.ErrorIs(t, p.TryPush(Outgoing{}), ErrWriterClosed)
	p.Close()
}

func TestWritePumpQueueFull(t *testing.T) {
	block := make(chan struct{})
	p := NewWritePump(1, func(Outgoing) error { <-block; return nil }, nil)

	var full bool
	for i := 0; i < 10 && !full; i++ {
		full = errors.Is(p.TryPush(Outgoing{}), ErrQueueFull)
	}
	assert.True(t, full)

	close(block)
	p.Close()
	assert.ErrorIs(t, p.TryPush(Outgoing{}), ErrWriterClosed)
}

func TestInstall(t *testing.T) {
	l := tick.New(time.Millisecond)
	var order []string
	p := &fakePump{order: &order}

	Install(l, p)
	l.AddSystemFunc(tick.Update, func(tick.Context) { order = append(order, "update") })
	l.Step(0)

	assert.Equal(t, []string{"ingest", "update", "flush"}, order)
}

type fakePump struct{ order *[]string }

func (p *fakePump) Ingest() { *p.order = append(*p.order, "ingest") }
func (p *fakePump) Flush()  { *p.order = append(*p.order, "flush") }
