package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QYUbit/axnet/pkg/netcore"
)

func newManager(t *testing.T) (*Manager, *netcore.Server) {
	t.Helper()
	srv := netcore.NewServer()
	srv.SetupChannels(2)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(srv, WithClock(func() time.Time { return clock }))
	m.Start()
	return m, srv
}

func TestConnectDisconnect(t *testing.T) {
	m, srv := newManager(t)

	require.NoError(t, m.Connect("p1", "127.0.0.1:1000"))
	assert.Equal(t, 1, m.Len())
	assert.True(t, srv.HasPeer("p1"))

	p, ok := m.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:1000", p.RemoteAddr)
	assert.Equal(t, 2024, p.ConnectedAt.Year())

	require.NoError(t, m.Disconnect("p1", "bye"))
	assert.Zero(t, m.Len())
	assert.False(t, srv.HasPeer("p1"))

	events := m.DrainEvents()
	require.Len(t, events, 2)
	assert.Equal(t, Event{Kind: PeerConnected, Peer: "p1"}, events[0])
	assert.Equal(t, Event{Kind: PeerDisconnected, Peer: "p1", Reason: "bye"}, events[1])
	assert.Empty(t, m.DrainEvents())
}

func TestConnectErrors(t *testing.T) {
	m, _ := newManager(t)

	require.NoError(t, m.Connect("p1", ""))
	assert.ErrorIs(t, m.Connect("p1", ""), ErrPeerExists)
	assert.ErrorIs(t, m.Disconnect("p2", ""), ErrUnknownPeer)

	stopped := NewManager(netcore.NewServer())
	assert.ErrorIs(t, stopped.Connect("p1", ""), ErrServerNotRunning)
}

func TestDisconnectDiscardsPeerMessages(t *testing.T) {
	m, srv := newManager(t)
	require.NoError(t, m.Connect("p1", ""))
	require.NoError(t, m.Connect("p2", ""))

	srv.Send("p1", 0, []byte("lost"))
	srv.Send("p2", 0, []byte("kept"))

	require.NoError(t, m.Disconnect("p1", "timeout"))

	sent := srv.DrainSent()
	require.Len(t, sent, 1)
	assert.Equal(t, netcore.PeerID("p2"), sent[0].Peer)
}

func TestStop(t *testing.T) {
	m, srv := newManager(t)
	require.NoError(t, m.Connect("p1", ""))
	require.NoError(t, m.Connect("p2", ""))
	srv.Send("p2", 1, []byte("x"))
	m.DrainEvents()

	m.Stop("shutdown")

	assert.False(t, srv.IsRunning())
	assert.Empty(t, srv.Peers())
	assert.Empty(t, srv.DrainSent())

	events := m.DrainEvents()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, PeerDisconnected, e.Kind)
		assert.Equal(t, "shutdown", e.Reason)
	}
}

func TestPeersOrder(t *testing.T) {
	m, _ := newManager(t)
	for _, id := range []netcore.PeerID{"c", "a", "b"} {
		require.NoError(t, m.Connect(id, ""))
	}
	require.NoError(t, m.Disconnect("a", ""))

	var ids []netcore.PeerID
	for _, p := range m.Peers() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []netcore.PeerID{"c", "b"}, ids)
}

func TestNewPeerIDIsUnique(t *testing.T) {
	a, b := NewPeerID(), NewPeerID()
	assert.NotEqual(t, a, b)
	assert.Len(t, string(a), 36)
}
