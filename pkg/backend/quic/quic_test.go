package quic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QYUbit/axnet/pkg/channel"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/session"
)

const waitFor = 5 * time.Second

func startServer(t *testing.T, opts Options) (*Server, *netcore.Server) {
	t.Helper()
	if testing.Short() {
		t.Skip("opens a UDP socket")
	}

	tlsConf, err := GenerateTLSConfig()
	require.NoError(t, err)

	core := netcore.NewServer()
	opts.Addr = "127.0.0.1:0"
	opts.TLSConfig = tlsConf
	srv := NewServer(core, session.NewManager(core), opts)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Close() })

	srv.Ingest()
	require.True(t, core.IsRunning())
	return srv, core
}

func dialClient(t *testing.T, srv *Server) (*Client, *netcore.Client) {
	t.Helper()
	core := netcore.NewClient()
	c := NewClient(core, Options{Addr: srv.Addr().String()})
	t.Cleanup(func() { _ = c.Disconnect() })

	require.NoError(t, c.Connect(context.Background()))
	c.Ingest()
	require.True(t, core.IsConnected())
	return c, core
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 2, o.Channels.Count())
	assert.Equal(t, DefaultSendQueueSize, o.SendQueueSize)
	assert.Equal(t, DefaultHandshakeTimeout, o.HandshakeTimeout)
	assert.True(t, o.QUICConfig.EnableDatagrams)
	assert.NotNil(t, o.Logger)
}

func TestStartWithoutTLS(t *testing.T) {
	core := netcore.NewServer()
	srv := NewServer(core, session.NewManager(core), Options{Addr: "127.0.0.1:0"})
	assert.ErrorIs(t, srv.Start(context.Background()), ErrNoTLSConfig)
}

func TestRoundTrip(t *testing.T) {
	srv, serverCore := startServer(t, Options{})
	c, clientCore := dialClient(t, srv)

	require.Eventually(t, func() bool {
		srv.Ingest()
		return len(serverCore.Peers()) == 1
	}, waitFor, 10*time.Millisecond)

	id, ok := clientCore.ID()
	require.True(t, ok)
	assert.Equal(t, []netcore.PeerID{id}, serverCore.Peers())

	clientCore.Send(channel.Init, []byte("hello"))
	c.Flush()

	var got []byte
	require.Eventually(t, func() bool {
		srv.Ingest()
		got, ok = serverCore.Receive(id, channel.Init)
		return ok
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "hello", string(got))

	serverCore.Send(id, channel.Init, []byte("welcome"))
	srv.Flush()

	require.Eventually(t, func() bool {
		c.Ingest()
		got, ok = clientCore.Receive(channel.Init)
		return ok
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "welcome", string(got))
}

func TestClientDisconnectRemovesPeer(t *testing.T) {
	srv, serverCore := startServer(t, Options{})
	c, clientCore := dialClient(t, srv)

	require.Eventually(t, func() bool {
		srv.Ingest()
		return len(serverCore.Peers()) == 1
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, c.Disconnect())
	assert.ErrorIs(t, c.Disconnect(), ErrNotConnected)
	c.Ingest()
	assert.True(t, clientCore.IsDisconnected())

	require.Eventually(t, func() bool {
		srv.Ingest()
		return len(serverCore.Peers()) == 0
	}, waitFor, 10*time.Millisecond)
}

func TestKickAndClose(t *testing.T) {
	srv, serverCore := startServer(t, Options{})
	c, clientCore := dialClient(t, srv)

	require.Eventually(t, func() bool {
		srv.Ingest()
		return len(serverCore.Peers()) == 1
	}, waitFor, 10*time.Millisecond)

	id, _ := clientCore.ID()
	require.NoError(t, srv.Kick(id, "bye"))
	assert.ErrorIs(t, srv.Kick(id, "again"), ErrPeerNotFound{Peer: string(id)})

	srv.Ingest()
	assert.Empty(t, serverCore.Peers())

	require.Eventually(t, func() bool {
		c.Ingest()
		return clientCore.IsDisconnected()
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, srv.Close())
	srv.Ingest()
	assert.False(t, serverCore.IsRunning())
	assert.ErrorIs(t, srv.Kick(id, "closed"), ErrServerClosed)
}

func TestConnectFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("opens a UDP socket")
	}
	core := netcore.NewClient()
	c := NewClient(core, Options{Addr: "127.0.0.1:1", HandshakeTimeout: 200 * time.Millisecond})

	assert.Error(t, c.Connect(context.Background()))
	c.Ingest()
	assert.True(t, core.IsDisconnected())
}

func waitPeers(t *testing.T, srv *Server, core *netcore.Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		srv.Ingest()
		return len(core.Peers()) == n
	}, waitFor, 10*time.Millisecond)
}

func TestCustomPeerIDs(t *testing.T) {
	srv, serverCore := startServer(t, Options{PeerID: func() netcore.PeerID { return "player-1" }})
	_, clientCore := dialClient(t, srv)
	waitPeers(t, srv, serverCore, 1)

	id, ok := clientCore.ID()
	require.True(t, ok)
	assert.Equal(t, netcore.PeerID("player-1"), id)
	assert.True(t, serverCore.HasPeer("player-1"))
}

func TestReconnectDiscardsPreviousSession(t *testing.T) {
	srv, serverCore := startServer(t, Options{})
	c, clientCore := dialClient(t, srv)
	waitPeers(t, srv, serverCore, 1)
	first, _ := clientCore.ID()

	serverCore.Send(first, channel.Init, []byte("first session"))
	srv.Flush()
	require.Eventually(t, func() bool { return c.inbox.Len() > 0 }, waitFor, 10*time.Millisecond)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Connect(context.Background()))
	c.Ingest()

	require.True(t, clientCore.IsConnected())
	second, _ := clientCore.ID()
	assert.NotEqual(t, first, second)
	_, ok := clientCore.Receive(channel.Init)
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		srv.Ingest()
		peers := serverCore.Peers()
		return len(peers) == 1 && peers[0] == second
	}, waitFor, 10*time.Millisecond)

	serverCore.Send(second, channel.Init, []byte("second session"))
	srv.Flush()

	var got []byte
	require.Eventually(t, func() bool {
		c.Ingest()
		got, ok = clientCore.Receive(channel.Init)
		return ok
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "second session", string(got))
	_, ok = clientCore.Receive(channel.Init)
	assert.False(t, ok)
}

func TestServerInboxOverflowClosesReliableSender(t *testing.T) {
	srv, serverCore := startServer(t, Options{InboxLimit: 1})
	c, clientCore := dialClient(t, srv)
	waitPeers(t, srv, serverCore, 1)

	for i := 0; i < 3; i++ {
		clientCore.Send(channel.Init, []byte("reliable"))
	}
	c.Flush()

	require.Eventually(t, func() bool { return srv.inbox.Dropped() > 0 }, waitFor, 10*time.Millisecond)
	waitPeers(t, srv, serverCore, 0)

	require.Eventually(t, func() bool {
		c.Ingest()
		return clientCore.IsDisconnected()
	}, waitFor, 10*time.Millisecond)
}
