package netcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QYUbit/axnet/pkg/channel"
)

func runningServer(channels int, peers ...PeerID) *Server {
	s := NewServer()
	s.SetupChannels(channels)
	s.SetRunning(true)
	for _, p := range peers {
		s.AddPeer(p)
	}
	return s
}

func TestServerCleanupOnStop(t *testing.T) {
	s := runningServer(1, "p1")

	s.Send("p1", channel.Init, []byte("out"))
	s.InsertReceived("p1", channel.Init, []byte("in"))

	s.SetRunning(false)

	assert.Empty(t, s.DrainSent())
	assert.Empty(t, s.ReceiveAll(channel.Init))

	assert.False(t, s.HasPeer("p1"))
	assert.Empty(t, s.Peers())

	s.SetRunning(true)
	_, ok := s.Receive("p1", channel.Init)
	assert.False(t, ok)

	s.Send("p1", channel.Init, []byte("stale"))
	assert.Empty(t, s.DrainSent())
	assert.False(t, s.HasPeer("p1"))

	s.AddPeer("p1")
	assert.Equal(t, []PeerID{"p1"}, s.Peers())
}

func TestServerChannelCheckedBeforePeer(t *testing.T) {
	s := runningServer(1, "p1")

	assert.Panics(t, func() { s.Send("ghost", 1, []byte("x")) })
	assert.Panics(t, func() { s.Receive("ghost", 1) })
	assert.Panics(t, func() { s.InsertReceived("ghost", 1, []byte("x")) })

	assert.NotPanics(t, func() { s.Send("ghost", 0, []byte("x")) })
	assert.NotPanics(t, func() { s.Receive("ghost", 0) })
	assert.NotPanics(t, func() { s.InsertReceived("ghost", 0, []byte("x")) })
}

func TestServerInactiveIsNoop(t *testing.T) {
	s := NewServer()
	s.SetupChannels(1)

	s.AddPeer("p1")
	s.Send("p1", channel.Init, []byte("out"))
	s.InsertReceived("p1", channel.Init, []byte("in"))

	assert.False(t, s.HasPeer("p1"))
	assert.Empty(t, s.DrainSent())
	assert.Empty(t, s.ReceiveAll(channel.Init))
}

func TestServerUnknownPeerIsNoop(t *testing.T) {
	s := runningServer(1)

	s.Send("peer-7", 0, []byte("payload"))
	s.InsertReceived("peer-7", 0, []byte("payload"))
	_, ok := s.Receive("peer-7", 0)

	assert.False(t, ok)
	assert.Empty(t, s.DrainSent())
	assert.Equal(t, int64(2), s.Statistics().RejectedCount)
}

func TestServerReceiveIsLIFOPerPeer(t *testing.T) {
	s := runningServer(2, "a", "b")

	s.InsertReceived("a", 1, []byte("a1"))
	s.InsertReceived("a", 1, []byte("a2"))
	s.InsertReceived("b", 1, []byte("b1"))

	msg, ok := s.Receive("a", 1)
	require.True(t, ok)
	assert.Equal(t, "a2", string(msg))

	_, ok = s.Receive("b", 0)
	assert.False(t, ok)

	all := s.ReceiveAll(1)
	require.Len(t, all, 2)
	assert.Equal(t, PeerMessage{Peer: "a", Payload: []byte("a1")}, all[0])
	assert.Equal(t, PeerMessage{Peer: "b", Payload: []byte("b1")}, all[1])
	assert.Empty(t, s.ReceiveAll(1))
}

func TestServerDrainSentOrder(t *testing.T) {
	s := runningServer(2, "a", "b")

	s.Send("a", 0, []byte("1"))
	s.Send("b", 1, []byte("2"))
	s.Send("a", 1, []byte("3"))

	sent := s.DrainSent()
	require.Len(t, sent, 3)
	assert.Equal(t, ServerMessage{Peer: "a", Channel: 0, Payload: []byte("1")}, sent[0])
	assert.Equal(t, ServerMessage{Peer: "b", Channel: 1, Payload: []byte("2")}, sent[1])
	assert.Equal(t, ServerMessage{Peer: "a", Channel: 1, Payload: []byte("3")}, sent[2])
	assert.Empty(t, s.DrainSent())
}

func TestServerBroadcast(t *testing.T) {
	s := runningServer(1, "a", "b", "c")

	s.Broadcast(0, []byte("all"))
	s.BroadcastExcept(0, []byte("most"), "b")

	sent := s.DrainSent()
	require.Len(t, sent, 5)
	var peers []PeerID
	for _, m := range sent {
		peers = append(peers, m.Peer)
	}
	assert.Equal(t, []PeerID{"a", "b", "c", "a", "c"}, peers)
}

func TestServerRemovePeerDiscardsItsMessages(t *testing.T) {
	s := runningServer(1, "a", "b")

	s.Send("a", 0, []byte("to a"))
	s.Send("b", 0, []byte("to b"))
	s.InsertReceived("a", 0, []byte("from a"))

	s.RemovePeer("a")

	assert.False(t, s.HasPeer("a"))
	assert.Equal(t, []PeerID{"b"}, s.Peers())
	sent := s.DrainSent()
	require.Len(t, sent, 1)
	assert.Equal(t, PeerID("b"), sent[0].Peer)
	assert.Equal(t, int64(2), s.Statistics().DiscardedCount)

	// Reconnecting under the same id starts from empty queues.
	s.AddPeer("a")
	_, ok := s.Receive("a", 0)
	assert.False(t, ok)
}

func TestServerAddPeerTwice(t *testing.T) {
	s := runningServer(1, "a")
	s.InsertReceived("a", 0, []byte("x"))

	s.AddPeer("a")

	assert.Equal(t, []PeerID{"a"}, s.Peers())
	_, ok := s.Receive("a", 0)
	assert.True(t, ok)
}

func TestServerChannelRange(t *testing.T) {
	s := runningServer(3, "a")

	assert.NotPanics(t, func() { s.Send("a", 2, nil) })
	assert.Panics(t, func() { s.Send("a", 3, nil) })
	assert.Panics(t, func() { s.Broadcast(3, nil) })
	assert.Panics(t, func() { s.InsertReceived("a", 3, nil) })
	assert.Panics(t, func() { s.Receive("a", 3) })
	assert.Panics(t, func() { s.ReceiveAll(3) })
}

func TestServerSetupChannelsAppliesToPeers(t *testing.T) {
	s := runningServer(1, "a")
	s.InsertReceived("a", 0, []byte("stale"))

	s.SetupChannels(2)
	s.AddPeer("b")

	assert.Equal(t, 2, s.ChannelCount())
	_, ok := s.Receive("a", 0)
	assert.False(t, ok)
	assert.NotPanics(t, func() { s.InsertReceived("a", 1, nil) })
	assert.NotPanics(t, func() { s.InsertReceived("b", 1, nil) })
}

func TestServerPendingAndPeersCopy(t *testing.T) {
	s := runningServer(1, "a", "b")
	s.InsertReceived("a", 0, []byte("x"))
	s.InsertReceived("b", 0, []byte("y"))
	s.Send("a", 0, []byte("z"))

	received, sent := s.Pending()
	assert.Equal(t, 2, received)
	assert.Equal(t, 1, sent)

	peers := s.Peers()
	peers[0] = "mutated"
	assert.True(t, s.HasPeer("a"))
}
