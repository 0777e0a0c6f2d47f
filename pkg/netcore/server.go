package netcore

import (
	"slices"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/channel"
)

// ServerMessage is an outgoing server message addressed to a peer.
type ServerMessage struct {
	Peer    PeerID
	Channel channel.ID
	Payload []byte
}

// PeerMessage is a received message and the peer it came from.
type PeerMessage struct {
	Peer    PeerID
	Payload []byte
}

// Server stores the state of a server independent from the messaging backend.
// Every registered peer owns its own set of inbound channel queues.
type Server struct {
	logger axlog.Logger

	running  bool
	channels int

	peers map[PeerID]*inbound
	// peers in connection order
	order []PeerID

	sent  outbox[ServerMessage]
	stats Statistics
}

func NewServer(opts ...Option) *Server {
	o := buildOptions(opts)
	return &Server{
		logger: o.logger,
		peers:  make(map[PeerID]*inbound),
	}
}

// SetupChannels sets the number of channels every peer's queues are created
// with. Queues of already registered peers are recreated empty.
func (s *Server) SetupChannels(count int) {
	s.channels = count
	for _, q := range s.peers {
		q.setup(count)
	}
}

// ChannelCount returns the configured number of channels.
func (s *Server) ChannelCount() int {
	return s.channels
}

// IsRunning reports whether the server accepts traffic.
func (s *Server) IsRunning() bool {
	return s.running
}

// SetRunning changes the running flag. Should only be called by the
// messaging backend.
//
// Stopping unregisters every peer and discards every received and every
// unsent message.
func (s *Server) SetRunning(running bool) {
	if running != s.running {
		s.logger.Debug("changing server running state", "running", running)
	}

	if !running {
		n := s.sent.reset()
		for _, q := range s.peers {
			n += q.reset()
		}
		s.stats.DiscardedCount += int64(n)
		if n > 0 {
			s.logger.Debug("discarded server messages", "count", n)
		}
		if len(s.order) > 0 {
			s.logger.Debug("unregistered peers", "count", len(s.order))
		}
		clear(s.peers)
		s.order = nil
	}

	s.running = running
}

// AddPeer registers a connected peer and creates its queues. Should only be
// called by the session layer.
func (s *Server) AddPeer(peer PeerID) {
	if !s.running {
		s.logger.Warn("trying to add a peer when the server is not running", "peer", peer)
		return
	}
	if _, ok := s.peers[peer]; ok {
		s.logger.Warn("peer is already registered", "peer", peer)
		return
	}

	s.peers[peer] = newInbound(s.channels)
	s.order = append(s.order, peer)
	s.logger.Debug("peer added", "peer", peer)
}

// RemovePeer unregisters a peer. Its received messages and any unsent
// messages addressed to it are discarded. Should only be called by the
// session layer.
func (s *Server) RemovePeer(peer PeerID) {
	q, ok := s.peers[peer]
	if !ok {
		return
	}

	n := q.reset()
	n += s.sent.remove(func(m ServerMessage) bool { return m.Peer == peer })
	s.stats.DiscardedCount += int64(n)

	delete(s.peers, peer)
	if i := slices.Index(s.order, peer); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	s.logger.Debug("peer removed", "peer", peer, "discarded", n)
}

// HasPeer reports whether peer is registered.
func (s *Server) HasPeer(peer PeerID) bool {
	_, ok := s.peers[peer]
	return ok
}

// Peers returns the registered peers in connection order.
func (s *Server) Peers() []PeerID {
	return slices.Clone(s.order)
}

// Send queues a message for a peer.
func (s *Server) Send(peer PeerID, id channel.ID, msg []byte) {
	if !s.running {
		s.logger.Warn("trying to send a message when the server is not running", "peer", peer, "channel", id)
		s.stats.RejectedCount++
		return
	}

	channel.MustBeInRange("server send", id, s.channels)

	if _, ok := s.peers[peer]; !ok {
		s.logger.Warn("trying to send a message to an unknown peer", "peer", peer, "channel", id)
		s.stats.RejectedCount++
		return
	}

	s.sent.push(ServerMessage{Peer: peer, Channel: id, Payload: msg})
	s.stats.sent(msg)
}

// Broadcast queues a message for every registered peer.
func (s *Server) Broadcast(id channel.ID, msg []byte) {
	s.BroadcastExcept(id, msg)
}

// BroadcastExcept queues a message for every registered peer not listed in except.
func (s *Server) BroadcastExcept(id channel.ID, msg []byte, except ...PeerID) {
	if !s.running {
		s.logger.Warn("trying to broadcast a message when the server is not running", "channel", id)
		s.stats.RejectedCount++
		return
	}

	channel.MustBeInRange("server broadcast", id, s.channels)

	for _, peer := range s.order {
		if slices.Contains(except, peer) {
			continue
		}
		s.sent.push(ServerMessage{Peer: peer, Channel: id, Payload: msg})
		s.stats.sent(msg)
	}
}

// Receive pops the next available message from a peer on a channel. The
// most recently received message is returned first.
func (s *Server) Receive(peer PeerID, id channel.ID) ([]byte, bool) {
	if !s.running {
		s.logger.Warn("trying to receive a message when the server is not running", "peer", peer, "channel", id)
		return nil, false
	}

	channel.MustBeInRange("server receive", id, s.channels)

	q, ok := s.peers[peer]
	if !ok {
		s.logger.Warn("trying to receive a message from an unknown peer", "peer", peer, "channel", id)
		return nil, false
	}

	return q.pop("server receive", id)
}

// ReceiveAll pops every pending message on a channel from every peer. Peers
// are visited in connection order, each peer's messages most recent first.
func (s *Server) ReceiveAll(id channel.ID) []PeerMessage {
	if !s.running {
		s.logger.Warn("trying to receive messages when the server is not running", "channel", id)
		return nil
	}

	channel.MustBeInRange("server receive", id, s.channels)

	var out []PeerMessage
	for _, peer := range s.order {
		q := s.peers[peer]
		for {
			msg, ok := q.pop("server receive", id)
			if !ok {
				break
			}
			out = append(out, PeerMessage{Peer: peer, Payload: msg})
		}
	}
	return out
}

// InsertReceived adds a message received from a peer. Should only be called
// by the messaging backend.
func (s *Server) InsertReceived(peer PeerID, id channel.ID, msg []byte) {
	if !s.running {
		s.logger.Warn("trying to insert a received message when the server is not running", "peer", peer, "channel", id)
		s.stats.RejectedCount++
		return
	}

	channel.MustBeInRange("server insert received", id, s.channels)

	q, ok := s.peers[peer]
	if !ok {
		s.logger.Warn("trying to insert a received message from an unknown peer", "peer", peer, "channel", id)
		s.stats.RejectedCount++
		return
	}

	q.push("server insert received", id, msg)
	s.stats.received(msg)
}

// DrainSent removes and returns all sent messages of all peers in the order
// they were sent. Should only be called by the messaging backend.
func (s *Server) DrainSent() []ServerMessage {
	return s.sent.drain()
}

// Pending returns the number of received messages not yet consumed across
// all peers and the number of sent messages not yet drained.
func (s *Server) Pending() (received, sent int) {
	for _, q := range s.peers {
		received += q.len()
	}
	return received, s.sent.len()
}

// Statistics returns a snapshot of the server's counters.
func (s *Server) Statistics() Statistics {
	return s.stats
}
