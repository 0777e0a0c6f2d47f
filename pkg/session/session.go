// Package session tracks the peers connected to a server. It owns the
// registration of peer queue sets on the netcore server and reports connects
// and disconnects as events the application drains once per tick.
package session

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/netcore"
)

var (
	ErrServerNotRunning = errors.New("server is not running")
	ErrPeerExists       = errors.New("peer is already connected")
	ErrUnknownPeer      = errors.New("peer is not connected")
)

// NewPeerID returns a random peer id.
func NewPeerID() netcore.PeerID {
	return netcore.PeerID(uuid.NewString())
}

type EventKind int

const (
	PeerConnected EventKind = iota
	PeerDisconnected
)

func (k EventKind) String() string {
	switch k {
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event reports a change in the set of connected peers.
type Event struct {
	Kind   EventKind
	Peer   netcore.PeerID
	Reason string
}

// Peer describes a connected peer.
type Peer struct {
	ID          netcore.PeerID
	RemoteAddr  string
	ConnectedAt time.Time
}

// Manager is the session layer of a server. Like the netcore server it is
// owned by the tick loop and not safe for concurrent use.
type Manager struct {
	server netcore.ServerBackend
	logger axlog.Logger
	now    func() time.Time

	peers  map[netcore.PeerID]*Peer
	order  []netcore.PeerID
	events []Event
}

type Option func(*Manager)

func WithLogger(logger axlog.Logger) Option {
	return func(m *Manager) {
		m.logger = axlog.OrNop(logger)
	}
}

// WithClock replaces time.Now for connection timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(server netcore.ServerBackend, opts ...Option) *Manager {
	m := &Manager{
		server: server,
		logger: axlog.Nop(),
		now:    time.Now,
		peers:  make(map[netcore.PeerID]*Peer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect registers a peer with the server and records a PeerConnected event.
func (m *Manager) Connect(id netcore.PeerID, remoteAddr string) error {
	if !m.server.IsRunning() {
		return ErrServerNotRunning
	}
	if _, ok := m.peers[id]; ok {
		return ErrPeerExists
	}

	m.server.AddPeer(id)
	m.peers[id] = &Peer{ID: id, RemoteAddr: remoteAddr, ConnectedAt: m.now()}
	m.order = append(m.order, id)
	m.events = append(m.events, Event{Kind: PeerConnected, Peer: id})

	m.logger.Info("peer connected", "peer", id, "addr", remoteAddr)
	return nil
}

// Disconnect unregisters a peer, discarding its queued messages, and records
// a PeerDisconnected event.
func (m *Manager) Disconnect(id netcore.PeerID, reason string) error {
	if _, ok := m.peers[id]; !ok {
		return ErrUnknownPeer
	}

	m.server.RemovePeer(id)
	delete(m.peers, id)
	if i := slices.Index(m.order, id); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
	m.events = append(m.events, Event{Kind: PeerDisconnected, Peer: id, Reason: reason})

	m.logger.Info("peer disconnected", "peer", id, "reason", reason)
	return nil
}

// Start marks the server as running.
func (m *Manager) Start() {
	m.server.SetRunning(true)
}

// Stop disconnects every peer and stops the server.
func (m *Manager) Stop(reason string) {
	for _, id := range slices.Clone(m.order) {
		_ = m.Disconnect(id, reason)
	}
	m.server.SetRunning(false)
}

// Get returns a connected peer.
func (m *Manager) Get(id netcore.PeerID) (Peer, bool) {
	p, ok := m.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Peers returns the connected peers in connection order.
func (m *Manager) Peers() []Peer {
	out := make([]Peer, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.peers[id])
	}
	return out
}

func (m *Manager) Len() int {
	return len(m.order)
}

// DrainEvents returns the events recorded since the last call.
func (m *Manager) DrainEvents() []Event {
	out := m.events
	m.events = nil
	return out
}
