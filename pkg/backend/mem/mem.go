// Package mem is an in-process backend connecting netcore clients to a
// netcore server without any I/O. It is meant for tests and for running a
// server and its clients inside one process.
package mem

import (
	"errors"
	"fmt"
	"slices"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/session"
)

var (
	ErrAlreadyConnected = errors.New("mem: client is already connected")
	ErrNotConnected     = errors.New("mem: client is not connected")
)

// ReasonDisconnect is the disconnect reason recorded by Hub.Disconnect.
const ReasonDisconnect = "disconnected"

// Hub routes messages between one server and any number of clients.
type Hub struct {
	server   *netcore.Server
	sessions *session.Manager
	logger   axlog.Logger

	clients map[netcore.PeerID]*netcore.Client
	order   []netcore.PeerID
	nextID  uint64
}

type Option func(*Hub)

func WithLogger(logger axlog.Logger) Option {
	return func(h *Hub) {
		h.logger = axlog.OrNop(logger)
	}
}

func NewHub(server *netcore.Server, sessions *session.Manager, opts ...Option) *Hub {
	h := &Hub{
		server:   server,
		sessions: sessions,
		logger:   axlog.Nop(),
		clients:  make(map[netcore.PeerID]*netcore.Client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect attaches c to the server. The client's channels are set up from
// the server and it ends up Connected with the assigned peer id.
func (h *Hub) Connect(c *netcore.Client) (netcore.PeerID, error) {
	for _, attached := range h.clients {
		if attached == c {
			return "", ErrAlreadyConnected
		}
	}

	h.nextID++
	id := netcore.PeerID(fmt.Sprintf("mem-%d", h.nextID))

	c.SetStatus(netcore.Connecting{})
	if err := h.sessions.Connect(id, string(id)); err != nil {
		c.SetStatus(netcore.Disconnected{})
		return "", err
	}

	c.SetupChannels(h.server.ChannelCount())
	c.SetStatus(netcore.Connected{PeerID: id})

	h.clients[id] = c
	h.order = append(h.order, id)
	return id, nil
}

// Disconnect detaches a client on both sides.
func (h *Hub) Disconnect(id netcore.PeerID) error {
	c, ok := h.clients[id]
	if !ok {
		return ErrNotConnected
	}

	c.SetStatus(netcore.Disconnected{})
	delete(h.clients, id)
	if i := slices.Index(h.order, id); i >= 0 {
		h.order = slices.Delete(h.order, i, i+1)
	}

	if err := h.sessions.Disconnect(id, ReasonDisconnect); err != nil && !errors.Is(err, session.ErrUnknownPeer) {
		return err
	}
	return nil
}

// Stop disconnects every client and stops the server.
func (h *Hub) Stop() {
	for _, id := range slices.Clone(h.order) {
		_ = h.Disconnect(id)
	}
	h.sessions.Stop("server stopped")
}

// Client returns the client attached under id.
func (h *Hub) Client(id netcore.PeerID) (*netcore.Client, bool) {
	c, ok := h.clients[id]
	return c, ok
}

// Exchange delivers everything the server sent to its clients and
// everything the clients sent to the server.
func (h *Hub) Exchange() {
	for _, m := range h.server.DrainSent() {
		c, ok := h.clients[m.Peer]
		if !ok {
			h.logger.Debug("dropping message for detached peer", "peer", m.Peer)
			continue
		}
		c.InsertReceived(m.Channel, m.Payload)
	}

	for _, id := range h.order {
		for _, m := range h.clients[id].DrainSent() {
			h.server.InsertReceived(id, m.Channel, m.Payload)
		}
	}
}
