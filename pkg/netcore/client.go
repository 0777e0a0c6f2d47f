package netcore

import (
	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/channel"
)

// ClientMessage is an outgoing client message and its channel.
type ClientMessage struct {
	Channel channel.ID
	Payload []byte
}

// Client stores the state of a client independent from the messaging backend.
type Client struct {
	logger axlog.Logger

	status ClientStatus

	// received messages per channel since the last tick
	received *inbound

	sent  outbox[ClientMessage]
	stats Statistics
}

func NewClient(opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		logger:   o.logger,
		status:   Disconnected{},
		received: newInbound(0),
	}
}

// SetupChannels resizes the receive storage to the number of channels the
// server declared. Existing queues are recreated empty.
func (c *Client) SetupChannels(count int) {
	c.received.setup(count)
}

// ChannelCount returns the configured number of channels.
func (c *Client) ChannelCount() int {
	return c.received.count()
}

// Status returns the current connection status.
func (c *Client) Status() ClientStatus {
	return c.status
}

func (c *Client) IsDisconnected() bool {
	_, ok := c.status.(Disconnected)
	return ok
}

func (c *Client) IsConnecting() bool {
	_, ok := c.status.(Connecting)
	return ok
}

func (c *Client) IsConnected() bool {
	return isConnected(c.status)
}

// ID returns the peer id the server assigned, if the client is connected
// and the backend has learned it.
func (c *Client) ID() (PeerID, bool) {
	if s, ok := c.status.(Connected); ok && s.PeerID != "" {
		return s.PeerID, true
	}
	return "", false
}

// SetStatus changes the connection status. Should only be called by the
// messaging backend.
//
// Leaving Connected discards every received and every unsent message. A
// peer id, once assigned, is not replaced while the client stays connected.
func (c *Client) SetStatus(status ClientStatus) {
	if status == nil {
		status = Disconnected{}
	}

	if next, ok := status.(Connected); ok {
		if cur, ok := c.status.(Connected); ok && cur.PeerID != "" && next.PeerID != cur.PeerID {
			c.logger.Warn("ignoring peer id change of a connected client",
				"current", cur.PeerID, "requested", next.PeerID)
			return
		}
	}

	c.logger.Debug("changing client status", "from", c.status.String(), "to", status.String())

	if c.IsConnected() && !isConnected(status) {
		n := c.received.reset() + c.sent.reset()
		c.stats.DiscardedCount += int64(n)
		if n > 0 {
			c.logger.Debug("discarded client messages", "count", n)
		}
	}

	c.status = status
}

// Send queues a message for the server.
func (c *Client) Send(id channel.ID, msg []byte) {
	if !c.IsConnected() {
		c.logger.Warn("trying to send a message when the client is not connected", "channel", id)
		c.stats.RejectedCount++
		return
	}

	channel.MustBeInRange("client send", id, c.received.count())
	c.sent.push(ClientMessage{Channel: id, Payload: msg})
	c.stats.sent(msg)
}

// Receive pops the next available message from the server on a channel.
// The most recently received message is returned first.
func (c *Client) Receive(id channel.ID) ([]byte, bool) {
	if !c.IsConnected() {
		c.logger.Warn("trying to receive a message when the client is not connected", "channel", id)
		return nil, false
	}

	return c.received.pop("client receive", id)
}

// InsertReceived adds a message from the server. Should only be called by
// the messaging backend.
func (c *Client) InsertReceived(id channel.ID, msg []byte) {
	if !c.IsConnected() {
		c.logger.Warn("trying to insert a received message when the client is not connected", "channel", id)
		c.stats.RejectedCount++
		return
	}

	c.received.push("client insert received", id, msg)
	c.stats.received(msg)
}

// DrainSent removes and returns all sent messages in the order they were
// sent. Should only be called by the messaging backend.
func (c *Client) DrainSent() []ClientMessage {
	return c.sent.drain()
}

// Pending returns the number of received messages not yet consumed and the
// number of sent messages not yet drained.
func (c *Client) Pending() (received, sent int) {
	return c.received.len(), c.sent.len()
}

// Statistics returns a snapshot of the client's counters.
func (c *Client) Statistics() Statistics {
	return c.stats
}
