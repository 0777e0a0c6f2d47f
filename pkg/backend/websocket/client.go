package websockets

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/backend"
	"github.com/QYUbit/axnet/pkg/netcore"
)

// Client connects a netcore.Client to a Server.
type Client struct {
	core   *netcore.Client
	opts   Options
	logger axlog.Logger
	inbox  *backend.Inbox
	dialer *websocket.Dialer

	mu      sync.Mutex
	dialing bool
	current *peerConn
}

func NewClient(core *netcore.Client, opts Options) *Client {
	opts = opts.withDefaults()
	core.SetupChannels(opts.Channels.Count())

	return &Client{
		core:   core,
		opts:   opts,
		logger: opts.Logger.With("backend", "websocket", "role", "client"),
		inbox:  backend.NewInbox(opts.InboxLimit),
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
	}
}

// Connect dials Options.Addr and reads the assigned peer id.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.dialing || c.current != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.dialing = true
	c.inbox.Push(backend.Event{Kind: backend.EventStatus, Status: netcore.Connecting{}})
	c.mu.Unlock()

	pc, id, err := c.dial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialing = false

	if err != nil {
		c.inbox.Push(backend.Event{Kind: backend.EventStatus, Status: netcore.Disconnected{}})
		c.logger.Warn("connect failed", "addr", c.opts.Addr, "error", err)
		return err
	}

	c.current = pc
	c.inbox.Push(backend.Event{Kind: backend.EventStatus, Status: netcore.Connected{PeerID: id}})
	c.logger.Info("connected", "addr", c.opts.Addr, "peer", id)

	go func() {
		err := pc.readLoop(func(e backend.Event) error {
			return c.deliver(pc, e)
		}, func(err error) {
			c.logger.Debug("dropping malformed message", "error", err)
		})
		reason := ReasonClosed
		if errors.Is(err, backend.ErrInboxOverflow) {
			c.logger.Warn("inbox full, closing connection")
			reason = ReasonInboxFull
		}
		c.lost(pc, reason)
	}()
	return nil
}

func (c *Client) dial(ctx context.Context) (*peerConn, netcore.PeerID, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.opts.Addr, nil)
	if err != nil {
		return nil, "", err
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	kind, b, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, "", err
	}
	if kind != websocket.TextMessage || len(b) == 0 {
		_ = conn.Close()
		return nil, "", ErrBadHandshake
	}
	_ = conn.SetReadDeadline(time.Time{})

	var pc *peerConn
	pc = newPeerConn(conn, c.opts, func(err error) {
		c.logger.Debug("write failed", "error", err)
		go c.lost(pc, ReasonWriteFailed)
	})
	return pc, netcore.PeerID(b), nil
}

// deliver pushes e unless pc has been replaced, so a stale reader never
// leaks messages into a newer connection.
func (c *Client) deliver(pc *peerConn, e backend.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != pc {
		return errReplaced
	}
	return c.inbox.Deliver(c.opts.Channels, e)
}

func (c *Client) lost(pc *peerConn, reason string) {
	c.mu.Lock()
	if c.current == pc {
		c.current = nil
		c.inbox.Push(backend.Event{Kind: backend.EventStatus, Status: netcore.Disconnected{}})
		c.logger.Info("connection lost", "reason", reason)
	}
	c.mu.Unlock()

	pc.close(websocket.CloseNormalClosure, ReasonClosed)
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	pc := c.current
	if pc == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.current = nil
	c.inbox.Push(backend.Event{Kind: backend.EventStatus, Status: netcore.Disconnected{}})
	c.mu.Unlock()

	pc.close(websocket.CloseNormalClosure, "client disconnect")
	return nil
}

// Ingest applies status changes and received messages to the core.
func (c *Client) Ingest() {
	backend.ApplyClient(c.core, c.inbox.Drain(), c.logger)
}

// Flush queues the messages sent during the tick.
func (c *Client) Flush() {
	msgs := c.core.DrainSent()
	if len(msgs) == 0 {
		return
	}

	c.mu.Lock()
	pc := c.current
	c.mu.Unlock()
	if pc == nil {
		return
	}

	for _, m := range msgs {
		if err := pc.writer.TryPush(backend.Outgoing{Channel: m.Channel, Payload: m.Payload}); err != nil {
			c.logger.Warn("send queue full, closing connection", "error", err)
			go c.lost(pc, ReasonQueueFull)
			return
		}
	}
}
