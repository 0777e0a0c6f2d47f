package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/backend"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/wire"
)

// Client connects a netcore.Client to a Server.
type Client struct {
	core   *netcore.Client
	opts   Options
	logger axlog.Logger
	inbox  *backend.Inbox

	mu      sync.Mutex
	dialing bool
	current *clientConn
}

type clientConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	writer *backend.WritePump

	closeOnce sync.Once
}

func (cc *clientConn) close(code quic.ApplicationErrorCode, reason string) {
	cc.closeOnce.Do(func() {
		cc.conn.CloseWithError(code, reason)
		cc.writer.Close()
	})
}

// NewClient sets up core's channels from opts.
func NewClient(core *netcore.Client, opts Options) *Client {
	opts = opts.withDefaults()
	core.SetupChannels(opts.Channels.Count())

	return &Client{
		core:   core,
		opts:   opts,
		logger: opts.Logger.With("backend", "quic", "role", "client"),
		inbox:  backend.NewInbox(opts.InboxLimit),
	}
}

// Connect dials Options.Addr and performs the handshake. The core goes
// through Connecting to Connected on the following Ingest calls, or back to
// Disconnected when the attempt fails.
func (c *Client) Connect(ctx context.Context) error {
	tlsConf := c.opts.TLSConfig
	if tlsConf == nil {
		tlsConf = InsecureClientTLSConfig()
	}

	c.mu.Lock()
	if c.dialing || c.current != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.dialing = true
	c.inbox.Push(backend.Event{Kind: backend.EventStatus, Status: netcore.Connecting{}})
	c.mu.Unlock()

	cc, id, err := c.dial(ctx, tlsConf)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialing = false

	if err != nil {
		c.inbox.Push(backend.Event{Kind: backend.EventStatus, Status: netcore.Disconnected{}})
		c.logger.Warn("connect failed", "addr", c.opts.Addr, "error", err)
		return err
	}

	c.current = cc
	c.inbox.Push(backend.Event{Kind: backend.EventStatus, Status: netcore.Connected{PeerID: id}})
	c.logger.Info("connected", "addr", c.opts.Addr, "peer", id)

	go c.readStream(cc)
	go c.readDatagrams(cc)
	return nil
}

func (c *Client) dial(ctx context.Context, tlsConf *tls.Config) (*clientConn, netcore.PeerID, error) {
	hctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, err := quic.DialAddr(hctx, c.opts.Addr, tlsConf, c.opts.QUICConfig)
	if err != nil {
		return nil, "", err
	}

	stream, err := conn.OpenStreamSync(hctx)
	if err != nil {
		conn.CloseWithError(CodeProtocol, "no stream")
		return nil, "", err
	}

	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	_ = stream.SetWriteDeadline(deadline)
	_ = stream.SetReadDeadline(deadline)

	if err := wire.WriteMagic(stream); err != nil {
		conn.CloseWithError(CodeProtocol, err.Error())
		return nil, "", err
	}
	id, err := wire.ReadPeerID(stream)
	if err != nil {
		conn.CloseWithError(CodeProtocol, err.Error())
		return nil, "", err
	}

	_ = stream.SetWriteDeadline(time.Time{})
	_ = stream.SetReadDeadline(time.Time{})

	cc := &clientConn{conn: conn, stream: stream}
	cc.writer = backend.NewWritePump(c.opts.SendQueueSize, func(o backend.Outgoing) error {
		return wire.WriteFrame(stream, o.Channel, o.Payload)
	}, func(err error) {
		c.logger.Debug("write failed", "error", err)
		go c.lost(cc, ReasonWriteFailed)
	})
	return cc, netcore.PeerID(id), nil
}

func (c *Client) readStream(cc *clientConn) {
	for {
		id, payload, err := wire.ReadFrame(cc.stream)
		if err != nil {
			c.lost(cc, ReasonClosed)
			return
		}
		if !c.deliver(cc, backend.Event{Kind: backend.EventMessage, Channel: id, Payload: payload}) {
			return
		}
	}
}

func (c *Client) readDatagrams(cc *clientConn) {
	ctx := cc.conn.Context()
	for {
		b, err := cc.conn.ReceiveDatagram(ctx)
		if err != nil {
			c.lost(cc, ReasonClosed)
			return
		}
		id, payload, err := wire.DecodeDatagram(b)
		if err != nil {
			c.logger.Debug("dropping malformed datagram", "error", err)
			continue
		}
		if !c.deliver(cc, backend.Event{Kind: backend.EventMessage, Channel: id, Payload: payload}) {
			return
		}
	}
}

// deliver pushes e unless cc has been replaced, so a stale reader never
// leaks messages into a newer connection. It reports false when the reader
// should stop.
func (c *Client) deliver(cc *clientConn, e backend.Event) bool {
	c.mu.Lock()
	if c.current != cc {
		c.mu.Unlock()
		return false
	}
	err := c.inbox.Deliver(c.opts.Channels, e)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("inbox full, closing connection", "channel", e.Channel)
		c.lost(cc, ReasonInboxFull)
		return false
	}
	return true
}

func (c *Client) lost(cc *clientConn, reason string) {
	c.mu.Lock()
	if c.current == cc {
		c.current = nil
		c.inbox.Push(backend.Event{Kind: backend.EventStatus, Status: netcore.Disconnected{}})
		c.logger.Info("connection lost", "reason", reason)
	}
	c.mu.Unlock()

	cc.close(CodeNormal, reason)
}

// Disconnect closes the connection. The core becomes Disconnected on the
// next Ingest, discarding anything still queued.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cc := c.current
	if cc == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.current = nil
	c.inbox.Push(backend.Event{Kind: backend.EventStatus, Status: netcore.Disconnected{}})
	c.mu.Unlock()

	cc.close(CodeNormal, "client disconnect")
	return nil
}

// Ingest applies status changes and received messages to the core.
func (c *Client) Ingest() {
	backend.ApplyClient(c.core, c.inbox.Drain(), c.logger)
}

// Flush writes the messages sent during the tick.
func (c *Client) Flush() {
	msgs := c.core.DrainSent()
	if len(msgs) == 0 {
		return
	}

	c.mu.Lock()
	cc := c.current
	c.mu.Unlock()
	if cc == nil {
		c.logger.Debug("dropping messages, not connected", "count", len(msgs))
		return
	}

	for _, m := range msgs {
		if !c.opts.Channels.Kind(m.Channel).Reliable() {
			err := cc.conn.SendDatagram(wire.EncodeDatagram(m.Channel, m.Payload))
			if err == nil {
				continue
			}
			var tooLarge *quic.DatagramTooLargeError
			if !errors.As(err, &tooLarge) {
				c.logger.Debug("datagram not sent", "error", err)
				continue
			}
		}

		if err := cc.writer.TryPush(backend.Outgoing{Channel: m.Channel, Payload: m.Payload}); err != nil {
			c.logger.Warn("send queue full, closing connection", "error", err)
			go c.lost(cc, ReasonQueueFull)
			return
		}
	}
}
