package quic

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/backend"
	"github.com/QYUbit/axnet/pkg/channel"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/session"
	"github.com/QYUbit/axnet/pkg/wire"
)

// Disconnect reasons recorded by the server.
const (
	ReasonClosed      = "connection closed"
	ReasonShutdown    = "server shutdown"
	ReasonQueueFull   = "send queue overflow"
	ReasonInboxFull   = "receive queue overflow"
	ReasonWriteFailed = "write failed"
)

// Server accepts QUIC connections and feeds them into a netcore.Server.
type Server struct {
	core     *netcore.Server
	sessions *session.Manager
	opts     Options
	logger   axlog.Logger
	inbox    *backend.Inbox

	listener *quic.Listener

	mu    sync.RWMutex
	conns map[netcore.PeerID]*peerConn

	started    atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once
	cancel     context.CancelFunc
	acceptDone chan struct{}
}

type peerConn struct {
	id     netcore.PeerID
	conn   *quic.Conn
	stream *quic.Stream
	writer *backend.WritePump

	closeOnce sync.Once
}

// NewServer sets up core's channels from opts and returns a server that is
// not listening yet.
func NewServer(core *netcore.Server, sessions *session.Manager, opts Options) *Server {
	opts = opts.withDefaults()
	core.SetupChannels(opts.Channels.Count())

	return &Server{
		core:     core,
		sessions: sessions,
		opts:     opts,
		logger:   opts.Logger.With("backend", "quic", "role", "server"),
		inbox:    backend.NewInbox(opts.InboxLimit),
		conns:    make(map[netcore.PeerID]*peerConn),
	}
}

// Start listens on Options.Addr and accepts connections until ctx is done or
// Close is called. The core becomes running on the next Ingest.
func (s *Server) Start(ctx context.Context) error {
	if s.opts.TLSConfig == nil {
		return ErrNoTLSConfig
	}
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	listener, err := quic.ListenAddr(s.opts.Addr, s.opts.TLSConfig, s.opts.QUICConfig)
	if err != nil {
		s.started.Store(false)
		return err
	}
	s.listener = listener

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.acceptDone = make(chan struct{})

	s.inbox.Push(backend.Event{Kind: backend.EventStarted})
	s.logger.Info("listening", "addr", listener.Addr().String())

	go s.acceptConnections(ctx)
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptConnections(ctx context.Context) {
	defer close(s.acceptDone)

	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || s.closed.Load() || errors.Is(err, quic.ErrServerClosed) {
				return
			}
			s.logger.Warn("failed accepting connection", "error", err)
			continue
		}
		go s.handshake(ctx, conn)
	}
}

func (s *Server) handshake(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()

	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(hctx)
	if err != nil {
		s.logger.Debug("handshake failed", "remote", remote, "error", err)
		conn.CloseWithError(CodeProtocol, "no stream")
		return
	}

	_ = stream.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	if err := wire.ReadMagic(stream); err != nil {
		s.logger.Debug("handshake failed", "remote", remote, "error", err)
		conn.CloseWithError(CodeProtocol, err.Error())
		return
	}
	_ = stream.SetReadDeadline(time.Time{})

	id := s.opts.PeerID()
	_ = stream.SetWriteDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	if err := wire.WritePeerID(stream, string(id)); err != nil {
		s.logger.Debug("handshake failed", "remote", remote, "error", err)
		conn.CloseWithError(CodeProtocol, err.Error())
		return
	}
	_ = stream.SetWriteDeadline(time.Time{})

	pc := &peerConn{id: id, conn: conn, stream: stream}
	pc.writer = backend.NewWritePump(s.opts.SendQueueSize, func(o backend.Outgoing) error {
		return wire.WriteFrame(stream, o.Channel, o.Payload)
	}, func(err error) {
		s.logger.Debug("write failed", "peer", id, "error", err)
		go s.drop(pc, CodeNormal, ReasonWriteFailed)
	})

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		pc.writer.Close()
		conn.CloseWithError(CodeShutdown, ReasonShutdown)
		return
	}
	s.conns[id] = pc
	s.inbox.Push(backend.Event{Kind: backend.EventConnect, Peer: id, Addr: remote})
	s.mu.Unlock()

	s.logger.Debug("handshake complete", "peer", id, "remote", remote)

	go s.readStream(pc)
	go s.readDatagrams(pc)
}

func (s *Server) readStream(pc *peerConn) {
	for {
		id, payload, err := wire.ReadFrame(pc.stream)
		if err != nil {
			reason := ReasonClosed
			if errors.Is(err, wire.ErrFrameLength) || errors.Is(err, wire.ErrEmptyFrame) {
				reason = backend.ReasonProtocol
			}
			s.drop(pc, CodeNormal, reason)
			return
		}
		if !s.deliver(pc, id, payload) {
			return
		}
	}
}

func (s *Server) readDatagrams(pc *peerConn) {
	ctx := pc.conn.Context()
	for {
		b, err := pc.conn.ReceiveDatagram(ctx)
		if err != nil {
			s.drop(pc, CodeNormal, ReasonClosed)
			return
		}
		id, payload, err := wire.DecodeDatagram(b)
		if err != nil {
			s.logger.Debug("dropping malformed datagram", "peer", pc.id, "error", err)
			continue
		}
		if !s.deliver(pc, id, payload) {
			return
		}
	}
}

// deliver reports false when the connection was closed because a reliable
// message did not fit into the inbox.
func (s *Server) deliver(pc *peerConn, id channel.ID, payload []byte) bool {
	err := s.inbox.Deliver(s.opts.Channels, backend.Event{
		Kind:    backend.EventMessage,
		Peer:    pc.id,
		Channel: id,
		Payload: payload,
	})
	if err != nil {
		s.logger.Warn("inbox full, closing connection", "peer", pc.id, "channel", id)
		s.drop(pc, CodeNormal, ReasonInboxFull)
		return false
	}
	return true
}

// drop closes a connection once and reports the disconnect to the tick loop.
func (s *Server) drop(pc *peerConn, code quic.ApplicationErrorCode, reason string) {
	pc.closeOnce.Do(func() {
		s.mu.Lock()
		if s.conns[pc.id] == pc {
			delete(s.conns, pc.id)
		}
		s.mu.Unlock()

		pc.conn.CloseWithError(code, reason)
		pc.writer.Close()

		s.inbox.Push(backend.Event{Kind: backend.EventDisconnect, Peer: pc.id, Reason: reason})
		s.logger.Debug("connection closed", "peer", pc.id, "reason", reason)
	})
}

func (s *Server) lookup(id netcore.PeerID) (*peerConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pc, ok := s.conns[id]
	return pc, ok
}

// Ingest applies connection changes and received messages to the core.
func (s *Server) Ingest() {
	violators := backend.ApplyServer(s.core, s.sessions, s.inbox.Drain(), s.logger)
	for _, id := range violators {
		if pc, ok := s.lookup(id); ok {
			go s.drop(pc, CodeProtocol, backend.ReasonProtocol)
		}
	}
}

// Flush writes the messages sent during the tick. Reliable channels go over
// the peer's stream, unreliable ones as datagrams.
func (s *Server) Flush() {
	for _, m := range s.core.DrainSent() {
		pc, ok := s.lookup(m.Peer)
		if !ok {
			s.logger.Debug("dropping message for closed connection", "peer", m.Peer)
			continue
		}

		if !s.opts.Channels.Kind(m.Channel).Reliable() {
			err := pc.conn.SendDatagram(wire.EncodeDatagram(m.Channel, m.Payload))
			if err == nil {
				continue
			}
			var tooLarge *quic.DatagramTooLargeError
			if !errors.As(err, &tooLarge) {
				s.logger.Debug("datagram not sent", "peer", m.Peer, "error", err)
				continue
			}
		}

		err := pc.writer.TryPush(backend.Outgoing{Channel: m.Channel, Payload: m.Payload})
		if errors.Is(err, backend.ErrQueueFull) {
			s.logger.Warn("send queue full, closing connection", "peer", m.Peer)
			go s.drop(pc, CodeNormal, ReasonQueueFull)
		}
	}
}

// Kick closes the connection of a peer. The peer is removed from the core
// on the next Ingest.
func (s *Server) Kick(id netcore.PeerID, reason string) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	pc, ok := s.lookup(id)
	if !ok {
		return ErrPeerNotFound{Peer: string(id)}
	}
	s.drop(pc, CodeKicked, reason)
	return nil
}

// Close stops accepting, closes every connection and stops the core on the
// next Ingest.
func (s *Server) Close() error {
	var err error

	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		conns := make([]*peerConn, 0, len(s.conns))
		for _, pc := range s.conns {
			conns = append(conns, pc)
		}
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		if s.listener != nil {
			err = s.listener.Close()
			<-s.acceptDone
		}

		for _, pc := range conns {
			s.drop(pc, CodeShutdown, ReasonShutdown)
		}

		if s.started.Load() {
			s.inbox.Push(backend.Event{Kind: backend.EventStopped, Reason: ReasonShutdown})
		}
		s.logger.Info("server closed")
	})

	return err
}
