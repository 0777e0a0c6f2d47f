package websockets

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/backend"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/session"
)

// Server upgrades HTTP requests to WebSocket connections and feeds them into
// a netcore.Server. Mount it on any http.ServeMux.
type Server struct {
	core     *netcore.Server
	sessions *session.Manager
	opts     Options
	logger   axlog.Logger
	inbox    *backend.Inbox
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[netcore.PeerID]*serverConn

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

type serverConn struct {
	*peerConn
	id netcore.PeerID
}

var _ http.Handler = (*Server)(nil)

func NewServer(core *netcore.Server, sessions *session.Manager, opts Options) *Server {
	opts = opts.withDefaults()
	core.SetupChannels(opts.Channels.Count())

	return &Server{
		core:     core,
		sessions: sessions,
		opts:     opts,
		logger:   opts.Logger.With("backend", "websocket", "role", "server"),
		inbox:    backend.NewInbox(opts.InboxLimit),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: opts.HandshakeTimeout,
			CheckOrigin:      opts.CheckOrigin,
		},
		conns: make(map[netcore.PeerID]*serverConn),
	}
}

// Start lets the server accept upgrades. The core becomes running on the
// next Ingest.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if s.started.CompareAndSwap(false, true) {
		s.inbox.Push(backend.Event{Kind: backend.EventStarted})
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.started.Load() || s.closed.Load() {
		http.Error(w, "server not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := s.opts.PeerID()
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(id)); err != nil {
		s.logger.Debug("handshake failed", "remote", r.RemoteAddr, "error", err)
		_ = conn.Close()
		return
	}
	_ = conn.SetWriteDeadline(time.Time{})

	sc := &serverConn{id: id}
	sc.peerConn = newPeerConn(conn, s.opts, func(err error) {
		s.logger.Debug("write failed", "peer", id, "error", err)
		go s.drop(sc, websocket.CloseInternalServerErr, ReasonWriteFailed)
	})

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		sc.close(websocket.CloseGoingAway, ReasonShutdown)
		return
	}
	s.conns[id] = sc
	s.inbox.Push(backend.Event{Kind: backend.EventConnect, Peer: id, Addr: conn.RemoteAddr().String()})
	s.mu.Unlock()

	s.logger.Debug("peer connected", "peer", id, "remote", conn.RemoteAddr().String())

	go func() {
		err := sc.readLoop(func(e backend.Event) error {
			e.Peer = id
			return s.inbox.Deliver(s.opts.Channels, e)
		}, func(err error) {
			s.logger.Debug("dropping malformed message", "peer", id, "error", err)
		})
		if errors.Is(err, backend.ErrInboxOverflow) {
			s.logger.Warn("inbox full, closing connection", "peer", id)
			s.drop(sc, websocket.CloseTryAgainLater, ReasonInboxFull)
			return
		}
		s.logger.Debug("read loop ended", "peer", id, "error", err)
		s.drop(sc, websocket.CloseNormalClosure, ReasonClosed)
	}()
}

func (s *Server) drop(sc *serverConn, code int, reason string) {
	s.mu.Lock()
	if s.conns[sc.id] != sc {
		s.mu.Unlock()
		return
	}
	delete(s.conns, sc.id)
	s.mu.Unlock()

	sc.close(code, reason)
	s.inbox.Push(backend.Event{Kind: backend.EventDisconnect, Peer: sc.id, Reason: reason})
}

func (s *Server) lookup(id netcore.PeerID) (*serverConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.conns[id]
	return sc, ok
}

// Ingest applies connection changes and received messages to the core.
func (s *Server) Ingest() {
	violators := backend.ApplyServer(s.core, s.sessions, s.inbox.Drain(), s.logger)
	for _, id := range violators {
		if sc, ok := s.lookup(id); ok {
			go s.drop(sc, websocket.ClosePolicyViolation, backend.ReasonProtocol)
		}
	}
}

// Flush queues the messages sent during the tick on their connections.
func (s *Server) Flush() {
	for _, m := range s.core.DrainSent() {
		sc, ok := s.lookup(m.Peer)
		if !ok {
			continue
		}
		err := sc.writer.TryPush(backend.Outgoing{Channel: m.Channel, Payload: m.Payload})
		if errors.Is(err, backend.ErrQueueFull) {
			s.logger.Warn("send queue full, closing connection", "peer", m.Peer)
			go s.drop(sc, websocket.CloseTryAgainLater, ReasonQueueFull)
		}
	}
}

func (s *Server) Kick(id netcore.PeerID, reason string) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	sc, ok := s.lookup(id)
	if !ok {
		return ErrPeerNotFound{Peer: string(id)}
	}
	s.drop(sc, websocket.ClosePolicyViolation, reason)
	return nil
}

// Close closes every connection and stops the core on the next Ingest.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		conns := make([]*serverConn, 0, len(s.conns))
		for _, sc := range s.conns {
			conns = append(conns, sc)
		}
		s.mu.Unlock()

		for _, sc := range conns {
			s.drop(sc, websocket.CloseGoingAway, ReasonShutdown)
		}
		if s.started.Load() {
			s.inbox.Push(backend.Event{Kind: backend.EventStopped, Reason: ReasonShutdown})
		}
		s.logger.Info("server closed")
	})
	return nil
}
