package websockets

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/QYUbit/axnet/pkg/backend"
	"github.com/QYUbit/axnet/pkg/wire"
)

// peerConn is one WebSocket connection with its writer goroutine.
type peerConn struct {
	conn   *websocket.Conn
	writer *backend.WritePump

	closeOnce sync.Once
}

func newPeerConn(conn *websocket.Conn, opts Options, onError func(error)) *peerConn {
	conn.SetReadLimit(opts.ReadLimit)

	pc := &peerConn{conn: conn}
	pc.writer = backend.NewWritePump(opts.SendQueueSize, func(o backend.Outgoing) error {
		_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
		return conn.WriteMessage(websocket.BinaryMessage, wire.EncodeDatagram(o.Channel, o.Payload))
	}, onError)
	return pc
}

// readLoop calls deliver for every well-formed binary message until the
// connection fails or deliver returns an error.
func (pc *peerConn) readLoop(deliver func(backend.Event) error, malformed func(error)) error {
	for {
		kind, b, err := pc.conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		id, payload, err := wire.DecodeDatagram(b)
		if err != nil {
			malformed(err)
			continue
		}
		if err := deliver(backend.Event{Kind: backend.EventMessage, Channel: id, Payload: payload}); err != nil {
			return err
		}
	}
}

// close sends a close frame and tears the connection down once.
func (pc *peerConn) close(code int, reason string) {
	pc.closeOnce.Do(func() {
		_ = pc.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		_ = pc.conn.Close()
		pc.writer.Close()
	})
}
