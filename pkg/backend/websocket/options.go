// Package websockets is a messaging backend over WebSocket (gorilla/websocket).
//
// Every channel is carried in binary messages using the datagram encoding
// of package wire. After the upgrade the server sends the assigned peer id
// as a single text message.
package websockets

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/channel"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/session"
)

var (
	ErrServerClosed     = errors.New("websocket: server is closed")
	ErrAlreadyConnected = errors.New("websocket: client is already connected")
	ErrNotConnected     = errors.New("websocket: client is not connected")
	ErrBadHandshake     = errors.New("websocket: expected peer id text message")

	errReplaced = errors.New("websocket: connection replaced")
)

type ErrPeerNotFound struct {
	Peer string
}

func (e ErrPeerNotFound) Error() string {
	return fmt.Sprintf("websocket: peer %s not found", e.Peer)
}

const (
	DefaultSendQueueSize    = 256
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultReadLimit        = 1 << 20
)

// Disconnect reasons.
const (
	ReasonClosed      = "connection closed"
	ReasonShutdown    = "server shutdown"
	ReasonQueueFull   = "send queue overflow"
	ReasonInboxFull   = "receive queue overflow"
	ReasonWriteFailed = "write failed"
)

type Options struct {
	// Addr is the ws:// or wss:// URL a client dials. Servers ignore it.
	Addr string

	// Channels declares the channel set. Defaults to channel.DefaultSet().
	Channels *channel.Set

	SendQueueSize    int
	InboxLimit       int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadLimit caps the size of one incoming message.
	ReadLimit int64

	// CheckOrigin is passed to the upgrader. Nil accepts same-origin requests only.
	CheckOrigin func(r *http.Request) bool

	// PeerID generates the id of every accepted connection. Defaults to
	// session.NewPeerID.
	PeerID func() netcore.PeerID

	Logger axlog.Logger
}

func (o Options) withDefaults() Options {
	if o.Channels == nil {
		o.Channels = channel.DefaultSet()
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = DefaultSendQueueSize
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.PeerID == nil {
		o.PeerID = session.NewPeerID
	}
	o.Logger = axlog.OrNop(o.Logger)
	return o
}
