// Package quic is a messaging backend over QUIC (quic-go).
//
// Reliable channels are carried as frames on one bidirectional stream the
// client opens, unreliable channels as QUIC datagrams. The stream starts
// with a handshake in which the server tells the client its peer id.
package quic

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/channel"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/session"
)

var (
	ErrAlreadyStarted   = errors.New("quic: server has already started")
	ErrServerClosed     = errors.New("quic: server is closed")
	ErrAlreadyConnected = errors.New("quic: client is already connected")
	ErrNotConnected     = errors.New("quic: client is not connected")
	ErrNoTLSConfig      = errors.New("quic: tls config is required")
)

type ErrPeerNotFound struct {
	Peer string
}

func (e ErrPeerNotFound) Error() string {
	return fmt.Sprintf("quic: peer %s not found", e.Peer)
}

// Application error codes used when closing connections.
const (
	CodeNormal   quic.ApplicationErrorCode = 0x0
	CodeProtocol quic.ApplicationErrorCode = 0x1
	CodeShutdown quic.ApplicationErrorCode = 0x2
	CodeKicked   quic.ApplicationErrorCode = 0x3
)

const (
	DefaultSendQueueSize    = 256
	DefaultHandshakeTimeout = 5 * time.Second
)

// Options configure a Server or a Client.
type Options struct {
	// Addr is the listen address of a server or the dial address of a client.
	Addr string

	TLSConfig  *tls.Config
	QUICConfig *quic.Config

	// Channels declares the channel set. Defaults to channel.DefaultSet().
	Channels *channel.Set

	// SendQueueSize bounds the reliable frames waiting to be written per connection.
	SendQueueSize int
	// InboxLimit bounds the received messages buffered between two ticks.
	InboxLimit int

	HandshakeTimeout time.Duration

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
	if o.PeerID == nil {
		o.PeerID = session.NewPeerID
	}
	o.Logger = axlog.OrNop(o.Logger)

	if o.QUICConfig == nil {
		o.QUICConfig = &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		}
	} else {
		o.QUICConfig = o.QUICConfig.Clone()
	}
	o.QUICConfig.EnableDatagrams = true
	return o
}
