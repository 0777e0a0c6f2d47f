// Package backend holds the plumbing shared by messaging backends.
//
// Network goroutines never touch netcore state. They push events into an
// Inbox; the backend replays them onto the core in the ingest phase of the
// tick loop and drains sent messages in the flush phase.
package backend

import (
	"github.com/QYUbit/axnet/pkg/channel"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/tick"
)

type EventKind int

const (
	// EventStatus changes the client status to Event.Status.
	EventStatus EventKind = iota
	// EventStarted marks the server as running.
	EventStarted
	// EventStopped stops the server, disconnecting every peer.
	EventStopped
	// EventConnect registers Event.Peer.
	EventConnect
	// EventDisconnect unregisters Event.Peer.
	EventDisconnect
	// EventMessage delivers Event.Payload on Event.Channel.
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is something a network goroutine observed.
type Event struct {
	Kind    EventKind
	Status  netcore.ClientStatus
	Peer    netcore.PeerID
	Addr    string
	Reason  string
	Channel channel.ID
	Payload []byte
}

// Pump is implemented by backends that plug into a tick loop.
type Pump interface {
	// Ingest applies everything received since the last tick.
	Ingest()
	// Flush writes everything sent during the tick.
	Flush()
}

// Install registers p's Ingest and Flush in the matching phases of l.
func Install(l *tick.Loop, p Pump) {
	l.AddSystemFunc(tick.Ingest, func(tick.Context) { p.Ingest() })
	l.AddSystemFunc(tick.Flush, func(tick.Context) { p.Flush() })
}
