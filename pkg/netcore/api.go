package netcore

import "github.com/QYUbit/axnet/pkg/channel"

// ClientAPI is the part of a Client used by application and replication code.
type ClientAPI interface {
	Status() ClientStatus
	IsConnected() bool
	ID() (PeerID, bool)
	Send(id channel.ID, msg []byte)
	Receive(id channel.ID) ([]byte, bool)
}

// ClientBackend is the part of a Client driven by a messaging backend.
// SetupChannels, SetStatus and InsertReceived belong to the ingest phase of
// a tick, DrainSent to the flush phase.
type ClientBackend interface {
	Status() ClientStatus
	ChannelCount() int
	SetupChannels(count int)
	SetStatus(status ClientStatus)
	InsertReceived(id channel.ID, msg []byte)
	DrainSent() []ClientMessage
}

// ServerAPI is the part of a Server used by application and replication code.
type ServerAPI interface {
	IsRunning() bool
	Peers() []PeerID
	HasPeer(peer PeerID) bool
	Send(peer PeerID, id channel.ID, msg []byte)
	Broadcast(id channel.ID, msg []byte)
	BroadcastExcept(id channel.ID, msg []byte, except ...PeerID)
	Receive(peer PeerID, id channel.ID) ([]byte, bool)
	ReceiveAll(id channel.ID) []PeerMessage
}

// ServerBackend is the part of a Server driven by a messaging backend and
// the session layer.
type ServerBackend interface {
	IsRunning() bool
	HasPeer(peer PeerID) bool
	ChannelCount() int
	SetupChannels(count int)
	SetRunning(running bool)
	AddPeer(peer PeerID)
	RemovePeer(peer PeerID)
	InsertReceived(peer PeerID, id channel.ID, msg []byte)
	DrainSent() []ServerMessage
}

var (
	_ ClientAPI     = (*Client)(nil)
	_ ClientBackend = (*Client)(nil)
	_ ServerAPI     = (*Server)(nil)
	_ ServerBackend = (*Server)(nil)
)
