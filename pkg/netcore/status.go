package netcore

// PeerID identifies a connected peer. It is assigned by the backend or the
// session layer and stays stable for the lifetime of a connection.
type PeerID string

// ClientStatus is the connection status of a Client. It is one of
// Disconnected, Connecting or Connected.
type ClientStatus interface {
	clientStatus()
	String() string
}

// Disconnected is the initial status. Not connected and not trying to.
type Disconnected struct{}

// Connecting means a handshake with the server is in progress.
type Connecting struct{}

// Connected means the client can exchange messages. PeerID is empty until
// the backend learns the id the server assigned.
type Connected struct {
	PeerID PeerID
}

func (Disconnected) clientStatus() {}
func (Connecting) clientStatus()   {}
func (Connected) clientStatus()    {}

func (Disconnected) String() string { return "disconnected" }
func (Connecting) String() string   { return "connecting" }

func (c Connected) String() string {
	if c.PeerID == "" {
		return "connected"
	}
	return "connected(" + string(c.PeerID) + ")"
}

func isConnected(s ClientStatus) bool {
	_, ok := s.(Connected)
	return ok
}
