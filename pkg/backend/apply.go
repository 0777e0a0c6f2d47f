package backend

import (
	"errors"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/session"
)

// ReasonProtocol is the disconnect reason for peers that send malformed traffic.
const ReasonProtocol = "protocol violation"

// ApplyClient replays events onto a client. Messages on channels the client
// does not know are dropped: they come from the network, not from code.
func ApplyClient(c netcore.ClientBackend, events []Event, logger axlog.Logger) {
	logger = axlog.OrNop(logger)

	for _, e := range events {
		switch e.Kind {
		case EventStatus:
			c.SetStatus(e.Status)
		case EventMessage:
			if int(e.Channel) >= c.ChannelCount() {
				logger.Warn("dropping message on unknown channel", "channel", e.Channel)
				continue
			}
			c.InsertReceived(e.Channel, e.Payload)
		default:
			logger.Debug("ignoring event on client", "kind", e.Kind.String())
		}
	}
}

// ApplyServer replays events onto a server through its session manager.
// Peers sending on unknown channels are disconnected and reported through
// the returned list so the backend can close their connections.
func ApplyServer(s netcore.ServerBackend, sessions *session.Manager, events []Event, logger axlog.Logger) (violators []netcore.PeerID) {
	logger = axlog.OrNop(logger)

	for _, e := range events {
		switch e.Kind {
		case EventStarted:
			sessions.Start()
		case EventStopped:
			sessions.Stop(e.Reason)
		case EventConnect:
			if err := sessions.Connect(e.Peer, e.Addr); err != nil {
				logger.Warn("failed to register peer", "peer", e.Peer, "error", err)
			}
		case EventDisconnect:
			err := sessions.Disconnect(e.Peer, e.Reason)
			if err != nil && !errors.Is(err, session.ErrUnknownPeer) {
				logger.Warn("failed to unregister peer", "peer", e.Peer, "error", err)
			}
		case EventMessage:
			if !s.HasPeer(e.Peer) {
				continue
			}
			if int(e.Channel) >= s.ChannelCount() {
				logger.Warn("peer sent a message on an unknown channel", "peer", e.Peer, "channel", e.Channel)
				_ = sessions.Disconnect(e.Peer, ReasonProtocol)
				violators = append(violators, e.Peer)
				continue
			}
			s.InsertReceived(e.Peer, e.Channel, e.Payload)
		default:
			logger.Debug("ignoring event on server", "kind", e.Kind.String())
		}
	}
	return violators
}
