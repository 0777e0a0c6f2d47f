package netcore

// Statistics counts the traffic that went through a transport.
type Statistics struct {
	// accepted by Send / Broadcast
	SentCount int64
	SentBytes int64

	// accepted by InsertReceived
	ReceivedCount int64
	ReceivedBytes int64

	// Send or InsertReceived calls rejected because the transport was not
	// connected, not running, or the peer was unknown.
	RejectedCount int64

	// buffered messages thrown away on disconnect, stop or peer removal
	DiscardedCount int64
}

func (s *Statistics) sent(msg []byte) {
	s.SentCount++
	s.SentBytes += int64(len(msg))
}

func (s *Statistics) received(msg []byte) {
	s.ReceivedCount++
	s.ReceivedBytes += int64(len(msg))
}
