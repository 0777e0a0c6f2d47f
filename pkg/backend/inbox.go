package backend

import (
	"errors"
	"sync"

	"github.com/QYUbit/axnet/pkg/channel"
)

// DefaultInboxLimit bounds the number of buffered message events.
const DefaultInboxLimit = 4096

// Inbox buffers events between network goroutines and the tick loop.
// Message events beyond the limit are dropped; other events are always kept.
type Inbox struct {
	mu      sync.Mutex
	events  []Event
	limit   int
	msgs    int
	dropped int64
}

func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	return &Inbox{limit: limit}
}

// Push appends e. It reports false when a message event was dropped.
func (in *Inbox) Push(e Event) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if e.Kind == EventMessage {
		if in.msgs >= in.limit {
			in.dropped++
			return false
		}
		in.msgs++
	}
	in.events = append(in.events, e)
	return true
}

// ErrInboxOverflow is returned by Deliver when a message on a reliable
// channel had to be dropped.
var ErrInboxOverflow = errors.New("inbox overflow on a reliable channel")

// Deliver pushes a message event received on a connection. Unreliable
// messages may be dropped when the inbox is full. A dropped reliable message
// returns ErrInboxOverflow and the caller must close the connection.
func (in *Inbox) Deliver(channels *channel.Set, e Event) error {
	if in.Push(e) {
		return nil
	}
	if channels.Kind(e.Channel).Reliable() {
		return ErrInboxOverflow
	}
	return nil
}

// Len returns the number of buffered events.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.events)
}

// Drain returns and removes every buffered event in push order.
func (in *Inbox) Drain() []Event {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := in.events
	in.events = nil
	in.msgs = 0
	return out
}

// Dropped returns the number of message events dropped so far.
func (in *Inbox) Dropped() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.dropped
}
