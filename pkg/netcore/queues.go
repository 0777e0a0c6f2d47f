package netcore

import "github.com/QYUbit/axnet/pkg/channel"

// inbound holds the received messages of one entity (the client, or one
// peer on the server), indexed by channel id.
type inbound struct {
	channels [][][]byte
}

func newInbound(count int) *inbound {
	q := &inbound{}
	q.setup(count)
	return q
}

// setup recreates exactly count empty channel queues.
func (q *inbound) setup(count int) {
	q.channels = make([][][]byte, count)
}

func (q *inbound) count() int {
	return len(q.channels)
}

func (q *inbound) push(op string, id channel.ID, msg []byte) {
	channel.MustBeInRange(op, id, len(q.channels))
	q.channels[id] = append(q.channels[id], msg)
}

// pop returns the most recently inserted message of a channel.
func (q *inbound) pop(op string, id channel.ID) ([]byte, bool) {
	channel.MustBeInRange(op, id, len(q.channels))
	msgs := q.channels[id]
	if len(msgs) == 0 {
		return nil, false
	}
	last := len(msgs) - 1
	msg := msgs[last]
	msgs[last] = nil
	q.channels[id] = msgs[:last]
	return msg, true
}

// len returns the number of pending messages across all channels.
func (q *inbound) len() int {
	n := 0
	for _, msgs := range q.channels {
		n += len(msgs)
	}
	return n
}

// reset empties every channel while keeping the backing arrays. It returns
// the number of messages dropped.
func (q *inbound) reset() int {
	n := 0
	for i, msgs := range q.channels {
		n += len(msgs)
		clear(msgs)
		q.channels[i] = msgs[:0]
	}
	return n
}

// outbox is an append-only list of outgoing messages, emptied by drain.
type outbox[T any] struct {
	msgs []T
}

func (o *outbox[T]) push(msg T) {
	o.msgs = append(o.msgs, msg)
}

func (o *outbox[T]) len() int {
	return len(o.msgs)
}

// drain hands over every buffered message in insertion order.
func (o *outbox[T]) drain() []T {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = nil
	return out
}

func (o *outbox[T]) reset() int {
	n := len(o.msgs)
	clear(o.msgs)
	o.msgs = o.msgs[:0]
	return n
}

// remove drops every message matching fn, preserving the order of the rest.
func (o *outbox[T]) remove(fn func(T) bool) int {
	kept := o.msgs[:0]
	for _, msg := range o.msgs {
		if !fn(msg) {
			kept = append(kept, msg)
		}
	}
	n := len(o.msgs) - len(kept)
	clear(o.msgs[len(kept):])
	o.msgs = kept
	return n
}
