package backend

import (
	"errors"
	"sync"

	"github.com/QYUbit/axnet/pkg/channel"
)

var (
	ErrWriterClosed = errors.New("writer is closed")
	ErrQueueFull    = errors.New("send queue is full")
)

// Outgoing is one message handed to a connection writer.
type Outgoing struct {
	Channel channel.ID
	Payload []byte
}

// WritePump serializes writes to one connection on its own goroutine so a
// slow peer never blocks the tick loop.
type WritePump struct {
	queue   chan Outgoing
	write   func(Outgoing) error
	onError func(error)

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewWritePump starts a pump with a queue of size entries. onError is
// called once with the first write error, after which the pump stops.
func NewWritePump(size int, write func(Outgoing) error, onError func(error)) *WritePump {
	if size <= 0 {
		size = 1
	}
	p := &WritePump{
		queue:   make(chan Outgoing, size),
		write:   write,
		onError: onError,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *WritePump) run() {
	defer close(p.done)

	for {
		select {
		case <-p.closed:
			return
		case o := <-p.queue:
			if err := p.write(o); err != nil {
				if p.onError != nil {
					p.onError(err)
				}
				return
			}
		}
	}
}

// TryPush queues o without blocking. It fails when the queue is full or the
// pump has stopped.
func (p *WritePump) TryPush(o Outgoing) error {
	select {
	case <-p.closed:
		return ErrWriterClosed
	case <-p.done:
		return ErrWriterClosed
	default:
	}

	select {
	case p.queue <- o:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the pump. Queued messages that were not written yet are dropped.
func (p *WritePump) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
	<-p.done
}

// Done is closed when the pump has stopped.
func (p *WritePump) Done() <-chan struct{} {
	return p.done
}
