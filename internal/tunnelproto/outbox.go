package tunnelproto

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrOutboxClosed = errors.New("outbox closed")
var ErrOutboxStalled = errors.New("outbox stalled: peer not reading")

const defaultOutboxEnqueueTimeout = 2 * time.Second

// Outbox queues outbound frames for one connection and writes them from a
// single goroutine, so callers never wait on the network. When the queue
// stays full for the enqueue timeout the peer is treated as stalled and the
// connection is closed.
type Outbox struct {
	writeFn        func(Message) error
	closeFn        func()
	queue          chan Message
	stop           chan struct{}
	done           chan struct{}
	closed         atomic.Bool
	stopOnce       sync.Once
	enqueueTimeout time.Duration
}

func NewOutbox(conn *websocket.Conn, writeTimeout time.Duration, capacity int) *Outbox {
	return newOutboxWithWriter(func(msg Message) error {
		if conn == nil {
			return ErrOutboxClosed
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			_ = conn.Close()
			return err
		}
		if err := conn.WriteJSON(msg); err != nil {
			_ = conn.Close()
			return err
		}
		return nil
	}, func() {
		if conn != nil {
			_ = conn.Close()
		}
	}, capacity, defaultOutboxEnqueueTimeout)
}

func newOutboxWithWriter(writeFn func(Message) error, closeFn func(), capacity int, enqueueTimeout time.Duration) *Outbox {
	if capacity <= 0 {
		capacity = 1
	}
	if enqueueTimeout <= 0 {
		enqueueTimeout = defaultOutboxEnqueueTimeout
	}
	o := &Outbox{
		writeFn:        writeFn,
		closeFn:        closeFn,
		queue:          make(chan Message, capacity),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		enqueueTimeout: enqueueTimeout,
	}
	go o.run()
	return o
}

// Send enqueues msg. It returns as soon as the frame is queued.
func (o *Outbox) Send(msg Message) error {
	if o.closed.Load() {
		return ErrOutboxClosed
	}

	select {
	case o.queue <- msg:
		return nil
	case <-o.stop:
		return ErrOutboxClosed
	default:
	}

	timer := time.NewTimer(o.enqueueTimeout)
	defer timer.Stop()

	select {
	case o.queue <- msg:
		return nil
	case <-o.stop:
		return ErrOutboxClosed
	case <-timer.C:
		o.stall()
		return ErrOutboxStalled
	}
}

// Close stops the writer after it finishes the frame in flight. Queued
// frames that were not yet written are dropped.
func (o *Outbox) Close() {
	o.closed.Store(true)
	o.signalStop()
	<-o.done
}

// Done is closed once the writer goroutine has exited.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

func (o *Outbox) run() {
	defer close(o.done)

	for {
		select {
		case <-o.stop:
			return
		case msg := <-o.queue:
			if err := o.write(msg); err != nil {
				o.closed.Store(true)
				o.signalStop()
				return
			}
		}
	}
}

func (o *Outbox) write(msg Message) error {
	if o.writeFn == nil {
		return io.ErrClosedPipe
	}
	return o.writeFn(msg)
}

func (o *Outbox) signalStop() {
	o.stopOnce.Do(func() {
		close(o.stop)
	})
}

func (o *Outbox) stall() {
	if o.closed.Swap(true) {
		return
	}
	if o.closeFn != nil {
		o.closeFn()
	}
	o.signalStop()
}
