package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity is the ring size used when New is given less than 1.
const DefaultCapacity = 100

// ErrClosed is returned by Recv once the hub or the receiver is closed.
var ErrClosed = errors.New("hub closed")

// LaggedError reports that a receiver fell behind the ring and Missed
// messages were overwritten before it read them. The next Recv continues
// from the oldest message still retained.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("receiver lagged, %d messages skipped", e.Missed)
}

// Hub fans published messages out to any number of receivers. Messages are
// kept in a fixed ring; Publish never waits on a receiver.
type Hub struct {
	mu        sync.Mutex
	ring      [][]byte
	head      uint64 // sequence number of the next message
	notify    chan struct{}
	receivers int
	closed    bool
}

func New(capacity int) *Hub {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Hub{
		ring:   make([][]byte, capacity),
		notify: make(chan struct{}),
	}
}

// Publish appends msg to the ring and wakes waiting receivers. It returns
// the number of receivers attached at the time. With no receivers the
// message is dropped. msg must not be modified afterwards.
func (h *Hub) Publish(msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.receivers == 0 {
		return 0
	}
	h.ring[h.head%uint64(len(h.ring))] = msg
	h.head++
	close(h.notify)
	h.notify = make(chan struct{})
	return h.receivers
}

// Subscribe attaches a receiver positioned after the latest message.
func (h *Hub) Subscribe() *Receiver {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := &Receiver{hub: h, next: h.head, done: make(chan struct{})}
	if h.closed {
		r.closed = true
		close(r.done)
		return r
	}
	h.receivers++
	return r
}

// ReceiverCount returns the number of attached receivers.
func (h *Hub) ReceiverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.receivers
}

// Close detaches every receiver. Pending and future Recv calls return
// ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.receivers = 0
	close(h.notify)
}

// Receiver is one subscriber's cursor into the hub. Recv must not be called
// concurrently from several goroutines; Close may be called from any.
type Receiver struct {
	hub    *Hub
	next   uint64
	done   chan struct{}
	closed bool
}

// Recv returns the next message, blocking until one is published, ctx is
// done or the receiver is closed. A *LaggedError means messages were
// skipped; the caller may keep calling Recv.
func (r *Receiver) Recv(ctx context.Context) ([]byte, error) {
	h := r.hub
	for {
		h.mu.Lock()
		if r.closed || h.closed {
			h.mu.Unlock()
			return nil, ErrClosed
		}

		size := uint64(len(h.ring))
		var oldest uint64
		if h.head > size {
			oldest = h.head - size
		}
		if r.next < oldest {
			missed := oldest - r.next
			r.next = oldest
			h.mu.Unlock()
			return nil, &LaggedError{Missed: missed}
		}
		if r.next < h.head {
			msg := h.ring[r.next%size]
			r.next++
			h.mu.Unlock()
			return msg, nil
		}
		wait := h.notify
		h.mu.Unlock()

		select {
		case <-wait:
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close detaches the receiver. It is safe to call more than once.
func (r *Receiver) Close() {
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
	if !h.closed {
		h.receivers--
	}
}
