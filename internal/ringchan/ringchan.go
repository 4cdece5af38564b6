// Package ringchan provides a bounded channel with overwrite-oldest
// semantics, used as the event queue between a transport actor and its
// owner. Producers never block: when the buffer is full the oldest
// element is discarded, so a slow (or absent) owner cannot stall
// Bluetooth I/O.
package ringchan

import "sync/atomic"

// RingChannel wraps a buffered channel and guarantees non-blocking sends.
//
// Writers use ForceSend. Readers can use C() for a normal <-chan T, or
// TryReceive for a non-blocking poll.
type RingChannel[T any] struct {
	ch      chan T
	written atomic.Int64
	dropped atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
// Consumers can range over this until it is closed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend inserts an item, discarding the oldest buffered element if
// the channel is full. It never blocks. Returns true if an element was
// discarded to make room.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	overwrote := false

	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
			rc.dropped.Add(1)
			overwrote = true
		default:
		}
		rc.ch <- v
	}

	rc.written.Add(1)
	return overwrote
}

// TryReceive attempts a non-blocking receive.
// Returns (zero, false) if no value is ready or the channel is closed
// and drained.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. After this, ForceSend panics;
// pending receivers observe a clean close rather than an error.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}

// Written returns the total number of elements accepted.
func (rc *RingChannel[T]) Written() int64 {
	return rc.written.Load()
}

// Dropped returns the number of elements discarded to make room.
func (rc *RingChannel[T]) Dropped() int64 {
	return rc.dropped.Load()
}
