package session

import "sync/atomic"

// ringChannel is a bounded channel-like buffer with overwrite-oldest
// semantics, used for the engine's outbound event stream: senders never
// block, a consumer that falls behind loses the oldest events.
type ringChannel[T any] struct {
	ch          chan T
	written     atomic.Int64
	overwritten atomic.Int64
}

func newRingChannel[T any](capacity int) *ringChannel[T] {
	if capacity <= 0 {
		panic("ringChannel: capacity must be > 0")
	}
	return &ringChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over
// it until Close.
func (rc *ringChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend inserts an item without ever blocking, discarding the oldest
// buffered item when full. Reports whether an item was dropped.
func (rc *ringChannel[T]) ForceSend(v T) bool {
	dropped := false
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
		rc.ch <- v
	}
	rc.written.Add(1)
	return dropped
}

// Overwritten returns how many buffered items were lost to slow consumers.
func (rc *ringChannel[T]) Overwritten() int64 {
	return rc.overwritten.Load()
}

// Close closes the underlying channel. ForceSend panics afterwards.
func (rc *ringChannel[T]) Close() {
	close(rc.ch)
}
