package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/hrtrack/hrtrack/internal/groutine"
)

// maxFeedBuffer guards against accidental misconfiguration.
const maxFeedBuffer uint32 = 64 * 1024

// Feed buffers the engine's event stream for a display consumer that runs
// on its own clock (e.g. a redraw ticker). Events land in an overlapped
// MPMC ring: the collector goroutine never blocks, and a display that
// cannot keep up loses the oldest events, not the newest.
type Feed struct {
	events <-chan Event
	buffer mpmc.RichOverlappedRingBuffer[Event]
	logger *logrus.Logger

	overwritten atomic.Int64
	started     atomic.Bool
	startOnce   sync.Once
	stopOnce    sync.Once
	stop        chan struct{}
	done        chan struct{}
}

// NewFeed creates a feed over the given event stream.
func NewFeed(events <-chan Event, bufferSize uint32, logger *logrus.Logger) (*Feed, error) {
	if events == nil {
		return nil, fmt.Errorf("event stream cannot be nil")
	}
	if bufferSize == 0 || bufferSize > maxFeedBuffer {
		return nil, fmt.Errorf("buffer size must be in 1..%d, got %d", maxFeedBuffer, bufferSize)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Feed{
		events: events,
		buffer: mpmc.NewOverlappedRingBuffer[Event](bufferSize),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the collector goroutine. It exits when the event stream
// closes, the context is cancelled, or Stop is called.
func (f *Feed) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		f.started.Store(true)
		groutine.Go(ctx, "session-feed", func(ctx context.Context) {
			defer close(f.done)
			for {
				select {
				case <-ctx.Done():
					return
				case <-f.stop:
					return
				case ev, ok := <-f.events:
					if !ok {
						return
					}
					overwrites, err := f.buffer.EnqueueM(ev)
					if err != nil {
						f.logger.WithError(err).Error("Feed enqueue failed")
						return
					}
					if overwrites > 0 {
						f.overwritten.Add(int64(overwrites))
					}
				}
			}
		})
	})
}

// Drain hands every buffered event to fn, oldest first, and returns how
// many were delivered. Safe to call concurrently with collection.
func (f *Feed) Drain(fn func(Event)) (int, error) {
	drained := 0
	for !f.buffer.IsEmpty() {
		ev, err := f.buffer.Dequeue()
		if err != nil {
			return drained, fmt.Errorf("feed dequeue failed: %w", err)
		}
		fn(ev)
		drained++
	}
	return drained, nil
}

// Overwritten reports how many events were lost to a slow consumer.
func (f *Feed) Overwritten() int64 {
	return f.overwritten.Load()
}

// Stop terminates the collector and waits for it to exit. Idempotent.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		close(f.stop)
	})
	if f.started.Load() {
		<-f.done
	}
}
