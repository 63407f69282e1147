package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrtrack/hrtrack/internal/gatt"
	"github.com/hrtrack/hrtrack/internal/session"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func sampleEvent(bpm uint16) session.Event {
	return session.Event{
		Kind:        session.EventSample,
		Measurement: gatt.Measurement{Timestamp: time.Now(), BPM: bpm},
	}
}

func TestFeedDrainsInOrder(t *testing.T) {
	events := make(chan session.Event, 16)
	feed, err := session.NewFeed(events, 64, quietLogger())
	require.NoError(t, err)
	defer feed.Stop()

	feed.Start(context.Background())

	for i := 0; i < 10; i++ {
		events <- sampleEvent(uint16(60 + i))
	}

	var got []uint16
	require.Eventually(t, func() bool {
		_, err := feed.Drain(func(ev session.Event) {
			got = append(got, ev.Measurement.BPM)
		})
		require.NoError(t, err)
		return len(got) == 10
	}, time.Second, 5*time.Millisecond)

	for i, bpm := range got {
		assert.Equal(t, uint16(60+i), bpm)
	}
}

func TestFeedRejectsOversizedBuffer(t *testing.T) {
	events := make(chan session.Event)
	_, err := session.NewFeed(events, 1<<20, quietLogger())
	assert.Error(t, err)
}

func TestFeedStopsWhenSourceCloses(t *testing.T) {
	events := make(chan session.Event)
	feed, err := session.NewFeed(events, 64, quietLogger())
	require.NoError(t, err)

	feed.Start(context.Background())
	close(events)

	// Stop must return promptly once the source channel is closed.
	done := make(chan struct{})
	go func() {
		feed.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after source closed")
	}
}

func TestFeedStopWithoutStart(t *testing.T) {
	events := make(chan session.Event)
	feed, err := session.NewFeed(events, 64, quietLogger())
	require.NoError(t, err)

	// Must not block waiting for a consumer that never ran.
	feed.Stop()
}
