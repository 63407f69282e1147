// Package session implements the sensor session engine: the state machine
// orchestrating discovery, connection, subscription, reconnection and
// dispatch of decoded measurements to the log writer, the statistics
// aggregator and the display stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hrtrack/hrtrack/internal/addrstore"
	"github.com/hrtrack/hrtrack/internal/gatt"
	"github.com/hrtrack/hrtrack/internal/groutine"
	"github.com/hrtrack/hrtrack/internal/hrlog"
	"github.com/hrtrack/hrtrack/internal/stats"
)

// inboundKind discriminates events on the engine's single inbound channel.
// Everything the radio stack delivers crosses into the engine through that
// channel; no other shared state is touched from notification context.
type inboundKind int

const (
	inboundHeartRate inboundKind = iota
	inboundBattery
	inboundPeerLost
)

type inboundEvent struct {
	kind  inboundKind
	data  []byte
	at    time.Time
	epoch int // connection generation that produced the event
}

// Engine is the sensor session engine. One engine drives one session: it
// owns the log writer, the histogram and at most one connected peripheral.
type Engine struct {
	cfg     *Config
	central Central
	store   *addrstore.Store
	log     *hrlog.Writer
	hist    *stats.Histogram
	logger  *logrus.Logger

	inbound chan inboundEvent
	events  *ringChannel[Event]

	mu           sync.Mutex
	state        State
	peripheral   Peripheral
	identifier   string // identifier of the current/last connection
	battery      *uint8
	epoch        int
	eventsClosed bool

	decodeErrors atomic.Int64
	samples      atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewEngine creates an engine. The log writer is owned by the engine from
// this point on: it is guaranteed to be closed on every exit path,
// including persistence failures and interrupts.
func NewEngine(central Central, store *addrstore.Store, log *hrlog.Writer, hist *stats.Histogram, cfg *Config, logger *logrus.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		cfg:     cfg,
		central: central,
		store:   store,
		log:     log,
		hist:    hist,
		logger:  logger,
		inbound: make(chan inboundEvent, cfg.NotificationBuffer),
		events:  newRingChannel[Event](cfg.EventBuffer),
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

// Start launches the dispatch loop. Must be called once before Scan or
// Connect; Stop tears everything down.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	groutine.Go(e.ctx, "session-dispatch", e.dispatch)
}

// Events returns the outbound stream of state changes and samples. The
// stream is closed by Stop. A consumer that falls behind loses the oldest
// events; the dispatch path never blocks on it.
func (e *Engine) Events() <-chan Event {
	return e.events.C()
}

// State returns the current session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Battery returns the most recent battery reading, nil when none is
// available.
func (e *Engine) Battery() *uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.battery
}

// DecodeErrors returns how many notifications were dropped as undecodable.
func (e *Engine) DecodeErrors() int64 {
	return e.decodeErrors.Load()
}

// Samples returns how many measurements were dispatched.
func (e *Engine) Samples() int64 {
	return e.samples.Load()
}

// Histogram exposes the live statistics aggregator for read-only queries.
func (e *Engine) Histogram() *stats.Histogram {
	return e.hist
}

// Scan performs a bounded discovery scan. Allowed from Idle and Failed;
// the engine passes through Scanning and returns to Idle with the
// discovered device list, possibly empty.
func (e *Engine) Scan(ctx context.Context) ([]DeviceRef, error) {
	e.mu.Lock()
	if e.state != StateIdle && e.state != StateFailed {
		state := e.state
		e.mu.Unlock()
		return nil, fmt.Errorf("cannot scan while %s", state)
	}
	e.setStateLocked(StateScanning, "")
	e.mu.Unlock()

	devices, err := e.central.Scan(ctx, e.cfg.ScanTimeout)

	e.setState(StateIdle, "")

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	e.logger.WithField("device_count", len(devices)).Info("Scan completed")
	return devices, nil
}

// Connect dials the given identifier, subscribes to heart-rate
// notifications, reads the battery best-effort and remembers the address.
// On failure the engine transitions to Failed but accepts a fresh Connect.
func (e *Engine) Connect(ctx context.Context, identifier string) error {
	e.mu.Lock()
	switch e.state {
	case StateIdle, StateScanning, StateFailed:
		// Connectable states.
	default:
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("cannot connect while %s", state)
	}
	e.setStateLocked(StateConnecting, "")
	e.mu.Unlock()

	e.logger.WithField("address", identifier).Info("Connecting to sensor...")

	p, err := e.central.Connect(ctx, identifier, e.cfg.ConnectTimeout)
	if err != nil {
		reason := fmt.Sprintf("connect to %s failed: %v", identifier, err)
		e.setState(StateFailed, reason)
		return fmt.Errorf("connect to %s failed: %w", identifier, err)
	}

	if err := e.attach(p); err != nil {
		_ = p.Disconnect()
		reason := fmt.Sprintf("subscription failed: %v", err)
		e.setState(StateFailed, reason)
		return fmt.Errorf("subscription failed: %w", err)
	}

	e.mu.Lock()
	e.identifier = identifier
	e.setStateLocked(StateConnected, "")
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.Save(identifier); err != nil {
			e.logger.WithError(err).Warn("Failed to remember device address")
		}
	}
	return nil
}

// Stop shuts the session down: cancels in-flight work, releases the
// peripheral, drains the dispatch loop and closes the log writer. Safe to
// call multiple times and from signal handlers; only the first call does
// the work.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.logger.Info("Stopping session...")

		e.mu.Lock()
		p := e.peripheral
		e.peripheral = nil
		e.epoch++ // invalidate any in-flight notifications
		e.mu.Unlock()

		if e.cancel != nil {
			e.cancel()
			<-e.done
		}
		if p != nil {
			if err := p.Disconnect(); err != nil {
				e.logger.WithError(err).Warn("Disconnect failed during stop")
			}
		}
		if err := e.log.Close(); err != nil {
			e.logger.WithError(err).Error("Failed to close session log")
		}

		e.mu.Lock()
		e.setStateLocked(StateStopped, "")
		e.eventsClosed = true
		e.events.Close()
		e.mu.Unlock()
	})
}

// attach wires a freshly connected peripheral into the inbound channel and
// starts the peer-loss watcher. Battery is best-effort at every step:
// absence is represented structurally, never as a sentinel value.
func (e *Engine) attach(p Peripheral) error {
	e.mu.Lock()
	e.epoch++
	epoch := e.epoch
	e.peripheral = p
	e.battery = nil
	e.mu.Unlock()

	err := p.SubscribeHeartRate(func(data []byte) {
		e.post(inboundEvent{kind: inboundHeartRate, data: data, at: time.Now(), epoch: epoch})
	})
	if err != nil {
		return fmt.Errorf("heart rate subscription: %w", err)
	}

	if err := p.SubscribeBattery(func(data []byte) {
		e.post(inboundEvent{kind: inboundBattery, data: data, at: time.Now(), epoch: epoch})
	}); err != nil {
		e.logger.WithError(err).Debug("Battery notifications unavailable")
	}

	if raw, err := p.ReadBattery(); err != nil {
		e.logger.WithError(err).Info("Battery read failed (characteristic unsupported or not readable)")
	} else if pct, decodeErr := gatt.DecodeBattery(raw); decodeErr != nil {
		e.logger.WithError(decodeErr).Warn("Battery value undecodable")
	} else {
		e.setBattery(pct)
	}

	groutine.Go(e.ctx, "session-peer-watch", func(ctx context.Context) {
		select {
		case <-p.Disconnected():
			e.post(inboundEvent{kind: inboundPeerLost, epoch: epoch})
		case <-ctx.Done():
		}
	})
	return nil
}

// post delivers an event to the dispatch loop. The send blocks to preserve
// notification order, but never outlives the engine context.
func (e *Engine) post(ev inboundEvent) {
	select {
	case e.inbound <- ev:
	case <-e.ctx.Done():
	}
}

// dispatch is the engine's single consumer goroutine. Measurements are
// logged and aggregated in the exact order notifications were delivered.
func (e *Engine) dispatch(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.inbound:
			e.mu.Lock()
			current := e.epoch
			state := e.state
			e.mu.Unlock()

			if ev.epoch != current {
				continue // event from a superseded connection
			}

			switch ev.kind {
			case inboundHeartRate:
				if state == StateConnected {
					e.handleHeartRate(ctx, ev)
				}
			case inboundBattery:
				e.handleBattery(ev)
			case inboundPeerLost:
				if state == StateConnected {
					e.reconnect(ctx)
				}
			}
		}
	}
}

// handleHeartRate decodes and dispatches one notification. A decode error
// is local and recoverable: the notification is dropped, a counter bumped,
// and the session continues. A persistence error is fatal to the session.
func (e *Engine) handleHeartRate(ctx context.Context, ev inboundEvent) {
	m, err := gatt.DecodeHeartRate(ev.data, ev.at)
	if err != nil {
		e.decodeErrors.Add(1)
		e.logger.WithFields(logrus.Fields{
			"error":         err,
			"payload_len":   len(ev.data),
			"decode_errors": e.decodeErrors.Load(),
		}).Warn("Dropped undecodable heart rate notification")
		return
	}

	battery := e.Battery()

	if err := e.log.Append(m, battery); err != nil {
		// Silent data loss is unacceptable: the session ends here.
		e.failSession(ctx, fmt.Sprintf("persistence failure: %v", err))
		return
	}

	e.hist.Record(m.BPM)
	e.samples.Add(1)
	e.emit(Event{Kind: EventSample, Measurement: m, Battery: battery})
}

func (e *Engine) handleBattery(ev inboundEvent) {
	pct, err := gatt.DecodeBattery(ev.data)
	if err != nil {
		e.logger.WithError(err).Debug("Dropped undecodable battery notification")
		return
	}
	e.setBattery(pct)
}

// reconnect runs the bounded-backoff recovery loop after the peer dropped
// the connection. Exhausted retries end in Failed, never silently in Idle.
func (e *Engine) reconnect(ctx context.Context) {
	e.mu.Lock()
	identifier := e.identifier
	p := e.peripheral
	e.peripheral = nil
	e.mu.Unlock()

	if p != nil {
		_ = p.Disconnect()
	}

	e.setState(StateReconnecting, "connection lost by peer")

	for attempt := 1; attempt <= e.cfg.ReconnectAttempts; attempt++ {
		delay := e.cfg.backoffFor(attempt)
		e.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"of":      e.cfg.ReconnectAttempts,
			"delay":   delay,
		}).Info("Reconnecting...")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		np, err := e.central.Connect(ctx, identifier, e.cfg.ConnectTimeout)
		if err != nil {
			e.logger.WithError(err).WithField("attempt", attempt).Warn("Reconnect attempt failed")
			continue
		}
		if err := e.attach(np); err != nil {
			e.logger.WithError(err).WithField("attempt", attempt).Warn("Resubscription failed")
			_ = np.Disconnect()
			continue
		}

		e.setState(StateConnected, "")
		e.logger.Info("Reconnected, notifications resumed")
		return
	}

	e.failSession(ctx, fmt.Sprintf("reconnect attempts exhausted after %d tries", e.cfg.ReconnectAttempts))
}

// failSession ends the recording session: the peripheral is released, the
// log writer closed, and the failure surfaced. The engine stays usable for
// a fresh Connect.
func (e *Engine) failSession(ctx context.Context, reason string) {
	e.mu.Lock()
	p := e.peripheral
	e.peripheral = nil
	e.epoch++
	e.mu.Unlock()

	if p != nil {
		_ = p.Disconnect()
	}
	if err := e.log.Close(); err != nil {
		e.logger.WithError(err).Error("Failed to close session log")
	}

	e.setState(StateFailed, reason)
}

func (e *Engine) setBattery(pct uint8) {
	e.mu.Lock()
	e.battery = &pct
	e.mu.Unlock()
	e.logger.WithField("battery_percent", pct).Debug("Battery level updated")
}

func (e *Engine) setState(s State, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStateLocked(s, reason)
}

func (e *Engine) setStateLocked(s State, reason string) {
	if e.state == s {
		return
	}
	e.state = s

	entry := e.logger.WithField("state", s.String())
	if reason != "" {
		entry = entry.WithField("reason", reason)
	}
	entry.Info("Session state changed")

	e.emitLocked(Event{Kind: EventStateChange, State: s, Reason: reason})
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLocked(ev)
}

func (e *Engine) emitLocked(ev Event) {
	if e.eventsClosed {
		return
	}
	if e.events.ForceSend(ev) {
		e.logger.WithField("overwritten", e.events.Overwritten()).Debug("Slow event consumer, dropped oldest event")
	}
}
