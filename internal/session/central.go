package session

import (
	"context"
	"time"
)

// DeviceRef identifies a sensor discovered during a scan or remembered from
// a previous run. Immutable once constructed.
type DeviceRef struct {
	// Identifier is the platform-stable opaque address string used to
	// connect. On Darwin this is a CoreBluetooth UUID, elsewhere a MAC.
	Identifier string
	// Name is the advertised local name. Optional and unstable.
	Name string
	// RSSI is the signal strength at discovery time, 0 when unknown.
	RSSI int
	// HasHeartRateService reports whether the advertisement listed the
	// standard Heart Rate service.
	HasHeartRateService bool
}

// Central is the Bluetooth capability the engine drives. Implementations
// own the radio stack; the engine owns session semantics. The production
// implementation lives in internal/ble; tests substitute fakes.
type Central interface {
	// Scan discovers nearby peripherals until the timeout elapses or ctx
	// is cancelled. Cancellation is a normal way to end a scan, not an
	// error.
	Scan(ctx context.Context, timeout time.Duration) ([]DeviceRef, error)

	// Connect dials the peripheral with the given identifier and
	// discovers its GATT profile.
	Connect(ctx context.Context, identifier string, timeout time.Duration) (Peripheral, error)
}

// Peripheral is a live connection to one sensor.
type Peripheral interface {
	// Identifier returns the address this peripheral was dialed with.
	Identifier() string

	// SubscribeHeartRate subscribes to Heart Rate Measurement (0x2A37)
	// notifications. The handler is invoked from the radio stack's
	// delivery path and must return quickly.
	SubscribeHeartRate(handler func(data []byte)) error

	// SubscribeBattery subscribes to Battery Level (0x2A19)
	// notifications. Best-effort: many sensors do not notify battery.
	SubscribeBattery(handler func(data []byte)) error

	// ReadBattery reads the Battery Level characteristic once.
	ReadBattery() ([]byte, error)

	// Disconnected is closed when the peer drops the connection.
	Disconnected() <-chan struct{}

	// Disconnect releases the connection. Idempotent.
	Disconnect() error
}
