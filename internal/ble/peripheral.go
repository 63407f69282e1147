package ble

import (
	"context"
	"fmt"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/hrtrack/hrtrack/internal/gatt"
	"github.com/hrtrack/hrtrack/internal/groutine"
)

// peripheral wraps a live go-ble client plus the two characteristics the
// session cares about.
type peripheral struct {
	identifier string
	client     blelib.Client
	hrChar     *blelib.Characteristic
	battChar   *blelib.Characteristic
	logger     *logrus.Logger

	lost     chan struct{}
	lostOnce sync.Once
}

// newPeripheral resolves the heart rate measurement characteristic from
// the discovered profile. A peripheral without it is rejected; battery
// level is optional.
func newPeripheral(identifier string, client blelib.Client, profile *blelib.Profile, logger *logrus.Logger) (*peripheral, error) {
	hrChar := findCharacteristic(profile, gatt.HeartRateServiceUUID, gatt.HeartRateMeasurementUUID)
	if hrChar == nil {
		logger.WithFields(logrus.Fields{
			"address":  identifier,
			"services": describeProfile(profile),
		}).Error("Heart rate measurement characteristic not found")
		return nil, &NotFoundError{Resource: "characteristic", UUID: gatt.HeartRateMeasurementUUID}
	}

	battChar := findCharacteristic(profile, gatt.BatteryServiceUUID, gatt.BatteryLevelUUID)
	if battChar == nil {
		logger.WithField("address", identifier).Debug("Battery level characteristic not present")
	}

	p := &peripheral{
		identifier: identifier,
		client:     client,
		hrChar:     hrChar,
		battChar:   battChar,
		logger:     logger,
		lost:       make(chan struct{}),
	}
	p.watchDisconnect()
	return p, nil
}

func (p *peripheral) Identifier() string { return p.identifier }

// SubscribeHeartRate enables measurement notifications. The handler runs
// on the radio stack's callback goroutine and must not block.
func (p *peripheral) SubscribeHeartRate(handler func([]byte)) error {
	if err := p.client.Subscribe(p.hrChar, false, func(data []byte) {
		handler(data)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to heart rate notifications: %w", NormalizeError(err))
	}
	p.logger.WithField("address", p.identifier).Info("Subscribed to heart rate notifications")
	return nil
}

// SubscribeBattery enables battery level notifications when the
// characteristic exposes them.
func (p *peripheral) SubscribeBattery(handler func([]byte)) error {
	if p.battChar == nil {
		return &NotFoundError{Resource: "characteristic", UUID: gatt.BatteryLevelUUID}
	}
	if err := p.client.Subscribe(p.battChar, false, func(data []byte) {
		handler(data)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to battery notifications: %w", NormalizeError(err))
	}
	return nil
}

// ReadBattery reads the current battery level value.
func (p *peripheral) ReadBattery() ([]byte, error) {
	if p.battChar == nil {
		return nil, &NotFoundError{Resource: "characteristic", UUID: gatt.BatteryLevelUUID}
	}
	data, err := p.client.ReadCharacteristic(p.battChar)
	if err != nil {
		return nil, fmt.Errorf("failed to read battery level: %w", NormalizeError(err))
	}
	return data, nil
}

// Disconnected is closed when the link drops, whether the peer dropped it
// or Disconnect released it.
func (p *peripheral) Disconnected() <-chan struct{} {
	return p.lost
}

// Disconnect releases the connection.
func (p *peripheral) Disconnect() error {
	err := p.client.CancelConnection()
	p.markLost()
	if err != nil {
		return fmt.Errorf("failed to cancel connection: %w", err)
	}
	return nil
}

func (p *peripheral) markLost() {
	p.lostOnce.Do(func() { close(p.lost) })
}

// watchDisconnect bridges the go-ble client's disconnect signal (a
// Darwin-specific channel) onto the lost channel.
func (p *peripheral) watchDisconnect() {
	client, ok := p.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		p.logger.Debug("Client does not support Disconnected() channel (non-Darwin platform?)")
		return
	}
	groutine.Go(context.Background(), "ble-disconnect-watch", func(ctx context.Context) {
		select {
		case <-client.Disconnected():
			p.logger.WithField("address", p.identifier).Warn("Peer reported disconnection")
			p.markLost()
		case <-p.lost:
		}
	})
}
