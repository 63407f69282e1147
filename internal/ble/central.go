// Package ble adapts the go-ble stack to the session engine's Central and
// Peripheral interfaces.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/hrtrack/hrtrack/internal/gatt"
	"github.com/hrtrack/hrtrack/internal/session"
)

// DeviceFactory creates blelib.Device instances (can be overridden in tests)
var DeviceFactory = func() (blelib.Device, error) {
	return newDefaultDevice()
}

// NotFoundError reports a missing GATT resource on a connected peripheral.
type NotFoundError struct {
	Resource string
	UUID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.UUID)
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// Central drives discovery and connections through the platform BLE stack.
type Central struct {
	logger *logrus.Logger
}

// NewCentral creates a Central. A nil logger gets a default instance.
func NewCentral(logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{logger: logger}
}

// scanRecord accumulates advertisement data per address across a scan
// window. Straps often split the device name and the advertised services
// over separate advertisement and scan-response packets.
type scanRecord struct {
	name     string
	rssi     int
	services map[string]struct{}
}

// Scan discovers nearby advertisers for the given window and returns one
// DeviceRef per address. A context cancellation or deadline simply ends
// the window, it is not an error.
func (c *Central) Scan(ctx context.Context, window time.Duration) ([]session.DeviceRef, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	blelib.SetDefaultDevice(dev)

	c.logger.WithField("window", window).Info("Starting BLE scan...")

	found := hashmap.New[string, *scanRecord]()

	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	err = dev.Scan(scanCtx, true, func(adv blelib.Advertisement) {
		addr := adv.Addr().String()
		rec, ok := found.Get(addr)
		if !ok {
			rec, _ = found.GetOrInsert(addr, &scanRecord{services: make(map[string]struct{})})
		}
		if name := adv.LocalName(); name != "" {
			rec.name = name
		}
		rec.rssi = adv.RSSI()
		for _, svc := range adv.Services() {
			rec.services[gatt.NormalizeUUID(svc.String())] = struct{}{}
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", NormalizeError(err))
	}

	devices := make([]session.DeviceRef, 0, found.Len())
	found.Range(func(addr string, rec *scanRecord) bool {
		services := make([]string, 0, len(rec.services))
		for svc := range rec.services {
			services = append(services, svc)
		}
		devices = append(devices, session.DeviceRef{
			Identifier:          addr,
			Name:                rec.name,
			RSSI:                rec.rssi,
			HasHeartRateService: gatt.IsHeartRateService(services),
		})
		return true
	})
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Identifier < devices[j].Identifier
	})

	c.logger.WithField("device_count", len(devices)).Info("BLE scan completed")
	return devices, nil
}

// Connect dials the peripheral, discovers its GATT profile and resolves
// the heart rate measurement characteristic. The battery level
// characteristic is optional.
func (c *Central) Connect(ctx context.Context, identifier string, timeout time.Duration) (session.Peripheral, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	blelib.SetDefaultDevice(dev)

	c.logger.WithFields(logrus.Fields{
		"address": identifier,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := blelib.Dial(connCtx, blelib.NewAddr(identifier))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", identifier, NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	p, err := newPeripheral(identifier, client, profile, c.logger)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection after profile rejection")
		}
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"address":  identifier,
		"services": len(profile.Services),
	}).Info("BLE device connected successfully")
	return p, nil
}

// findCharacteristic walks a discovered profile for a characteristic
// under a specific service, matching on normalized UUIDs.
func findCharacteristic(profile *blelib.Profile, serviceUUID, charUUID string) *blelib.Characteristic {
	for _, svc := range profile.Services {
		if gatt.NormalizeUUID(svc.UUID.String()) != serviceUUID {
			continue
		}
		for _, char := range svc.Characteristics {
			if gatt.NormalizeUUID(char.UUID.String()) == charUUID {
				return char
			}
		}
	}
	return nil
}

// describeProfile renders service UUIDs for diagnostics.
func describeProfile(profile *blelib.Profile) string {
	uuids := make([]string, 0, len(profile.Services))
	for _, svc := range profile.Services {
		uuids = append(uuids, gatt.NormalizeUUID(svc.UUID.String()))
	}
	sort.Strings(uuids)
	return strings.Join(uuids, ", ")
}
