//go:build !darwin

package ble

import (
	blelib "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// newDefaultDevice constructs the platform BLE device.
func newDefaultDevice() (blelib.Device, error) {
	return linux.NewDevice()
}
