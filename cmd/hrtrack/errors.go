package main

import (
	"errors"

	"github.com/hrtrack/hrtrack/internal/ble"
)

// ErrDeviceNotFound indicates that no scanned device matched the
// requested address or name hint.
var ErrDeviceNotFound = errors.New("device not found")

// FormatUserError turns internal errors into actionable messages for the
// terminal. Unknown errors pass through unchanged.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, ble.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, ErrDeviceNotFound):
		return "Device not found. Tips:\n" +
			"- Make sure the strap is worn (awake)\n" +
			"- Ensure the strap is not connected to another app\n" +
			"- Run 'hrtrack scan' to see devices, then use --address or --name"
	default:
		return err.Error()
	}
}
