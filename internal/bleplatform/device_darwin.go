//go:build darwin

package bleplatform

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// NewDevice opens a CoreBluetooth-backed device.
func NewDevice() (ble.Device, error) {
	return darwin.NewDevice()
}
