//go:build linux

package bleplatform

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// NewDevice opens the default HCI adapter.
func NewDevice() (ble.Device, error) {
	return linux.NewDevice()
}
