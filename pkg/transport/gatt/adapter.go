package gatt

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemote/internal/bleplatform"
)

// AccessoryServiceUUID is the vendor service the accessory advertises
// and under which its command characteristic lives.
var AccessoryServiceUUID = ble.MustParse("455a0001-0023-4bd4-bbd5-a6920e4c5653")

// CommandCharUUID is the writable characteristic intensity commands go to.
var CommandCharUUID = ble.MustParse("455a0002-0023-4bd4-bbd5-a6920e4c5653")

// Advertisement is the slice of a platform advertisement the actor
// cares about.
type Advertisement struct {
	Address  string
	Name     string
	Services []string
}

// Peripheral is a connected accessory with its command characteristic
// already resolved.
type Peripheral interface {
	Address() string

	// Write issues a fire-and-forget (without response) write to the
	// command characteristic.
	Write(data []byte) error

	Disconnect() error

	// Disconnected is closed when the link drops, requested or not.
	Disconnected() <-chan struct{}
}

// Adapter is the platform capability set the actor programs against.
// Production code gets a go-ble backed implementation from
// AdapterFactory; tests substitute a fake.
type Adapter interface {
	// Scan blocks, invoking h for every advertisement, until ctx is
	// cancelled.
	Scan(ctx context.Context, h func(Advertisement)) error

	// Dial connects to the given address and performs service and
	// characteristic discovery. The returned peripheral is ready to
	// write to.
	Dial(ctx context.Context, address string) (Peripheral, error)

	// Stop releases the underlying adapter handle.
	Stop() error
}

// AdapterFactory creates the platform adapter. A variable so tests can
// inject a fake implementation.
var AdapterFactory = func(logger *logrus.Logger) (Adapter, error) {
	dev, err := bleplatform.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE adapter: %w", err)
	}
	return &bleAdapter{dev: dev, logger: logger}, nil
}

// bleAdapter adapts a ble.Device to the Adapter capability set.
type bleAdapter struct {
	dev    ble.Device
	logger *logrus.Logger
}

func (a *bleAdapter) Scan(ctx context.Context, h func(Advertisement)) error {
	return a.dev.Scan(ctx, true, func(adv ble.Advertisement) {
		out := Advertisement{
			Address: adv.Addr().String(),
			Name:    adv.LocalName(),
		}
		for _, u := range adv.Services() {
			out.Services = append(out.Services, u.String())
		}
		h(out)
	})
}

func (a *bleAdapter) Dial(ctx context.Context, address string) (Peripheral, error) {
	client, err := a.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return nil, fmt.Errorf("failed to discover profile on %s: %w", address, err)
	}

	char := findCommandChar(profile)
	if char == nil {
		_ = client.CancelConnection()
		return nil, fmt.Errorf("accessory service %s not found on %s", AccessoryServiceUUID, address)
	}

	a.logger.WithFields(logrus.Fields{
		"address":        address,
		"characteristic": char.UUID.String(),
	}).Debug("Resolved command characteristic")

	return &blePeripheral{client: client, char: char, address: address}, nil
}

func (a *bleAdapter) Stop() error {
	return a.dev.Stop()
}

func findCommandChar(profile *ble.Profile) *ble.Characteristic {
	for _, svc := range profile.Services {
		if !svc.UUID.Equal(AccessoryServiceUUID) {
			continue
		}
		for _, char := range svc.Characteristics {
			if char.UUID.Equal(CommandCharUUID) {
				return char
			}
		}
	}
	return nil
}

// blePeripheral wraps a live ble.Client plus its resolved command
// characteristic.
type blePeripheral struct {
	client  ble.Client
	char    *ble.Characteristic
	address string
}

func (p *blePeripheral) Address() string {
	return p.address
}

func (p *blePeripheral) Write(data []byte) error {
	return p.client.WriteCharacteristic(p.char, data, true)
}

func (p *blePeripheral) Disconnect() error {
	return p.client.CancelConnection()
}

func (p *blePeripheral) Disconnected() <-chan struct{} {
	return p.client.Disconnected()
}
