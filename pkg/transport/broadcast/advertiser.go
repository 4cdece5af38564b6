package broadcast

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemote/internal/bleplatform"
)

// Advertiser is the platform capability the actor needs: put a
// manufacturer-data advertisement on air until the context is
// cancelled. Production code gets a go-ble backed implementation from
// AdvertiserFactory; tests substitute a fake.
type Advertiser interface {
	// Advertise blocks, broadcasting the payload as manufacturer data
	// under the given company identifier, until ctx is cancelled.
	Advertise(ctx context.Context, companyID uint16, payload []byte) error

	// Stop releases the underlying adapter handle.
	Stop() error
}

// AdvertiserFactory creates the platform advertiser. A variable so
// tests can inject a fake implementation.
var AdvertiserFactory = func(logger *logrus.Logger) (Advertiser, error) {
	dev, err := bleplatform.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE adapter: %w", err)
	}
	return &bleAdvertiser{dev: dev}, nil
}

type bleAdvertiser struct {
	dev ble.Device
}

func (a *bleAdvertiser) Advertise(ctx context.Context, companyID uint16, payload []byte) error {
	return a.dev.AdvertiseMfgData(ctx, companyID, payload)
}

func (a *bleAdvertiser) Stop() error {
	return a.dev.Stop()
}
