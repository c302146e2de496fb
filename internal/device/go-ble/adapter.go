package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Advertisement is the part of a received advertisement the transport uses
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
}

// GATTClient is the part of ble.Client the transport uses
type GATTClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// Adapter scans and dials through the host BLE adapter
type Adapter interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	Dial(ctx context.Context, address string) (GATTClient, error)
}

// bleAdapter wraps ble.Device to implement the Adapter interface
type bleAdapter struct {
	dev ble.Device
}

// NewAdapter opens the host adapter via DeviceFactory
func NewAdapter() (Adapter, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleAdapter{dev: dev}, nil
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to Advertisement
func (a *bleAdapter) Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(bleAdvertisement{adv: adv})
	}
	return NormalizeError(a.dev.Scan(ctx, allowDup, bleHandler))
}

// Dial connects to address
func (a *bleAdapter) Dial(ctx context.Context, address string) (GATTClient, error) {
	client, err := a.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return client, nil
}

// bleAdvertisement wraps ble.Advertisement to implement Advertisement
type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a bleAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a bleAdvertisement) Addr() string      { return a.adv.Addr().String() }
func (a bleAdvertisement) RSSI() int         { return a.adv.RSSI() }
func (a bleAdvertisement) Connectable() bool { return a.adv.Connectable() }
