package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/event"
	"github.com/srg/sensorbridge/internal/groutine"
)

const (
	// DefaultConnectTimeout bounds dialing plus profile discovery
	DefaultConnectTimeout = 20 * time.Second

	// DefaultCommandTimeout bounds one PMD control point round trip when the
	// caller's context has no deadline
	DefaultCommandTimeout = 10 * time.Second
)

// Options configures a Transport
type Options struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Transport implements device.Transport over go-ble
type Transport struct {
	adapter Adapter
	opts    Options
	logger  *logrus.Logger

	sinkMu sync.RWMutex
	sink   event.Sink

	addresses *hashmap.Map[string, string] // device id -> adapter address
	connMu    sync.Mutex                   // serializes connect against disconnect
	conns     *hashmap.Map[string, *connection]
}

// NewTransport creates a transport over adapter
func NewTransport(adapter Adapter, opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	return &Transport{
		adapter:   adapter,
		opts:      opts,
		logger:    logger,
		sink:      event.Discard,
		addresses: hashmap.New[string, string](),
		conns:     hashmap.New[string, *connection](),
	}
}

// SetEventSink sets where transport events are published. The adapter was
// opened successfully, so it is reported as powered.
func (t *Transport) SetEventSink(sink event.Sink) {
	if sink == nil {
		sink = event.Discard
	}
	t.sinkMu.Lock()
	t.sink = sink
	t.sinkMu.Unlock()
	t.publish(event.PowerStateChanged{Powered: true})
}

func (t *Transport) publish(ev event.Event) {
	t.sinkMu.RLock()
	sink := t.sink
	t.sinkMu.RUnlock()
	sink.Publish(ev)
}

// Search implements device.Searcher
func (t *Transport) Search(ctx context.Context, handler func(device.Descriptor)) error {
	err := t.adapter.Scan(ctx, false, func(adv Advertisement) {
		d := descriptorFromAdvertisement(adv)
		t.addresses.Set(d.ID, d.Address)
		handler(d)
	})

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if device.IsLinkCondition(err, device.BluetoothOff) {
		t.publish(event.PowerStateChanged{Powered: false})
	}
	return err
}

// descriptorFromAdvertisement identifies a device by the vendor id in its
// advertised name, falling back to its address.
func descriptorFromAdvertisement(adv Advertisement) device.Descriptor {
	address := adv.Addr()
	id := device.VendorIDFromName(adv.LocalName())
	if id == "" {
		id = strings.ToUpper(address)
	}
	return device.Descriptor{
		ID:          id,
		Address:     address,
		RSSI:        adv.RSSI(),
		Name:        adv.LocalName(),
		Connectable: adv.Connectable(),
	}
}

func (t *Transport) resolve(op, id string) (string, error) {
	if err := device.ValidateID(id); err != nil {
		return "", err
	}
	if address, ok := t.addresses.Get(id); ok {
		return address, nil
	}
	if device.IsAddress(id) {
		return id, nil
	}
	return "", device.InvalidArgument(op, id, "device was not discovered")
}

// ConnectDevice implements device.Connector. Dialing, profile discovery and
// the post-connect reads run in the background; progress is published as
// connection-state events.
func (t *Transport) ConnectDevice(id string) error {
	address, err := t.resolve("connect", id)
	if err != nil {
		return err
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()

	if _, exists := t.conns.Get(id); exists {
		return fmt.Errorf("connect %q: %w", id, device.ErrAlreadyConnected)
	}

	c := newConnection(t, id, address)
	t.conns.Set(id, c)
	t.publish(event.ConnectionStateChanged{DeviceID: id, Address: address, State: device.Connecting})

	groutine.Go(context.Background(), "connect-"+id, c.establish)
	return nil
}

// DisconnectDevice implements device.Connector
func (t *Transport) DisconnectDevice(id string) error {
	if err := device.ValidateID(id); err != nil {
		return err
	}

	t.connMu.Lock()
	c, ok := t.conns.Get(id)
	t.connMu.Unlock()
	if !ok {
		return fmt.Errorf("disconnect %q: %w", id, device.ErrNotConnected)
	}

	groutine.Go(context.Background(), "disconnect-"+id, func(context.Context) {
		c.close(nil)
	})
	return nil
}

func (t *Transport) forget(c *connection) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if cur, ok := t.conns.Get(c.id); ok && cur == c {
		t.conns.Del(c.id)
	}
}

func (t *Transport) connected(op, id string) (*connection, error) {
	if err := device.ValidateID(id); err != nil {
		return nil, err
	}
	c, ok := t.conns.Get(id)
	if !ok || !c.ready() {
		return nil, device.NewError(device.KindTransport, op, id, device.ErrNotConnected)
	}
	return c, nil
}

// RequestAvailableSettings implements device.SettingsSource
func (t *Transport) RequestAvailableSettings(ctx context.Context, id string, feature device.Feature) (device.Settings, error) {
	return t.requestSettings(ctx, id, feature, false)
}

// RequestFullSettings implements device.SettingsSource
func (t *Transport) RequestFullSettings(ctx context.Context, id string, feature device.Feature) (device.Settings, error) {
	return t.requestSettings(ctx, id, feature, true)
}

func (t *Transport) requestSettings(ctx context.Context, id string, feature device.Feature, full bool) (device.Settings, error) {
	c, err := t.connected("settings", id)
	if err != nil {
		return device.EmptySettings(), err
	}
	if feature == device.FeatureHR {
		// the heart rate service takes no settings
		if full {
			return device.EmptySettings(), nil
		}
		return device.EmptySettings().With(device.SettingSampleRate, 1), nil
	}
	return c.requestSettings(ctx, feature, full)
}

// StartStreaming implements device.Streamer
func (t *Transport) StartStreaming(ctx context.Context, id string, feature device.Feature, cfg device.Configuration, handler func(device.SampleBatch)) error {
	c, err := t.connected("stream", id)
	if err != nil {
		return err
	}
	return c.stream(ctx, feature, cfg, handler)
}

// Close disconnects every connection and waits for the links to drop
func (t *Transport) Close() error {
	var conns []*connection
	t.conns.Range(func(_ string, c *connection) bool {
		conns = append(conns, c)
		return true
	})

	var errs []error
	for _, c := range conns {
		if err := c.close(nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
