package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/event"
	"github.com/srg/sensorbridge/internal/groutine"
	"github.com/srg/sensorbridge/internal/pmd"
)

// connection is one live link and its PMD plumbing
type connection struct {
	t       *Transport
	id      string
	address string
	logger  *logrus.Entry

	ctx    context.Context
	cancel context.CancelCauseFunc

	connMutex sync.RWMutex
	client    GATTClient
	chars     map[string]*ble.Characteristic // normalized uuid -> characteristic
	isReady   bool

	cmdMutex  sync.Mutex // one control point command in flight
	responses chan []byte

	streamMu sync.RWMutex
	streams  map[device.Feature]func(device.SampleBatch)
	hrReady  sync.Once

	closeOnce sync.Once
	closeErr  error
}

func newConnection(t *Transport, id, address string) *connection {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &connection{
		t:       t,
		id:      id,
		address: address,
		logger: t.logger.WithFields(logrus.Fields{
			"device_id": id,
			"address":   address,
		}),
		ctx:       ctx,
		cancel:    cancel,
		chars:     make(map[string]*ble.Characteristic),
		responses: make(chan []byte, 8),
		streams:   make(map[device.Feature]func(device.SampleBatch)),
	}
}

// normalizeUUID lowercases and strips dashes for consistent lookup
func normalizeUUID(uuid string) string {
	return strings.ReplaceAll(strings.ToLower(uuid), "-", "")
}

func (c *connection) ready() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.isReady
}

func (c *connection) characteristic(uuid string) (*ble.Characteristic, bool) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	char, ok := c.chars[normalizeUUID(uuid)]
	return char, ok
}

// establish dials, discovers the profile and wires notifications
func (c *connection) establish(context.Context) {
	c.logger.WithField("timeout", c.t.opts.ConnectTimeout).Info("Connecting to BLE device...")

	dialCtx, cancel := context.WithTimeout(c.ctx, c.t.opts.ConnectTimeout)
	defer cancel()

	client, err := c.t.adapter.Dial(dialCtx, c.address)
	if err != nil {
		if cause := context.Cause(c.ctx); cause != nil {
			err = cause
		}
		c.logger.WithField("error", err).Error("Failed to dial BLE device")
		c.close(device.FromContext("connect", c.id, err))
		return
	}

	c.logger.Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		c.logger.WithField("error", err).Error("Failed to discover profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		c.close(device.NewError(device.KindTransport, "connect", c.id, NormalizeError(err)))
		return
	}

	c.connMutex.Lock()
	if c.ctx.Err() != nil {
		// disconnected while dialing
		c.connMutex.Unlock()
		_ = client.CancelConnection()
		return
	}
	c.client = client
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			c.chars[normalizeUUID(char.UUID.String())] = char
		}
	}
	c.isReady = true
	chars := len(c.chars)
	c.connMutex.Unlock()

	c.logger.WithFields(logrus.Fields{
		"services":        len(profile.Services),
		"characteristics": chars,
	}).Info("BLE device connected successfully")
	c.t.publish(event.ConnectionStateChanged{DeviceID: c.id, Address: c.address, State: device.Connected})

	c.monitor(client)
	c.setup()
}

// monitor watches the go-ble Disconnected() channel where the client has one
func (c *connection) monitor(client GATTClient) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		c.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(context.Background(), "ble-connection-monitor-"+c.id, func(context.Context) {
		select {
		case <-dc.Disconnected():
			c.logger.Warn("Link lost")
			c.close(device.NewError(device.KindTransport, "link", c.id, device.ErrNotConnected))
		case <-c.ctx.Done():
		}
	})
}

// setup subscribes the PMD, heart rate and battery characteristics and reads
// device information. Every step is best effort.
func (c *connection) setup() {
	if char, ok := c.characteristic(pmd.ControlPointUUID); ok {
		if err := c.subscribe(char, true, c.onControlPoint); err == nil {
			c.readFeatures(char)
		}
	}
	if char, ok := c.characteristic(pmd.DataUUID); ok {
		_ = c.subscribe(char, false, c.onData)
	}
	if _, ok := c.characteristic(pmd.FileTransferUUID); ok {
		c.t.publish(event.FtpFeatureReady{DeviceID: c.id})
	}
	if char, ok := c.characteristic(pmd.HeartRateMeasurementUUID); ok {
		_ = c.subscribe(char, false, c.onHeartRate)
	}
	if char, ok := c.characteristic(pmd.BatteryLevelUUID); ok {
		if data, err := c.read(char); err == nil {
			c.onBattery(data)
		}
		_ = c.subscribe(char, false, c.onBattery)
	}
	for uuid, name := range pmd.DeviceInfoCharacteristics {
		char, ok := c.characteristic(uuid)
		if !ok {
			continue
		}
		data, err := c.read(char)
		if err != nil {
			continue
		}
		c.t.publish(event.DeviceInfoReceived{
			DeviceID: c.id,
			UUID:     uuid,
			Name:     name,
			Value:    strings.TrimRight(string(data), "\x00"),
		})
	}
}

func (c *connection) gattClient() (GATTClient, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	if c.client == nil || !c.isReady {
		return nil, device.ErrNotConnected
	}
	return c.client, nil
}

func (c *connection) subscribe(char *ble.Characteristic, indicate bool, h ble.NotificationHandler) error {
	client, err := c.gattClient()
	if err != nil {
		return err
	}
	err = NormalizeError(client.Subscribe(char, indicate, h))
	fields := logrus.Fields{"char_uuid": char.UUID.String(), "indicate": indicate}
	if err != nil {
		c.logger.WithFields(fields).WithField("error", err).Warn("Failed to subscribe to characteristic notifications")
		return err
	}
	c.logger.WithFields(fields).Debug("Subscribed to characteristic notifications")
	return nil
}

func (c *connection) read(char *ble.Characteristic) ([]byte, error) {
	client, err := c.gattClient()
	if err != nil {
		return nil, err
	}
	data, err := client.ReadCharacteristic(char)
	if err != nil {
		err = NormalizeError(err)
		c.logger.WithFields(logrus.Fields{
			"char_uuid": char.UUID.String(),
			"error":     err,
		}).Debug("Failed to read characteristic")
		return nil, err
	}
	return data, nil
}

func (c *connection) readFeatures(cp *ble.Characteristic) {
	data, err := c.read(cp)
	if err != nil {
		return
	}
	features, err := pmd.ParseFeatures(data)
	if err != nil {
		c.logger.WithField("error", err).Warn("Unreadable PMD features")
		return
	}
	c.logger.WithField("features", features.ToSlice()).Info("Streaming features ready")
	c.t.publish(event.StreamingFeaturesReady{DeviceID: c.id, Features: features})

	if pmd.SDKModeSupported(data) {
		c.logger.Info("SDK mode available")
		c.t.publish(event.SDKModeAvailable{DeviceID: c.id})
	}
}

func (c *connection) onBattery(data []byte) {
	if len(data) == 0 {
		return
	}
	c.t.publish(event.BatteryLevelReceived{DeviceID: c.id, Level: int(data[0])})
}

func (c *connection) onHeartRate(data []byte) {
	hr, err := pmd.ParseHeartRate(data)
	if err != nil {
		c.logger.WithField("error", err).Debug("Dropping malformed heart rate notification")
		return
	}
	c.hrReady.Do(func() {
		c.t.publish(event.HRFeatureReady{DeviceID: c.id})
	})
	c.t.publish(event.HeartRateReceived{
		DeviceID:         c.id,
		HR:               hr.HR,
		RRsMs:            hr.RRsMs,
		Contact:          hr.Contact,
		ContactSupported: hr.ContactSupported,
	})

	c.streamMu.RLock()
	handler := c.streams[device.FeatureHR]
	c.streamMu.RUnlock()
	if handler != nil {
		handler(device.SampleBatch{
			DeviceID:    c.id,
			Feature:     device.FeatureHR,
			TimestampNs: uint64(time.Now().UnixNano()),
			ReceivedAt:  time.Now(),
			Samples:     []int32{int32(hr.HR)},
		})
	}
}

func (c *connection) onControlPoint(data []byte) {
	frame := append([]byte(nil), data...)
	select {
	case c.responses <- frame:
	default:
		c.logger.WithField("frame", fmt.Sprintf("% x", frame)).Warn("Dropping unsolicited control point response")
	}
}

func (c *connection) onData(data []byte) {
	batch, err := pmd.ParseFrame(c.id, data, time.Now())
	if err != nil {
		c.logger.WithField("error", err).Debug("Dropping PMD frame")
		return
	}

	c.streamMu.RLock()
	handler := c.streams[batch.Feature]
	c.streamMu.RUnlock()
	if handler != nil {
		handler(batch)
	}
}

// command writes one control point request and waits for its response,
// collecting continuation frames into the parameters.
func (c *connection) command(ctx context.Context, req []byte) (pmd.Response, error) {
	cp, ok := c.characteristic(pmd.ControlPointUUID)
	if !ok {
		return pmd.Response{}, fmt.Errorf("PMD service: %w", device.ErrUnsupported)
	}
	client, err := c.gattClient()
	if err != nil {
		return pmd.Response{}, err
	}

	c.cmdMutex.Lock()
	defer c.cmdMutex.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.t.opts.CommandTimeout)
		defer cancel()
	}

	// drop responses left over from a timed out command
	for len(c.responses) > 0 {
		<-c.responses
	}

	c.logger.WithField("request", fmt.Sprintf("% x", req)).Debug("PMD request")
	if err := client.WriteCharacteristic(cp, req, false); err != nil {
		return pmd.Response{}, NormalizeError(err)
	}

	var resp pmd.Response
	for first := true; ; first = false {
		var frame []byte
		select {
		case frame = <-c.responses:
		case <-ctx.Done():
			return pmd.Response{}, ctx.Err()
		case <-c.ctx.Done():
			return pmd.Response{}, context.Cause(c.ctx)
		}

		part, err := pmd.ParseResponse(frame)
		if err != nil {
			return pmd.Response{}, err
		}
		if first {
			resp = part
		} else {
			resp.Params = append(resp.Params, part.Params...)
		}
		if !part.More {
			break
		}
	}

	if resp.Op != pmd.Opcode(req[0]) {
		return resp, fmt.Errorf("PMD response to op 0x%02x for request op 0x%02x", byte(resp.Op), req[0])
	}
	return resp, resp.Err()
}

func (c *connection) requestSettings(ctx context.Context, feature device.Feature, full bool) (device.Settings, error) {
	req, err := pmd.SettingsRequest(feature, full)
	if err != nil {
		return device.EmptySettings(), err
	}
	resp, err := c.command(ctx, req)
	if err != nil {
		return device.EmptySettings(), err
	}
	return pmd.ParseSettings(resp.Params)
}

// stream starts a measurement and blocks until ctx is done or the link drops
func (c *connection) stream(ctx context.Context, feature device.Feature, cfg device.Configuration, handler func(device.SampleBatch)) error {
	c.streamMu.Lock()
	if _, busy := c.streams[feature]; busy {
		c.streamMu.Unlock()
		return device.NewError(device.KindBusy, "stream", c.id, nil)
	}
	c.streams[feature] = handler
	c.streamMu.Unlock()

	defer func() {
		c.streamMu.Lock()
		delete(c.streams, feature)
		c.streamMu.Unlock()
	}()

	if feature != device.FeatureHR {
		req, err := pmd.StartRequest(feature, cfg)
		if err != nil {
			return err
		}
		if _, err := c.command(ctx, req); err != nil && !errors.Is(err, pmd.ErrAlreadyInState) {
			return err
		}
		defer c.stopMeasurement(feature)
	}
	c.logger.WithFields(logrus.Fields{
		"feature": feature,
		"config":  cfg,
	}).Info("Stream started")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return context.Cause(c.ctx)
	}
}

func (c *connection) stopMeasurement(feature device.Feature) {
	if c.ctx.Err() != nil {
		return
	}
	req, err := pmd.StopRequest(feature)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.t.opts.CommandTimeout)
	defer cancel()
	if _, err := c.command(ctx, req); err != nil {
		c.logger.WithFields(logrus.Fields{
			"feature": feature,
			"error":   err,
		}).Warn("Failed to stop measurement")
	}
}

// close tears the link down once. cause is nil for a requested disconnect.
func (c *connection) close(cause error) error {
	c.closeOnce.Do(func() {
		if cause != nil {
			c.cancel(cause)
		} else {
			c.cancel(device.ErrNotConnected)
		}

		c.connMutex.Lock()
		client := c.client
		chars := c.chars
		c.client = nil
		c.isReady = false
		c.connMutex.Unlock()

		if client != nil {
			c.logger.Info("Disconnecting BLE device...")
			for _, uuid := range []string{pmd.DataUUID, pmd.ControlPointUUID, pmd.HeartRateMeasurementUUID, pmd.BatteryLevelUUID} {
				if char, ok := chars[normalizeUUID(uuid)]; ok {
					c.tryUnsubscribe(client, char)
				}
			}
			c.closeErr = NormalizeError(client.CancelConnection())
		}

		c.t.forget(c)
		c.t.publish(event.ConnectionStateChanged{
			DeviceID: c.id,
			Address:  c.address,
			State:    device.Disconnected,
			Err:      cause,
		})
		if c.closeErr != nil {
			c.logger.WithField("error", c.closeErr).Warn("BLE device disconnected with errors")
		} else {
			c.logger.Info("BLE device disconnected")
		}
	})
	return c.closeErr
}

// tryUnsubscribe attempts to unsubscribe using both notify and indicate modes.
// Failures are only logged; the link is going away anyway.
func (c *connection) tryUnsubscribe(client GATTClient, char *ble.Characteristic) {
	err1 := NormalizeError(client.Unsubscribe(char, false))
	err2 := NormalizeError(client.Unsubscribe(char, true))
	if err1 != nil && err2 != nil {
		c.logger.WithFields(logrus.Fields{
			"char_uuid":   char.UUID.String(),
			"notifyErr":   err1,
			"indicateErr": err2,
		}).Debug("Failed to unsubscribe from characteristic notifications")
	}
}
