// Package connection issues connect and disconnect requests on behalf of the
// bridge. Requests are fire-and-forget; progress is observed through
// connection-state events published by the transport.
package connection

import (
	"errors"
	"fmt"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/device"
)

// Manager validates identifiers and forwards requests to the transport
type Manager struct {
	connector device.Connector
	owned     *hashmap.Map[string, struct{}]
	logger    *logrus.Logger
}

// NewManager creates a connection manager over connector
func NewManager(connector device.Connector, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		connector: connector,
		owned:     hashmap.New[string, struct{}](),
		logger:    logger,
	}
}

// Connect requests a connection to id. A malformed id fails with
// ErrInvalidArgument before the transport is involved.
func (m *Manager) Connect(id string) error {
	if err := device.ValidateID(id); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device_id": id,
			"error":     err,
		}).Warn("Rejected connection request")
		return err
	}

	m.logger.WithField("device_id", id).Info("Connecting to device...")
	if err := m.connector.ConnectDevice(id); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device_id": id,
			"error":     err,
		}).Error("Connection request failed")
		return wrap("connect", id, err)
	}
	m.owned.Set(id, struct{}{})
	return nil
}

// Disconnect requests id to be disconnected
func (m *Manager) Disconnect(id string) error {
	if err := device.ValidateID(id); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device_id": id,
			"error":     err,
		}).Warn("Rejected disconnection request")
		return err
	}

	m.logger.WithField("device_id", id).Info("Disconnecting from device...")
	m.owned.Del(id)
	if err := m.connector.DisconnectDevice(id); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device_id": id,
			"error":     err,
		}).Error("Disconnection request failed")
		return wrap("disconnect", id, err)
	}
	return nil
}

// Owned reports whether a connection to id was requested and not released
func (m *Manager) Owned(id string) bool {
	_, ok := m.owned.Get(id)
	return ok
}

// OwnedIDs returns the ids with outstanding connection requests
func (m *Manager) OwnedIDs() []string {
	ids := make([]string, 0, m.owned.Len())
	m.owned.Range(func(id string, _ struct{}) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// DisconnectAll disconnects every owned device and returns the joined errors
func (m *Manager) DisconnectAll() error {
	var errs []error
	for _, id := range m.OwnedIDs() {
		if err := m.Disconnect(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// wrap keeps already-classified errors and tags everything else as a
// transport failure.
func wrap(op, id string, err error) error {
	var derr *device.Error
	if errors.As(err, &derr) {
		return err
	}
	if device.IsLinkCondition(err, device.AlreadyConnected) || device.IsLinkCondition(err, device.NotConnected) {
		return fmt.Errorf("%s %q: %w", op, id, err)
	}
	return device.NewError(device.KindTransport, op, id, err)
}
