// Package stream owns measurement stream sessions. At most one live session
// exists per (device, feature) pair.
package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/device"
)

// Manager reserves and tracks stream sessions
type Manager struct {
	streamer     device.Streamer
	logger       *logrus.Logger
	startTimeout time.Duration
	barrier      func()

	mu    sync.Mutex // serializes reservation against release
	slots *hashmap.Map[string, *Session]
}

// Option configures a Manager
type Option func(*Manager)

// WithStartTimeout fails a started session that delivers no data within d
func WithStartTimeout(d time.Duration) Option {
	return func(m *Manager) { m.startTimeout = d }
}

// WithBarrier installs a func that Stop calls last, used to wait for a
// downstream delivery of the session's batches to finish.
func WithBarrier(barrier func()) Option {
	return func(m *Manager) { m.barrier = barrier }
}

// NewManager creates a session manager over streamer
func NewManager(streamer device.Streamer, logger *logrus.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	m := &Manager{
		streamer: streamer,
		logger:   logger,
		slots:    hashmap.New[string, *Session](),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func slotKey(deviceID string, feature device.Feature) string {
	return deviceID + "/" + feature.String()
}

// Reserve creates an Idle session for (deviceID, feature). A pair with a live
// session is rejected with ErrBusy.
func (m *Manager) Reserve(deviceID string, feature device.Feature, handlers Handlers) (*Session, error) {
	if err := device.ValidateID(deviceID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := slotKey(deviceID, feature)
	if cur, ok := m.slots.Get(key); ok && !cur.State().Terminal() {
		m.logger.WithFields(logrus.Fields{
			"device_id": deviceID,
			"feature":   feature,
			"session":   cur.id,
		}).Warn("Stream already running")
		return nil, &device.Error{
			Kind:     device.KindBusy,
			Op:       "stream",
			DeviceID: deviceID,
			Msg:      fmt.Sprintf("%s stream already %s", feature, cur.State()),
		}
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		deviceID: deviceID,
		feature:  feature,
		manager:  m,
		handlers: handlers,
		state:    device.SessionIdle,
		logger: m.logger.WithFields(logrus.Fields{
			"device_id": deviceID,
			"feature":   feature,
			"session":   id,
		}),
	}
	m.slots.Set(key, s)
	return s, nil
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := slotKey(s.deviceID, s.feature)
	if cur, ok := m.slots.Get(key); ok && cur == s {
		m.slots.Del(key)
	}
}

// Lookup returns the live session of (deviceID, feature)
func (m *Manager) Lookup(deviceID string, feature device.Feature) (*Session, bool) {
	return m.slots.Get(slotKey(deviceID, feature))
}

// Sessions returns all live sessions
func (m *Manager) Sessions() []*Session {
	out := make([]*Session, 0, m.slots.Len())
	m.slots.Range(func(_ string, s *Session) bool {
		out = append(out, s)
		return true
	})
	return out
}

// StopAll stops every live session and waits for the transport to release them
func (m *Manager) StopAll() {
	sessions := m.Sessions()
	for _, s := range sessions {
		s.Stop()
	}
	for _, s := range sessions {
		s.Wait()
	}
}
