package bridge_test

import (
	"context"
	"sync"
	"time"

	"github.com/srg/sensorbridge/bridge"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/event"
	"github.com/srg/sensorbridge/internal/testutils"
	"github.com/srg/sensorbridge/pkg/config"
	"github.com/stretchr/testify/suite"
)

const deviceID = "A1B2C3D4"

// flushEvent is published by tests to wait until everything queued before it was delivered
type flushEvent struct {
	done chan struct{}
}

func (flushEvent) EventName() string { return "flush" }

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) observe(ev event.Event) {
	if f, ok := ev.(flushEvent); ok {
		close(f.done)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func eventsOf[T event.Event](r *recorder) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []T
	for _, ev := range r.events {
		if typed, ok := ev.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// BridgeSuite wires a Bridge over a FakeTransport and records every event
// it delivers.
type BridgeSuite struct {
	suite.Suite

	helper    *testutils.TestHelper
	cfg       *config.Config
	transport *testutils.FakeTransport
	bridge    *bridge.Bridge
	events    *recorder
}

func (s *BridgeSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.cfg = config.DefaultConfig()
	s.cfg.ScanTimeout = 0
	s.cfg.SettingsTimeout = 2 * time.Second
	s.cfg.StreamStartTimeout = 0
	s.transport = testutils.NewFakeTransport()
	s.bridge = nil
}

func (s *BridgeSuite) TearDownTest() {
	if s.bridge != nil {
		s.NoError(s.bridge.Close())
		s.bridge = nil
	}
}

// startBridge creates and starts the bridge once the transport is scripted
func (s *BridgeSuite) startBridge() *bridge.Bridge {
	s.events = &recorder{}
	s.bridge = bridge.New(s.transport, s.cfg, s.helper.Logger)
	s.bridge.Events().Subscribe(s.events.observe)
	s.bridge.Start(context.Background())
	return s.bridge
}

// flush waits until every event published so far was delivered
func (s *BridgeSuite) flush() {
	done := make(chan struct{})
	s.bridge.Events().Publish(flushEvent{done: done})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.FailNow("timed out flushing events")
	}
}

func (s *BridgeSuite) waitForEvents(what string, cond func() bool) {
	s.Require().Eventually(cond, 3*time.Second, 5*time.Millisecond, "waiting for %s", what)
}

func (s *BridgeSuite) streamStates() []device.SessionState {
	var out []device.SessionState
	for _, e := range eventsOf[event.StreamStateChanged](s.events) {
		out = append(out, e.State)
	}
	return out
}

func ecgBatch(ts uint64, samples ...int32) device.SampleBatch {
	return device.SampleBatch{DeviceID: deviceID, Feature: device.FeatureECG, TimestampNs: ts, Samples: samples}
}
