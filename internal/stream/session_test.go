package stream_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/stream"
	"github.com/srg/sensorbridge/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const deviceID = "A1B2C3D4"

type collector struct {
	mu      sync.Mutex
	batches []device.SampleBatch
	states  []device.SessionState
	errs    []error
}

func (c *collector) handlers() stream.Handlers {
	return stream.Handlers{
		OnBatch: func(b device.SampleBatch) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.batches = append(c.batches, b)
		},
		OnState: func(state device.SessionState, err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.states = append(c.states, state)
			c.errs = append(c.errs, err)
		},
	}
}

func (c *collector) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) stateLog() []device.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]device.SessionState(nil), c.states...)
}

func ecgBatch(ts uint64, samples ...int32) device.SampleBatch {
	return device.SampleBatch{DeviceID: deviceID, Feature: device.FeatureECG, TimestampNs: ts, Samples: samples}
}

func ecgConfig() device.Configuration {
	return device.Configuration{}.With(device.SettingSampleRate, 130).With(device.SettingResolution, 14)
}

type StreamTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
}

func (s *StreamTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
}

func (s *StreamTestSuite) TestCompletedStreamDeliversAllBatches() {
	// GOAL: Verify every batch is handed over in order and a transport-ended stream is Completed
	//
	// TEST SCENARIO: transport emits 3 batches then ends → Idle, Active, Completed → slot released
	tr := testutils.NewFakeTransport().
		WithStreamBatches(device.FeatureECG, ecgBatch(1, 10, 11), ecgBatch(2, 12), ecgBatch(3, 13, 14, 15)).
		WithCompletingStream()
	m := stream.NewManager(tr, s.helper.Logger)

	c := &collector{}
	session, err := m.Reserve(deviceID, device.FeatureECG, c.handlers())
	s.Require().NoError(err)
	s.Equal(device.SessionIdle, session.State())

	s.Require().NoError(session.Start(context.Background(), ecgConfig()))
	session.Wait()

	s.Equal(device.SessionCompleted, session.State())
	s.NoError(session.Err())
	s.Equal([]device.SessionState{device.SessionActive, device.SessionCompleted}, c.stateLog())
	s.Equal(3, c.batchCount())
	c.mu.Lock()
	for i, b := range c.batches {
		s.Equal(uint64(i+1), b.TimestampNs, "batches MUST keep transport order")
	}
	c.mu.Unlock()
	batches, samples := session.Stats()
	s.Equal(uint64(3), batches)
	s.Equal(uint64(6), samples)

	calls := tr.Streams()
	s.Require().Len(calls, 1)
	s.Equal("{sample_rate:130 resolution:14}", calls[0].Config.String(), "negotiated configuration MUST reach the transport")

	_, live := m.Lookup(deviceID, device.FeatureECG)
	s.False(live, "terminal session MUST release its slot")
}

func (s *StreamTestSuite) TestSecondStreamOnSamePairIsBusy() {
	// GOAL: Verify at most one live session per (device, feature)
	tr := testutils.NewFakeTransport()
	m := stream.NewManager(tr, s.helper.Logger)

	first, err := m.Reserve(deviceID, device.FeatureECG, stream.Handlers{})
	s.Require().NoError(err)

	_, err = m.Reserve(deviceID, device.FeatureECG, stream.Handlers{})
	s.ErrorIs(err, device.ErrBusy)

	other, err := m.Reserve(deviceID, device.FeatureACC, stream.Handlers{})
	s.Require().NoError(err, "another feature on the same device MUST be allowed")
	other.Stop()

	s.Require().NoError(first.Start(context.Background(), ecgConfig()))
	s.ErrorIs(first.Start(context.Background(), ecgConfig()), device.ErrBusy, "a session starts once")
	first.Stop()
	first.Wait()

	again, err := m.Reserve(deviceID, device.FeatureECG, stream.Handlers{})
	s.Require().NoError(err, "a stopped pair MUST be reservable again")
	again.Stop()
}

func (s *StreamTestSuite) TestStopIsSynchronous() {
	// GOAL: Verify no batch is delivered once Stop returned, even when the transport keeps sending
	//
	// TEST SCENARIO: steady stream → stop mid-stream → transport emits late batches → none delivered
	var batches []device.SampleBatch
	for i := 0; i < 200; i++ {
		batches = append(batches, ecgBatch(uint64(i), int32(i)))
	}
	tr := testutils.NewFakeTransport().
		WithStreamBatches(device.FeatureECG, batches...).
		WithLateBatches(device.FeatureECG, ecgBatch(999, 999)).
		WithBatchPeriod(time.Millisecond)

	barrierCalls := 0
	m := stream.NewManager(tr, s.helper.Logger, stream.WithBarrier(func() { barrierCalls++ }))
	c := &collector{}
	session, err := m.Reserve(deviceID, device.FeatureECG, c.handlers())
	s.Require().NoError(err)
	s.Require().NoError(session.Start(context.Background(), ecgConfig()))

	s.Eventually(func() bool { return c.batchCount() >= 3 }, 2*time.Second, time.Millisecond)
	session.Stop()
	delivered := c.batchCount()
	session.Stop()
	session.Wait()

	s.Equal(delivered, c.batchCount(), "no batch MUST be delivered after stop returned")
	s.Equal(device.SessionCancelled, session.State())
	s.ErrorIs(session.Err(), device.ErrCancelled)
	s.Equal([]device.SessionState{device.SessionActive, device.SessionCancelled}, c.stateLog())
	s.Equal(1, barrierCalls)
}

func (s *StreamTestSuite) TestTransportErrorFails() {
	// GOAL: Verify a transport error fails the session, with no retry
	linkLost := errors.New("link lost")
	tr := testutils.NewFakeTransport().
		WithStreamBatches(device.FeatureECG, ecgBatch(1, 1)).
		WithStreamError(linkLost)
	m := stream.NewManager(tr, s.helper.Logger)

	c := &collector{}
	session, err := m.Reserve(deviceID, device.FeatureECG, c.handlers())
	s.Require().NoError(err)
	s.Require().NoError(session.Start(context.Background(), ecgConfig()))
	session.Wait()

	s.Equal(device.SessionFailed, session.State())
	s.ErrorIs(session.Err(), device.ErrTransport)
	s.ErrorIs(session.Err(), linkLost)
	s.Len(tr.Streams(), 1, "failed streams MUST NOT be retried")
	s.True(s.helper.HasLogged("Stream failed"))
}

func (s *StreamTestSuite) TestFailBeforeStart() {
	// GOAL: Verify a negotiation failure moves an Idle session to Failed and no data flows
	tr := testutils.NewFakeTransport()
	m := stream.NewManager(tr, s.helper.Logger)

	c := &collector{}
	session, err := m.Reserve(deviceID, device.FeatureECG, c.handlers())
	s.Require().NoError(err)

	session.Fail(device.NewError(device.KindSettingsUnavailable, "negotiate", deviceID, nil))
	session.Wait()

	s.Equal(device.SessionFailed, session.State())
	s.ErrorIs(session.Err(), device.ErrSettingsUnavailable)
	s.Empty(tr.Streams())
	s.Zero(c.batchCount())

	session.Fail(errors.New("ignored"))
	s.ErrorIs(session.Err(), device.ErrSettingsUnavailable, "terminal state MUST NOT change")
}

func (s *StreamTestSuite) TestStartTimeout() {
	// GOAL: Verify a stream delivering no data within the start timeout fails with ErrTimeout
	tr := testutils.NewFakeTransport()
	m := stream.NewManager(tr, s.helper.Logger, stream.WithStartTimeout(30*time.Millisecond))

	session, err := m.Reserve(deviceID, device.FeatureECG, stream.Handlers{})
	s.Require().NoError(err)
	s.Require().NoError(session.Start(context.Background(), ecgConfig()))
	session.Wait()

	s.Equal(device.SessionFailed, session.State())
	s.ErrorIs(session.Err(), device.ErrTimeout)
}

func (s *StreamTestSuite) TestQuietStreamWithoutStartTimeout() {
	// GOAL: Verify a stream without a start timeout waits for late data instead of failing
	//
	// TEST SCENARIO: no start timeout → first batch after 100ms → delivered → transport ends → Completed
	tr := testutils.NewFakeTransport().
		WithStreamBatches(device.FeatureECG, ecgBatch(1, 10)).
		WithBatchPeriod(100 * time.Millisecond).
		WithCompletingStream()
	m := stream.NewManager(tr, s.helper.Logger)

	c := &collector{}
	session, err := m.Reserve(deviceID, device.FeatureECG, c.handlers())
	s.Require().NoError(err)
	s.Require().NoError(session.Start(context.Background(), ecgConfig()))
	session.Wait()

	s.Equal(device.SessionCompleted, session.State(), "a quiet stream MUST NOT fail on its own")
	s.NoError(session.Err())
	s.Equal(1, c.batchCount())
}

func (s *StreamTestSuite) TestStopAll() {
	tr := testutils.NewFakeTransport()
	m := stream.NewManager(tr, s.helper.Logger)

	for _, f := range []device.Feature{device.FeatureECG, device.FeatureACC} {
		session, err := m.Reserve(deviceID, f, stream.Handlers{})
		s.Require().NoError(err)
		s.Require().NoError(session.Start(context.Background(), ecgConfig()))
	}
	s.Len(m.Sessions(), 2)

	m.StopAll()
	s.Empty(m.Sessions())
}

func (s *StreamTestSuite) TestRejectsMalformedDevice() {
	m := stream.NewManager(testutils.NewFakeTransport(), s.helper.Logger)
	_, err := m.Reserve("", device.FeatureECG, stream.Handlers{})
	s.ErrorIs(err, device.ErrInvalidArgument)
}

func TestStreamTestSuite(t *testing.T) {
	suite.Run(t, new(StreamTestSuite))
}
