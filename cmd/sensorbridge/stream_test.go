package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/srg/sensorbridge/internal/device"
	"github.com/stretchr/testify/suite"
)

type StreamTestSuite struct {
	CommandTestSuite
}

func (s *StreamTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.transport.
		WithKnownDevice(testDeviceID).
		WithFeatures(device.FeatureECG, device.FeatureACC).
		WithAvailableSettings(device.FeatureECG, device.EmptySettings().With(device.SettingSampleRate, 130)).
		WithStreamBatches(device.FeatureECG, ecgBatch(1000, 1, 2, 3), ecgBatch(2000, -4, 5, 6))
}

func (s *StreamTestSuite) TestStreamsUntilCompletion() {
	// GOAL: Verify stream prints one line per batch and a summary when the stream ends on its own
	//
	// TEST SCENARIO: 2 batches then completion → 2 table lines, states active/completed, "2 batches, 6 samples"

	s.transport.WithCompletingStream()

	out, errOut, err := s.ExecuteCommand("stream", testDeviceID)
	s.Require().NoError(err)

	s.Text().Assert(out, "1000\tecg\t1 2 3\n2000\tecg\t-4 5 6")
	s.Text().Assert(errOut, `
A1B2C3D4: connecting
A1B2C3D4: connected
A1B2C3D4 ecg stream: active
A1B2C3D4 ecg stream: completed
2 batches, 6 samples
`)

	streams := s.transport.Streams()
	s.Require().Len(streams, 1)
	s.Equal("{sample_rate:130}", streams[0].Config.String(), "the stream MUST start with the negotiated configuration")
}

func (s *StreamTestSuite) TestStreamsForDurationAsJSON() {
	// GOAL: Verify --duration stops a running stream and json output prints one object per batch
	//
	// TEST SCENARIO: stream never ends, -d 300ms -f json → 2 json lines, stream cancelled, summary printed

	out, errOut, err := s.ExecuteCommand("stream", testDeviceID, "-d", "300ms", "-f", "json")
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().Len(lines, 2)
	s.JSON().Assert(lines[0], `{"device_id": "A1B2C3D4", "feature": "ecg", "timestamp_ns": 1000, "samples": [1, 2, 3], "received_at": "<<PRESENCE>>"}`)
	s.JSON().Assert(lines[1], `{"device_id": "A1B2C3D4", "feature": "ecg", "timestamp_ns": 2000, "samples": [-4, 5, 6]}`)

	s.Contains(errOut, "A1B2C3D4 ecg stream: cancelled")
	s.Contains(errOut, "2 batches, 6 samples")
}

func (s *StreamTestSuite) TestStreamFailure() {
	// GOAL: Verify a transport failure ends the command with the cause
	//
	// TEST SCENARIO: stream fails after its batches → error, failed state printed, no summary

	s.transport.WithStreamError(errors.New("pmd: link lost"))

	out, errOut, err := s.ExecuteCommand("stream", testDeviceID)
	s.Require().Error(err)
	s.Contains(err.Error(), "pmd: link lost")
	s.Len(strings.Split(strings.TrimSpace(out), "\n"), 2, "batches delivered before the failure MUST be printed")
	s.Contains(errOut, "A1B2C3D4 ecg stream: failed")
	s.NotContains(errOut, "batches,")
}

func (s *StreamTestSuite) TestSettingsUnavailable() {
	// GOAL: Verify a stream without usable settings fails without opening the transport stream
	//
	// TEST SCENARIO: acc offered without settings → failed, ErrSettingsUnavailable, no StartStreaming call

	_, errOut, err := s.ExecuteCommand("stream", testDeviceID, "--feature", "acc")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrSettingsUnavailable)
	s.Contains(errOut, "A1B2C3D4 acc stream: failed (device A1B2C3D4 offers no usable stream settings)")
	s.Empty(s.transport.Streams())
}

func TestStreamTestSuite(t *testing.T) {
	suite.Run(t, new(StreamTestSuite))
}
