package main

import (
	"bytes"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/bridge"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/testutils"
	"github.com/srg/sensorbridge/pkg/config"
	"github.com/stretchr/testify/suite"
)

const testDeviceID = "A1B2C3D4"

// CommandTestSuite runs the command tree against a scripted transport.
// All cmd/sensorbridge test suites should embed it.
type CommandTestSuite struct {
	suite.Suite

	transport         *testutils.FakeTransport
	originalTransport func(*config.Config, *logrus.Logger) (bridge.Transport, func() error, error)
}

// SetupTest injects a fresh FakeTransport in place of the BLE adapter
func (s *CommandTestSuite) SetupTest() {
	s.transport = testutils.NewFakeTransport()
	s.originalTransport = newTransport
	newTransport = func(*config.Config, *logrus.Logger) (bridge.Transport, func() error, error) {
		return s.transport, nil, nil
	}
}

// TearDownTest restores the BLE transport factory
func (s *CommandTestSuite) TearDownTest() {
	newTransport = s.originalTransport
}

// ExecuteCommand runs the root command with args and returns what it wrote
// to stdout and stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd := newRootCmd()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// JSON returns an asserter reporting to the running test
func (s *CommandTestSuite) JSON() *testutils.JSONAsserter {
	return testutils.NewJSONAsserter(s.T())
}

// Text returns an asserter reporting to the running test
func (s *CommandTestSuite) Text() *testutils.TextAsserter {
	return testutils.NewTextAsserter(s.T())
}

func ecgBatch(ts uint64, samples ...int32) device.SampleBatch {
	return device.SampleBatch{DeviceID: testDeviceID, Feature: device.FeatureECG, TimestampNs: ts, Samples: samples}
}
