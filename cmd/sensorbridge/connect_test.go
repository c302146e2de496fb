package main

import (
	"errors"
	"testing"

	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/event"
	"github.com/srg/sensorbridge/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ConnectTestSuite struct {
	CommandTestSuite
}

func (s *ConnectTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.transport.
		WithKnownDevice(testDeviceID).
		WithFeatures(device.FeatureECG, device.FeatureACC, device.FeatureHR).
		WithConnectEvents(
			event.BatteryLevelReceived{DeviceID: testDeviceID, Level: 87},
			event.DeviceInfoReceived{DeviceID: testDeviceID, UUID: "2a29", Name: "manufacturer_name", Value: "Polar Electro Oy"},
		)
}

func (s *ConnectTestSuite) TestReportsDeviceRecordAsJSON() {
	// GOAL: Verify connect collects battery, device information and features
	//
	// TEST SCENARIO: connect -f json → record with battery 87, manufacturer, ecg+acc, HR ready → disconnected on exit

	out, errOut, err := s.ExecuteCommand("connect", testDeviceID, "--wait", "200ms", "-f", "json")
	s.Require().NoError(err)

	s.JSON().Assert(out, `{
		"device_id": "A1B2C3D4",
		"state": "connected",
		"battery_level": 87,
		"info": {"manufacturer_name": "Polar Electro Oy"},
		"features": ["ecg", "acc"],
		"hr_ready": true
	}`)
	s.Text().Assert(errOut, `
A1B2C3D4: connecting
A1B2C3D4: connected
`)
	s.Equal([]string{testDeviceID}, s.transport.Disconnects(), "the device MUST be released on exit")
}

func (s *ConnectTestSuite) TestReportsDeviceRecordAsTable() {
	// GOAL: Verify the table rendering of the device record
	//
	// TEST SCENARIO: connect (table) → one line per known field

	out, _, err := s.ExecuteCommand("connect", testDeviceID, "--wait", "200ms")
	s.Require().NoError(err)

	s.Text().WithOptions(testutils.WithCollapseSpaces(true)).Assert(out, `
Device: A1B2C3D4
State: connected
Battery: 87%
manufacturer name: Polar Electro Oy
Features: ecg, acc
Heart rate: true
`)
}

func (s *ConnectTestSuite) TestMalformedID() {
	// GOAL: Verify a malformed id is rejected without reaching the transport
	//
	// TEST SCENARIO: connect ZZ → InvalidArgument with a readable message

	_, _, err := s.ExecuteCommand("connect", "ZZ")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrInvalidArgument)
	s.Equal("invalid device ZZ: device id is malformed", FormatUserError(err))
	s.Empty(s.transport.Connects(), "the transport MUST NOT be called")
}

func (s *ConnectTestSuite) TestConnectionFailure() {
	// GOAL: Verify a connection dropped while connecting is reported with its cause
	//
	// TEST SCENARIO: transport disconnects with "connection refused" → error wraps the cause

	s.transport.WithConnectError(errors.New("connection refused"))

	out, errOut, err := s.ExecuteCommand("connect", testDeviceID)
	s.Require().Error(err)
	s.Contains(err.Error(), "connection refused")
	s.Empty(out)
	s.Contains(errOut, "A1B2C3D4: disconnected (connection refused)")
}

func (s *ConnectTestSuite) TestUnknownDevice() {
	// GOAL: Verify an immediate transport refusal is returned synchronously
	//
	// TEST SCENARIO: connect an id the transport does not know → InvalidArgument "unknown device"

	_, _, err := s.ExecuteCommand("connect", "0A0B0C0D")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrInvalidArgument)
	s.Equal("invalid device 0A0B0C0D: unknown device", FormatUserError(err))
}

func TestConnectTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectTestSuite))
}
