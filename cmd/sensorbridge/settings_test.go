package main

import (
	"testing"

	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type SettingsTestSuite struct {
	CommandTestSuite
}

func (s *SettingsTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.transport.
		WithKnownDevice(testDeviceID).
		WithFeatures(device.FeatureECG, device.FeatureACC).
		WithAvailableSettings(device.FeatureECG, device.EmptySettings().
			With(device.SettingSampleRate, 130).
			With(device.SettingResolution, 14)).
		WithFullSettings(device.FeatureECG, device.EmptySettings().
			With(device.SettingSampleRate, 130, 250, 500).
			With(device.SettingResolution, 14))
}

func (s *SettingsTestSuite) TestNegotiatedSettingsAsJSON() {
	// GOAL: Verify settings prints both candidates and the per-dimension maximum of the available one
	//
	// TEST SCENARIO: available {rate:[130] res:[14]}, full {rate:[130 250 500] res:[14]} → config {rate:130 res:14}

	out, _, err := s.ExecuteCommand("settings", testDeviceID, "--feature", "ecg", "-f", "json")
	s.Require().NoError(err)

	s.JSON().WithOptions(testutils.WithIgnoreExtraKeys(false)).Assert(out, `{
		"device_id": "A1B2C3D4",
		"feature": "ecg",
		"available": {"sample_rate": [130], "resolution": [14]},
		"full": {"sample_rate": [130, 250, 500], "resolution": [14]},
		"config": {"sample_rate": 130, "resolution": 14}
	}`)
	s.Empty(s.transport.Streams(), "settings MUST NOT start a stream")
}

func (s *SettingsTestSuite) TestNegotiatedSettingsAsTable() {
	// GOAL: Verify the table rendering of a negotiation
	//
	// TEST SCENARIO: settings (table) → feature, both candidates and the selected configuration

	out, _, err := s.ExecuteCommand("settings", testDeviceID)
	s.Require().NoError(err)

	s.Text().WithOptions(testutils.WithCollapseSpaces(true)).Assert(out, `
Feature: ecg
Available: {sample_rate:[130] resolution:[14]}
Full: {sample_rate:[130 250 500] resolution:[14]}
Selected: {sample_rate:130 resolution:14}
`)
}

func (s *SettingsTestSuite) TestFeatureNotOffered() {
	// GOAL: Verify a feature the device did not report ready is refused before querying settings
	//
	// TEST SCENARIO: device offers ecg+acc, settings --feature ppg → ErrFeatureUnsupported, no query

	_, _, err := s.ExecuteCommand("settings", testDeviceID, "--feature", "ppg")
	s.Require().Error(err)
	s.ErrorIs(err, ErrFeatureUnsupported)
	s.Zero(s.transport.SettingsQueries())
}

func (s *SettingsTestSuite) TestNoUsableSettings() {
	// GOAL: Verify a feature without available settings reports SettingsUnavailable
	//
	// TEST SCENARIO: acc offered but no settings scripted → ErrSettingsUnavailable

	_, _, err := s.ExecuteCommand("settings", testDeviceID, "--feature", "acc")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrSettingsUnavailable)
}

func (s *SettingsTestSuite) TestUnknownFeature() {
	// GOAL: Verify an unknown feature name is rejected before connecting
	//
	// TEST SCENARIO: --feature temperature → error, transport untouched

	_, _, err := s.ExecuteCommand("settings", testDeviceID, "--feature", "temperature")
	s.Require().Error(err)
	s.Contains(err.Error(), `unknown feature "temperature"`)
	s.Empty(s.transport.Connects())
}

func TestSettingsTestSuite(t *testing.T) {
	suite.Run(t, new(SettingsTestSuite))
}
