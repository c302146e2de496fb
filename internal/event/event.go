// Package event carries everything the bridge reports to its observers as
// typed, tagged events and delivers them from a single owner goroutine.
package event

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/srg/sensorbridge/internal/device"
)

// Event is implemented by every tagged event type
type Event interface {
	EventName() string
}

// Sink accepts events for later delivery. Publish never blocks.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ev Event)

// Publish implements Sink
func (f SinkFunc) Publish(ev Event) { f(ev) }

// Discard is a Sink that drops everything
var Discard Sink = SinkFunc(func(Event) {})

// PowerStateChanged reports the adapter power state
type PowerStateChanged struct {
	Powered bool
}

func (PowerStateChanged) EventName() string { return "power_state_changed" }

// ConnectionStateChanged reports a device connection transition
type ConnectionStateChanged struct {
	DeviceID string
	Address  string
	State    device.ConnectionState
	Err      error // cause of an unexpected Disconnected, nil otherwise
}

func (ConnectionStateChanged) EventName() string { return "connection_state_changed" }

// DeviceFound is one discovery result of the search session SessionID
type DeviceFound struct {
	SessionID string
	Device    device.Descriptor
}

func (DeviceFound) EventName() string { return "device_found" }

// SearchTerminated is the single terminal event of a search session.
// Err is nil on completion and ErrCancelled when the caller stopped it.
type SearchTerminated struct {
	SessionID string
	State     device.SessionState
	Err       error
}

func (SearchTerminated) EventName() string { return "search_terminated" }

// StreamingFeaturesReady lists the measurement streams a connected device offers
type StreamingFeaturesReady struct {
	DeviceID string
	Features mapset.Set[device.Feature]
}

func (StreamingFeaturesReady) EventName() string { return "streaming_features_ready" }

// HRFeatureReady means heart-rate notifications are about to start
type HRFeatureReady struct {
	DeviceID string
}

func (HRFeatureReady) EventName() string { return "hr_feature_ready" }

// FtpFeatureReady means the device exposes the Polar file transfer service
type FtpFeatureReady struct {
	DeviceID string
}

func (FtpFeatureReady) EventName() string { return "ftp_feature_ready" }

// SDKModeAvailable means the device can be switched into SDK mode, which
// unlocks stream settings beyond the defaults.
type SDKModeAvailable struct {
	DeviceID string
}

func (SDKModeAvailable) EventName() string { return "sdk_mode_available" }

// DeviceInfoReceived carries one Device Information Service string
type DeviceInfoReceived struct {
	DeviceID string
	UUID     string
	Name     string
	Value    string
}

func (DeviceInfoReceived) EventName() string { return "device_info_received" }

// BatteryLevelReceived carries the battery level in percent
type BatteryLevelReceived struct {
	DeviceID string
	Level    int
}

func (BatteryLevelReceived) EventName() string { return "battery_level_received" }

// HeartRateReceived carries one heart-rate measurement notification
type HeartRateReceived struct {
	DeviceID         string
	HR               int
	RRsMs            []int
	Contact          bool
	ContactSupported bool
}

func (HeartRateReceived) EventName() string { return "heart_rate_received" }

// SettingsNegotiated reports the outcome of a settings negotiation, with both
// candidate sets, whether or not a configuration could be derived.
type SettingsNegotiated struct {
	DeviceID  string
	Feature   device.Feature
	Available device.Settings
	Full      device.Settings
	Config    device.Configuration
	Err       error
}

func (SettingsNegotiated) EventName() string { return "settings_negotiated" }

// StreamStateChanged reports a stream session transition
type StreamStateChanged struct {
	DeviceID string
	Feature  device.Feature
	State    device.SessionState
	Err      error
}

func (StreamStateChanged) EventName() string { return "stream_state_changed" }

// SamplesReceived carries one batch of an active stream
type SamplesReceived struct {
	Batch device.SampleBatch
}

func (SamplesReceived) EventName() string { return "samples_received" }
