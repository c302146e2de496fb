package registry_test

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/event"
	"github.com/srg/sensorbridge/internal/registry"
	"github.com/srg/sensorbridge/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ConnectionTransitions(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	r := registry.New(helper.Logger)

	t.Run("unknown device is disconnected with no transitions", func(t *testing.T) {
		assert.Equal(t, device.Disconnected, r.State("A1B2C3D4"))
		assert.Empty(t, r.Transitions("A1B2C3D4"))
		assert.False(t, r.Known("A1B2C3D4"))
	})

	t.Run("records transitions in order and skips repeats", func(t *testing.T) {
		for _, st := range []device.ConnectionState{device.Connecting, device.Connecting, device.Connected, device.Disconnected} {
			r.Observe(event.ConnectionStateChanged{DeviceID: "A1B2C3D4", Address: "AA:BB:CC:DD:EE:FF", State: st})
		}

		assert.Equal(t, device.Disconnected, r.State("A1B2C3D4"))
		assert.Equal(t, []device.ConnectionState{device.Connecting, device.Connected, device.Disconnected}, r.Transitions("A1B2C3D4"))

		rec, ok := r.Lookup("A1B2C3D4")
		require.True(t, ok)
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", rec.Address)
	})

	t.Run("events without device id are ignored", func(t *testing.T) {
		r.Observe(event.ConnectionStateChanged{State: device.Connected})
		assert.Len(t, r.Snapshot(), 1)
	})
}

func TestRegistry_DeviceObservations(t *testing.T) {
	r := registry.New(nil)
	const id = "A1B2C3D4"

	assert.Equal(t, registry.PowerUnknown, r.Power())
	r.Observe(event.PowerStateChanged{Powered: true})
	assert.Equal(t, registry.PowerOn, r.Power())
	r.Observe(event.PowerStateChanged{Powered: false})
	assert.Equal(t, registry.PowerOff, r.Power())

	r.Observe(event.ConnectionStateChanged{DeviceID: id, State: device.Connected})
	r.Observe(event.BatteryLevelReceived{DeviceID: id, Level: 87})
	r.Observe(event.DeviceInfoReceived{DeviceID: id, UUID: "2a29", Name: "manufacturer_name", Value: "Polar Electro Oy"})
	r.Observe(event.DeviceInfoReceived{DeviceID: id, UUID: "2a26", Value: "3.0.35"})
	r.Observe(event.StreamingFeaturesReady{DeviceID: id, Features: mapset.NewSet(device.FeatureACC, device.FeatureECG)})
	r.Observe(event.HRFeatureReady{DeviceID: id})
	r.Observe(event.FtpFeatureReady{DeviceID: id})
	r.Observe(event.SDKModeAvailable{DeviceID: id})

	rec, ok := r.Lookup(id)
	require.True(t, ok)
	require.NotNil(t, rec.BatteryLevel)
	assert.Equal(t, 87, *rec.BatteryLevel)
	assert.Equal(t, map[string]string{"manufacturer_name": "Polar Electro Oy", "2a26": "3.0.35"}, rec.Info)
	assert.Equal(t, []device.Feature{device.FeatureECG, device.FeatureACC}, rec.Features)
	assert.True(t, rec.HRReady)
	assert.True(t, rec.FTPReady)
	assert.True(t, rec.SDKMode)

	r.Observe(event.ConnectionStateChanged{DeviceID: id, State: device.Disconnected})
	rec, _ = r.Lookup(id)
	assert.Empty(t, rec.Features, "features MUST be cleared on disconnect")
	assert.False(t, rec.HRReady)
	assert.False(t, rec.FTPReady, "file transfer readiness MUST be cleared on disconnect")
	assert.False(t, rec.SDKMode)
}

func TestRegistry_Attach(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	d := event.NewDispatcher(helper.Logger)
	r := registry.New(helper.Logger)
	detach := r.Attach(d)
	defer detach()

	d.Start(t.Context())
	d.Publish(event.ConnectionStateChanged{DeviceID: "A1B2C3D4", State: device.Connecting})
	d.Stop()

	assert.Equal(t, device.Connecting, r.State("A1B2C3D4"))
}
