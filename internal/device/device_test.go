package device_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/sensorbridge/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{name: "vendor id", id: "A1B2C3D4", valid: true},
		{name: "lowercase vendor id", id: "a1b2c3d4", valid: true},
		{name: "mac address", id: "AA:BB:CC:DD:EE:FF", valid: true},
		{name: "dash separated address", id: "aa-bb-cc-dd-ee-ff", valid: true},
		{name: "corebluetooth uuid", id: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", valid: true},
		{name: "empty", id: "", valid: false},
		{name: "whitespace padded", id: " A1B2C3D4 ", valid: false},
		{name: "too short", id: "A1B2", valid: false},
		{name: "not hex", id: "ZZZZZZZZ", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := device.ValidateID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, device.ErrInvalidArgument)
		})
	}
}

func TestVendorIDFromName(t *testing.T) {
	assert.Equal(t, "A1B2C3D4", device.VendorIDFromName("Polar H10 a1b2c3d4"))
	assert.Equal(t, "", device.VendorIDFromName("Polar"))
	assert.Equal(t, "", device.VendorIDFromName("Heart Rate Monitor"))
}

func TestError(t *testing.T) {
	t.Run("matches by kind", func(t *testing.T) {
		err := device.NewError(device.KindBusy, "start stream", "A1B2C3D4", nil)

		assert.ErrorIs(t, err, device.ErrBusy)
		assert.NotErrorIs(t, err, device.ErrTransport)
		assert.Equal(t, `start stream "A1B2C3D4": busy`, err.Error())
	})

	t.Run("unwraps the cause", func(t *testing.T) {
		err := device.NewError(device.KindTransport, "connect", "A1B2C3D4", device.ErrNotConnected)
		wrapped := fmt.Errorf("outer: %w", err)

		assert.ErrorIs(t, wrapped, device.ErrTransport)
		assert.ErrorIs(t, wrapped, device.ErrNotConnected)
		assert.True(t, device.IsLinkCondition(wrapped, device.NotConnected))
		assert.Equal(t, device.KindTransport, device.KindOf(wrapped))
	})

	t.Run("classifies context termination", func(t *testing.T) {
		assert.ErrorIs(t, device.FromContext("op", "", context.Canceled), device.ErrCancelled)
		assert.ErrorIs(t, device.FromContext("op", "", context.DeadlineExceeded), device.ErrTimeout)
		assert.ErrorIs(t, device.FromContext("op", "", errors.New("boom")), device.ErrTransport)
		assert.NoError(t, device.FromContext("op", "", nil))
	})

	t.Run("keeps existing kind", func(t *testing.T) {
		err := device.FromContext("op", "", device.InvalidArgument("connect", "", "bad"))
		assert.ErrorIs(t, err, device.ErrInvalidArgument)
	})
}

func TestFeatureAndState(t *testing.T) {
	f, err := device.ParseFeature("ECG")
	assert.NoError(t, err)
	assert.Equal(t, device.FeatureECG, f)

	_, err = device.ParseFeature("temperature")
	assert.Error(t, err)

	assert.Equal(t, "connecting", device.Connecting.String())
	assert.Equal(t, "magnetometer", device.FeatureMagnetometer.String())
}
