package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "invalid argument",
			err:  device.InvalidArgument("connect", "A1B2C3D4", "unknown device"),
			want: "invalid device A1B2C3D4: unknown device",
		},
		{
			name: "settings unavailable",
			err:  &device.Error{Kind: device.KindSettingsUnavailable, Op: "negotiate", DeviceID: "A1B2C3D4"},
			want: "device A1B2C3D4 offers no usable stream settings",
		},
		{
			name: "busy",
			err:  device.NewError(device.KindBusy, "stream", "A1B2C3D4", errors.New("ecg stream already running")),
			want: "device A1B2C3D4 is busy: ecg stream already running",
		},
		{
			name: "timeout",
			err:  device.NewError(device.KindTimeout, "connect", "A1B2C3D4", nil),
			want: "device A1B2C3D4 did not respond in time (connect)",
		},
		{
			name: "cancelled",
			err:  device.NewError(device.KindCancelled, "search", "", nil),
			want: "search cancelled",
		},
		{
			name: "bluetooth off",
			err:  fmt.Errorf("scan: %w", device.ErrBluetoothOff),
			want: "Bluetooth is turned off",
		},
		{
			name: "not connected",
			err:  device.NewError(device.KindTransport, "read", "A1B2C3D4", device.ErrNotConnected),
			want: "device A1B2C3D4 is not connected",
		},
		{
			name: "connection lost",
			err:  fmt.Errorf("connect A1B2C3D4: %w", ErrConnectionLost),
			want: "connect A1B2C3D4: connection lost; the device went out of range or was switched off",
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"scan", "connect", "settings", "stream"})

	for _, flag := range []string{"log-level", "verbose", "config"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "--%s MUST be a global flag", flag)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"scan", "--log-level", "trace"})
	root.SetOut(new(nopWriter))
	root.SetErr(new(nopWriter))

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level: trace")
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want logrus.Level
	}{
		{name: "silent by default", want: logrus.PanicLevel},
		{name: "verbose", args: []string{"--verbose"}, want: logrus.DebugLevel},
		{name: "log level wins over verbose", args: []string{"--verbose", "--log-level", "warn"}, want: logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scan, _, err := newRootCmd().Find([]string{"scan"})
			require.NoError(t, err)
			require.NoError(t, scan.ParseFlags(tt.args))

			logger, err := configureLogger(scan, config.DefaultConfig())
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
