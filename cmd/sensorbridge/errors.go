package main

import (
	"errors"
	"fmt"

	"github.com/srg/sensorbridge/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a command was using it.
	// This is distinct from device.ErrNotConnected, which indicates an attempt to
	// use a device that was never connected.
	ErrConnectionLost = errors.New("connection lost")

	// ErrFeatureUnsupported means the connected device does not offer the requested stream
	ErrFeatureUnsupported = errors.New("feature not supported by device")
)

// FormatUserError turns a bridge error into a one-line message for the terminal
func FormatUserError(err error) string {
	var e *device.Error
	if !errors.As(err, &e) {
		switch {
		case device.IsLinkCondition(err, device.BluetoothOff):
			return "Bluetooth is turned off"
		case device.IsLinkCondition(err, device.NotConnected):
			return fmt.Sprintf("%v; connect the device first", err)
		case errors.Is(err, ErrConnectionLost):
			return fmt.Sprintf("%v; the device went out of range or was switched off", err)
		default:
			return err.Error()
		}
	}

	subject := "device"
	if e.DeviceID != "" {
		subject = fmt.Sprintf("device %s", e.DeviceID)
	}
	detail := e.Msg
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}

	switch e.Kind {
	case device.KindInvalidArgument:
		return fmt.Sprintf("invalid %s: %s", subject, detail)
	case device.KindSettingsUnavailable:
		return fmt.Sprintf("%s offers no usable stream settings", subject)
	case device.KindBusy:
		return fmt.Sprintf("%s is busy: %s", subject, detail)
	case device.KindTimeout:
		return fmt.Sprintf("%s did not respond in time (%s)", subject, e.Op)
	case device.KindCancelled:
		return fmt.Sprintf("%s cancelled", e.Op)
	default:
		if device.IsLinkCondition(err, device.NotConnected) {
			return fmt.Sprintf("%s is not connected", subject)
		}
		return err.Error()
	}
}
