package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/sensorbridge/internal/device"
)

// linkPatterns maps lower-cased go-ble error fragments to link conditions.
// Platform stacks word the same failure differently: CoreBluetooth reports
// central manager states, BlueZ/HCI reports socket and device errors.
var linkPatterns = []struct {
	fragment string
	err      *device.LinkError
}{
	{"have=4 want=5", device.ErrBluetoothOff},
	{"bluetooth is turned off", device.ErrBluetoothOff},
	{"can't init hci", device.ErrBluetoothOff},
	{"hci0: no such device", device.ErrBluetoothOff},
	{"device already connected", device.ErrAlreadyConnected},
	{"device not connected", device.ErrNotConnected},
	{"disconnected", device.ErrNotConnected},
}

// NormalizeError turns go-ble error strings into link errors matchable with
// errors.Is; the library's message is kept. Errors that already carry a
// link condition, and unknown errors, are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	var lerr *device.LinkError
	if errors.As(err, &lerr) {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, p := range linkPatterns {
		if strings.Contains(msg, p.fragment) {
			return fmt.Errorf("%w: %v", p.err, err)
		}
	}
	return err
}
