package pmd

import (
	"encoding/binary"
	"fmt"
)

// Standard GATT identifiers read or subscribed next to PMD
const (
	HeartRateServiceUUID     = "180d"
	HeartRateMeasurementUUID = "2a37"
	BatteryServiceUUID       = "180f"
	BatteryLevelUUID         = "2a19"
	DeviceInfoServiceUUID    = "180a"
)

// DeviceInfoCharacteristics names the Device Information strings read on connect
var DeviceInfoCharacteristics = map[string]string{
	"2a29": "manufacturer_name",
	"2a24": "model_number",
	"2a25": "serial_number",
	"2a27": "hardware_revision",
	"2a26": "firmware_revision",
	"2a28": "software_revision",
}

// HeartRate is one decoded heart rate measurement
type HeartRate struct {
	HR               int
	RRsMs            []int
	Contact          bool
	ContactSupported bool
}

const (
	hrFlagUint16         = 1 << 0
	hrFlagContact        = 1 << 1
	hrFlagContactSupport = 1 << 2
	hrFlagEnergy         = 1 << 3
	hrFlagRR             = 1 << 4
)

// ParseHeartRate decodes a Heart Rate Measurement notification. RR intervals
// are converted from 1/1024 s to milliseconds.
func ParseHeartRate(data []byte) (HeartRate, error) {
	if len(data) < 2 {
		return HeartRate{}, fmt.Errorf("heart rate frame too short (%d bytes)", len(data))
	}

	flags := data[0]
	hr := HeartRate{
		ContactSupported: flags&hrFlagContactSupport != 0,
		Contact:          flags&hrFlagContact != 0,
	}

	var i int
	if flags&hrFlagUint16 != 0 {
		if len(data) < 3 {
			return HeartRate{}, fmt.Errorf("truncated 16-bit heart rate")
		}
		hr.HR = int(binary.LittleEndian.Uint16(data[1:3]))
		i = 3
	} else {
		hr.HR = int(data[1])
		i = 2
	}
	if flags&hrFlagEnergy != 0 {
		i += 2
	}
	if flags&hrFlagRR != 0 {
		for ; i+1 < len(data); i += 2 {
			rr := int(binary.LittleEndian.Uint16(data[i : i+2]))
			hr.RRsMs = append(hr.RRsMs, rr*1000/1024)
		}
	}
	return hr, nil
}
