// Package pmd encodes and decodes Polar Measurement Data frames: control point
// requests and responses, stream settings and measurement data.
package pmd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/srg/sensorbridge/internal/device"
)

// GATT identifiers of the PMD service
const (
	ServiceUUID      = "fb005c8002e7f3871cad8acd2d8df0c8"
	ControlPointUUID = "fb005c8102e7f3871cad8acd2d8df0c8"
	DataUUID         = "fb005c8202e7f3871cad8acd2d8df0c8"

	// FileTransferUUID is the PSFTP MTU characteristic; its presence means
	// the device offers file transfer.
	FileTransferUUID = "fb005c5102e7f3871cad8acd2d8df0c8"
)

// MeasurementType is the PMD byte identifying a stream
type MeasurementType byte

const (
	MeasurementECG  MeasurementType = 0
	MeasurementPPG  MeasurementType = 1
	MeasurementACC  MeasurementType = 2
	MeasurementPPI  MeasurementType = 3
	MeasurementGyro MeasurementType = 5
	MeasurementMag  MeasurementType = 6
)

var measurementFeatures = map[MeasurementType]device.Feature{
	MeasurementECG:  device.FeatureECG,
	MeasurementPPG:  device.FeaturePPG,
	MeasurementACC:  device.FeatureACC,
	MeasurementPPI:  device.FeaturePPI,
	MeasurementGyro: device.FeatureGyro,
	MeasurementMag:  device.FeatureMagnetometer,
}

// Feature maps a measurement type to its feature
func (m MeasurementType) Feature() (device.Feature, bool) {
	f, ok := measurementFeatures[m]
	return f, ok
}

// MeasurementOf maps a feature to its measurement type. HR is not a PMD stream.
func MeasurementOf(f device.Feature) (MeasurementType, error) {
	for m, mf := range measurementFeatures {
		if mf == f {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%s is not a measurement stream: %w", f, device.ErrUnsupported)
}

// Opcode of a control point request
type Opcode byte

const (
	OpGetSettings     Opcode = 0x01
	OpStart           Opcode = 0x02
	OpStop            Opcode = 0x03
	OpGetFullSettings Opcode = 0x04
)

// measurementSDKMode is the feature bit announcing SDK mode; it is not a stream
const measurementSDKMode = 9

const (
	featuresHeader = 0x0F
	responseHeader = 0xF0
)

// settingSizes is the byte width of one value of each setting type
var settingSizes = map[device.SettingType]int{
	device.SettingSampleRate:     2,
	device.SettingResolution:     2,
	device.SettingRange:          2,
	device.SettingRangeMilliUnit: 4,
	device.SettingChannels:       1,
	device.SettingFactor:         4,
}

// ParseFeatures decodes the control point read: a header byte followed by a
// bitmap of supported measurement types.
func ParseFeatures(data []byte) (mapset.Set[device.Feature], error) {
	if len(data) < 2 || data[0] != featuresHeader {
		return nil, fmt.Errorf("malformed features frame % x", data)
	}

	features := mapset.NewSet[device.Feature]()
	for m, f := range measurementFeatures {
		if data[1]&(1<<byte(m)) != 0 {
			features.Add(f)
		}
	}
	return features, nil
}

// SDKModeSupported reports whether a features frame announces SDK mode. The
// bit lives in the second bitmap byte, which older devices omit.
func SDKModeSupported(data []byte) bool {
	if len(data) < 3 || data[0] != featuresHeader {
		return false
	}
	return data[2]&(1<<(measurementSDKMode-8)) != 0
}

// SettingsRequest builds the request for available (full=false) or full settings
func SettingsRequest(f device.Feature, full bool) ([]byte, error) {
	m, err := MeasurementOf(f)
	if err != nil {
		return nil, err
	}
	op := OpGetSettings
	if full {
		op = OpGetFullSettings
	}
	return []byte{byte(op), byte(m)}, nil
}

// StartRequest builds the start command carrying one value per configured dimension
func StartRequest(f device.Feature, cfg device.Configuration) ([]byte, error) {
	m, err := MeasurementOf(f)
	if err != nil {
		return nil, err
	}

	out := []byte{byte(OpStart), byte(m)}
	var encErr error
	cfg.Each(func(t device.SettingType, v uint32) {
		size, ok := settingSizes[t]
		if !ok {
			encErr = errors.Join(encErr, fmt.Errorf("cannot encode %s", t))
			return
		}
		out = append(out, byte(t), 0x01)
		out = appendUint(out, v, size)
	})
	if encErr != nil {
		return nil, encErr
	}
	return out, nil
}

// StopRequest builds the stop command
func StopRequest(f device.Feature) ([]byte, error) {
	m, err := MeasurementOf(f)
	if err != nil {
		return nil, err
	}
	return []byte{byte(OpStop), byte(m)}, nil
}

// Response is a decoded control point indication
type Response struct {
	Op     Opcode
	Type   MeasurementType
	Status Status
	More   bool
	Params []byte
}

// ParseResponse decodes a control point indication
func ParseResponse(data []byte) (Response, error) {
	if len(data) < 4 || data[0] != responseHeader {
		return Response{}, fmt.Errorf("malformed control point response % x", data)
	}
	r := Response{
		Op:     Opcode(data[1]),
		Type:   MeasurementType(data[2]),
		Status: Status(data[3]),
	}
	if len(data) > 4 {
		r.More = data[4] != 0
		r.Params = append([]byte(nil), data[5:]...)
	}
	return r, nil
}

// Err returns nil for a successful response
func (r Response) Err() error {
	if r.Status == StatusSuccess {
		return nil
	}
	return &StatusError{Op: r.Op, Status: r.Status}
}

// ParseSettings decodes settings parameters: repeated (type, count, values).
func ParseSettings(params []byte) (device.Settings, error) {
	s := device.EmptySettings()
	for i := 0; i < len(params); {
		if i+2 > len(params) {
			return device.EmptySettings(), fmt.Errorf("truncated setting header at %d", i)
		}
		t := device.SettingType(params[i])
		count := int(params[i+1])
		i += 2

		size, ok := settingSizes[t]
		if !ok {
			return device.EmptySettings(), fmt.Errorf("unknown setting type 0x%02x", byte(t))
		}
		if i+count*size > len(params) {
			return device.EmptySettings(), fmt.Errorf("truncated %s values", t)
		}
		values := make([]uint32, 0, count)
		for n := 0; n < count; n++ {
			values = append(values, readUint(params[i:], size))
			i += size
		}
		s = s.With(t, values...)
	}
	return s, nil
}

// ParseFrame decodes one data notification:
// [measurement type, timestamp uint64 LE, frame type, payload].
func ParseFrame(deviceID string, data []byte, receivedAt time.Time) (device.SampleBatch, error) {
	if len(data) < 10 {
		return device.SampleBatch{}, fmt.Errorf("data frame too short (%d bytes)", len(data))
	}

	m := MeasurementType(data[0])
	f, ok := m.Feature()
	if !ok {
		return device.SampleBatch{}, fmt.Errorf("measurement type %d: %w", m, device.ErrUnsupported)
	}
	batch := device.SampleBatch{
		DeviceID:    deviceID,
		Feature:     f,
		TimestampNs: binary.LittleEndian.Uint64(data[1:9]),
		ReceivedAt:  receivedAt,
	}

	frameType, payload := data[9], data[10:]
	var err error
	switch {
	case m == MeasurementECG && frameType == 0:
		batch.Samples, err = signedSamples(payload, 3)
	case m == MeasurementACC && frameType <= 2:
		batch.Samples, err = signedSamples(payload, int(frameType)+1)
		if err == nil && len(batch.Samples)%3 != 0 {
			err = fmt.Errorf("acc payload is not a multiple of 3 axes")
		}
	default:
		err = fmt.Errorf("%s frame type %d: %w", f, frameType, device.ErrUnsupported)
	}
	if err != nil {
		return device.SampleBatch{}, err
	}
	return batch, nil
}

// signedSamples decodes little-endian two's complement samples of width bytes
func signedSamples(payload []byte, width int) ([]int32, error) {
	if len(payload)%width != 0 {
		return nil, fmt.Errorf("payload of %d bytes is not a multiple of %d", len(payload), width)
	}
	out := make([]int32, 0, len(payload)/width)
	shift := uint(32 - 8*width)
	for i := 0; i < len(payload); i += width {
		v := readUint(payload[i:], width)
		out = append(out, int32(v<<shift)>>shift)
	}
	return out, nil
}

func readUint(b []byte, size int) uint32 {
	var v uint32
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

func appendUint(b []byte, v uint32, size int) []byte {
	for i := 0; i < size; i++ {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}
