package pmd

import "fmt"

// Status is the result code of a control point response
type Status byte

const (
	StatusSuccess Status = iota
	StatusInvalidOpCode
	StatusInvalidMeasurementType
	StatusNotSupported
	StatusInvalidLength
	StatusInvalidParameter
	StatusAlreadyInState
	StatusInvalidResolution
	StatusInvalidSampleRate
	StatusInvalidRange
	StatusInvalidMTU
	StatusInvalidNumberOfChannels
	StatusInvalidState
	StatusDeviceInCharger
)

var statusNames = map[Status]string{
	StatusSuccess:                 "success",
	StatusInvalidOpCode:           "invalid op code",
	StatusInvalidMeasurementType:  "invalid measurement type",
	StatusNotSupported:            "not supported",
	StatusInvalidLength:           "invalid length",
	StatusInvalidParameter:        "invalid parameter",
	StatusAlreadyInState:          "already in state",
	StatusInvalidResolution:       "invalid resolution",
	StatusInvalidSampleRate:       "invalid sample rate",
	StatusInvalidRange:            "invalid range",
	StatusInvalidMTU:              "invalid MTU",
	StatusInvalidNumberOfChannels: "invalid number of channels",
	StatusInvalidState:            "invalid state",
	StatusDeviceInCharger:         "device in charger",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", byte(s))
}

// StatusError is a control point request the device refused
type StatusError struct {
	Op     Opcode
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pmd op 0x%02x failed: %s", byte(e.Op), e.Status)
}

// Is matches StatusError values by status
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return e.Status == t.Status
}

// ErrAlreadyInState is returned when a stream is started twice on the device
var ErrAlreadyInState = &StatusError{Status: StatusAlreadyInState}
