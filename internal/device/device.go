package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies bridge failures.
type ErrorKind string

const (
	// KindTransport is a BLE-layer failure, e.g. a disconnect in the middle of an operation.
	KindTransport ErrorKind = "transport_error"
	// KindInvalidArgument is a malformed or unknown device identifier.
	KindInvalidArgument ErrorKind = "invalid_argument"
	// KindSettingsUnavailable means negotiation could not produce a usable configuration.
	KindSettingsUnavailable ErrorKind = "settings_unavailable"
	// KindCancelled is caller-initiated and is not a failure.
	KindCancelled ErrorKind = "cancelled"
	// KindBusy rejects a second stream on a (device, feature) pair that is still live.
	KindBusy ErrorKind = "busy"
	// KindTimeout is a configured deadline that expired.
	KindTimeout ErrorKind = "timeout"
)

// Error is the typed error surfaced by every bridge operation.
type Error struct {
	Kind     ErrorKind
	Op       string // operation that failed, e.g. "connect", "negotiate"
	DeviceID string
	Msg      string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.DeviceID != "" {
			fmt.Fprintf(&b, " %q", e.DeviceID)
		}
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinels, one per kind. Match with errors.Is.
var (
	ErrTransport           = &Error{Kind: KindTransport}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
	ErrSettingsUnavailable = &Error{Kind: KindSettingsUnavailable}
	ErrCancelled           = &Error{Kind: KindCancelled}
	ErrBusy                = &Error{Kind: KindBusy}
	ErrTimeout             = &Error{Kind: KindTimeout}
)

// NewError builds an *Error of the given kind
func NewError(kind ErrorKind, op, deviceID string, err error) *Error {
	return &Error{Kind: kind, Op: op, DeviceID: deviceID, Err: err}
}

// InvalidArgument builds an ErrInvalidArgument with a message
func InvalidArgument(op, deviceID, msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Op: op, DeviceID: deviceID, Msg: msg}
}

// KindOf returns the kind of err, or "" when err is not a bridge error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FromContext converts context termination into Cancelled / Timeout bridge errors.
// Other errors are classified as transport errors unless they already carry a kind.
func FromContext(op, deviceID string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return NewError(KindCancelled, op, deviceID, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindTimeout, op, deviceID, err)
	default:
		return NewError(KindTransport, op, deviceID, err)
	}
}

// ConnectionState of a single device. Only the transport and the connection
// manager drive transitions; everybody else observes them.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON output
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LinkCondition represents the specific kind of link failure reported by the transport
type LinkCondition string

const (
	NotConnected     LinkCondition = "not_connected"
	AlreadyConnected LinkCondition = "already_connected"
	BluetoothOff     LinkCondition = "bluetooth_off"
)

// LinkError represents a transport link problem
type LinkError struct {
	Condition LinkCondition
	Msg       string
}

// Error implements the error interface
func (e *LinkError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Condition)
	}
	return fmt.Sprintf("%s: %s", e.Condition, e.Msg)
}

// Is allows errors.Is to compare LinkError values by Condition
func (e *LinkError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*LinkError)
	if !ok {
		return false
	}
	return e.Condition == t.Condition
}

// Link sentinels
var (
	ErrNotConnected     = &LinkError{Condition: NotConnected}
	ErrAlreadyConnected = &LinkError{Condition: AlreadyConnected}
	ErrBluetoothOff     = &LinkError{Condition: BluetoothOff}
)

// ErrUnsupported marks a feature or frame the transport cannot serve
var ErrUnsupported = errors.New("unsupported")

// IsLinkCondition reports whether err is a LinkError with the given condition
func IsLinkCondition(err error, condition LinkCondition) bool {
	var lerr *LinkError
	if errors.As(err, &lerr) {
		return lerr.Condition == condition
	}
	return false
}

// Searcher runs a device search until ctx is done, the transport completes
// the search (nil) or fails. Handler calls are sequential.
type Searcher interface {
	Search(ctx context.Context, handler func(Descriptor)) error
}

// Connector issues non-blocking connection requests. A malformed or unknown
// identifier fails synchronously with ErrInvalidArgument; everything else is
// reported through connection-state events.
type Connector interface {
	ConnectDevice(deviceID string) error
	DisconnectDevice(deviceID string) error
}

// SettingsSource answers the two stream-settings queries of a negotiation.
type SettingsSource interface {
	RequestAvailableSettings(ctx context.Context, deviceID string, feature Feature) (Settings, error)
	RequestFullSettings(ctx context.Context, deviceID string, feature Feature) (Settings, error)
}

// Streamer opens a measurement stream and blocks until ctx is done (returns
// ctx.Err()), the device ends the stream (nil) or the link fails.
type Streamer interface {
	StartStreaming(ctx context.Context, deviceID string, feature Feature, cfg Configuration, handler func(SampleBatch)) error
}

// Transport is the vendor capability surface consumed by the bridge core
type Transport interface {
	Searcher
	Connector
	SettingsSource
	Streamer
}
