package device

import "fmt"

// SessionState is the lifecycle of a discovery or stream subscription:
// Idle -> Active -> {Completed | Failed | Cancelled}. Terminal states are final.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionActive
	SessionCompleted
	SessionFailed
	SessionCancelled
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionActive:
		return "active"
	case SessionCompleted:
		return "completed"
	case SessionFailed:
		return "failed"
	case SessionCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON output
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}
