// ABOUTME: Connection state enumeration owned by the connection manager
// ABOUTME: Names the probe, connect and reconnect phases of the transport lifecycle
package client

// State is the transport lifecycle phase
type State int

const (
	Disconnected State = iota
	ProbingAvailability
	Connecting
	Connected
	ReconnectScheduled
)

// String returns the state name used in logs
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case ProbingAvailability:
		return "probing"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReconnectScheduled:
		return "reconnect-scheduled"
	default:
		return "unknown"
	}
}

// attempting reports whether a probe or dial is in flight in this state
func (s State) attempting() bool {
	return s == ProbingAvailability || s == Connecting
}
