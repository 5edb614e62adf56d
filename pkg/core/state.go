package core

// LinkState is the establishment state of a session.
type LinkState uint8

const (
	StateDisconnected LinkState = iota
	StateConnecting
	StateConnected
)

func (s LinkState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
