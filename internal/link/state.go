package link

// State is the link-level phase of the session.
type State int

const (
	Connecting State = iota
	Handshaking
	DeviceSetup
	Streaming
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case DeviceSetup:
		return "device_setup"
	case Streaming:
		return "streaming"
	default:
		return "invalid"
	}
}
