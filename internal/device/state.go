package device

// State is a device's position in the provisioning pipeline.
type State int

const (
	// Disconnected is the zero value and is never valid for a registered device.
	Disconnected State = iota
	Identify
	GestureFilter
	ConvertFilter
	AddToStream
	SetDataStream
	SetRawStream
	Ready
)

// next is the single forward transition of the pipeline.
func (s State) next() State {
	switch s {
	case Identify:
		return GestureFilter
	case GestureFilter:
		return ConvertFilter
	case ConvertFilter:
		return AddToStream
	case AddToStream:
		return SetDataStream
	case SetDataStream:
		return SetRawStream
	case SetRawStream:
		return Ready
	case Ready:
		return Ready
	default:
		return Disconnected
	}
}

func (s State) String() string {
	switch s {
	case Identify:
		return "identify"
	case GestureFilter:
		return "gesture_filter"
	case ConvertFilter:
		return "convert_filter"
	case AddToStream:
		return "add_to_stream"
	case SetDataStream:
		return "set_data_stream"
	case SetRawStream:
		return "set_raw_stream"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}
