package protocol

import (
	"fmt"

	"github.com/danmuck/glovelink/internal/protocol/schema"
)

const HeaderLen = schema.HeaderLen

// DefaultClientID identifies this client to the glove server during handshake.
const DefaultClientID uint16 = 44178

// Header is the fixed prefix of every payload.
type Header struct {
	Kind    uint16
	Token   uint16
	Session uint64
}

// Quat is a unit orientation quaternion.
type Quat struct {
	W float32 `json:"w"`
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Laterality is the handedness of a device.
type Laterality int8

const (
	LateralityUnknown Laterality = 0
	LateralityLeft    Laterality = -1
	LateralityRight   Laterality = 1
)

// LateralityFromSide maps the server's signed side indicator. Anything other
// than -1 or +1 is not a usable side.
func LateralityFromSide(side int8) (Laterality, bool) {
	switch side {
	case -1:
		return LateralityLeft, true
	case 1:
		return LateralityRight, true
	default:
		return LateralityUnknown, false
	}
}

func ParseLaterality(raw string) (Laterality, error) {
	switch raw {
	case "left", "l":
		return LateralityLeft, nil
	case "right", "r":
		return LateralityRight, nil
	default:
		return LateralityUnknown, fmt.Errorf("protocol: unknown laterality %q", raw)
	}
}

func (l Laterality) String() string {
	switch l {
	case LateralityLeft:
		return "left"
	case LateralityRight:
		return "right"
	default:
		return "unknown"
	}
}

const (
	FingerCount   = 5
	JointsPerHand = 5
	FlexCount     = 10
)

// JointFrame is one pose snapshot for a device. Fingers are ordered thumb to
// pinky, joints from the metacarpal out.
type JointFrame struct {
	Endpoint uint64                           `json:"endpoint"`
	Device   uint64                           `json:"device"`
	Wrist    Quat                             `json:"wrist"`
	Fingers  [FingerCount][JointsPerHand]Quat `json:"fingers"`
}

// RawFrame holds the wrist and thumb IMU orientations and flex readings in [0,1].
type RawFrame struct {
	Endpoint uint64             `json:"endpoint"`
	Device   uint64             `json:"device"`
	IMU      [2]Quat            `json:"imu"`
	Flex     [FlexCount]float64 `json:"flex"`
}

// SourceInfo describes one node in the server's source/filter graph.
type SourceInfo struct {
	Endpoint    uint64
	SourceType  uint8
	Device      uint64
	Side        int8
	FilterTypes []uint8
	Sources     []uint64
}

// DeviceInfo is periodic hardware status for one device.
type DeviceInfo struct {
	Device      uint64 `json:"device"`
	Dongle      uint64 `json:"dongle"`
	Hand        int8   `json:"hand"`
	DeviceType  uint8  `json:"device_type"`
	Battery     uint8  `json:"battery"`
	Attenuation uint16 `json:"signal_attenuation_db"`
}

type EventKind int

const (
	EventUnknown EventKind = iota
	EventHandshakeEcho
	EventSuccess
	EventFailure
	EventJointData
	EventRawData
	EventDongleList
	EventDeviceList
	EventSourceList
	EventSourceInfo
	EventDeviceInfo
)

func (k EventKind) String() string {
	switch k {
	case EventHandshakeEcho:
		return "handshake_echo"
	case EventSuccess:
		return "success"
	case EventFailure:
		return "failure"
	case EventJointData:
		return "joint_data"
	case EventRawData:
		return "raw_data"
	case EventDongleList:
		return "dongle_list"
	case EventDeviceList:
		return "device_list"
	case EventSourceList:
		return "source_list"
	case EventSourceInfo:
		return "source_info"
	case EventDeviceInfo:
		return "device_info"
	default:
		return "unknown"
	}
}

// Event is one decoded server payload. Only the members matching Kind are set.
type Event struct {
	Header  Header
	Kind    EventKind
	Echo    []byte
	Payload []byte
	Message string
	IDs     []uint64
	Joint   *JointFrame
	Raw     *RawFrame
	Source  *SourceInfo
	Device  *DeviceInfo
}

// Endpoint reads the new endpoint id carried by an add-filter success reply.
func (e Event) Endpoint() (uint64, bool) {
	if e.Kind != EventSuccess || len(e.Payload) < 8 {
		return 0, false
	}
	r := reader{buf: e.Payload}
	return r.u64(), true
}

// Request is one decoded client payload, as seen by a server.
type Request struct {
	Header   Header
	ClientID uint16
	Echo     []byte
	ID       uint64
	IDs      []uint64
	Filters  [][]byte
	Enabled  bool
	Duration uint16
	Power    uint16
}
