// Package bridge forwards link output to external consumers.
package bridge

import (
	"time"

	"github.com/danmuck/glovelink/internal/protocol"
)

// Message is the JSON envelope shared by every bridge and the websocket stream.
type Message struct {
	Type      string               `json:"type"`
	Side      string               `json:"side,omitempty"`
	Timestamp time.Time            `json:"ts"`
	Joint     *protocol.JointFrame `json:"joint,omitempty"`
	Raw       *protocol.RawFrame   `json:"raw,omitempty"`
	Device    *protocol.DeviceInfo `json:"device,omitempty"`
	State     *StateChange         `json:"state,omitempty"`
}

type StateChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

const (
	TypeJoint      = "joint"
	TypeRaw        = "raw"
	TypeDeviceInfo = "device_info"
	TypeState      = "state"
)

func JointMessage(f protocol.JointFrame, side protocol.Laterality, at time.Time) Message {
	return Message{Type: TypeJoint, Side: side.String(), Timestamp: at, Joint: &f}
}

func RawMessage(f protocol.RawFrame, side protocol.Laterality, at time.Time) Message {
	return Message{Type: TypeRaw, Side: side.String(), Timestamp: at, Raw: &f}
}

func DeviceInfoMessage(info protocol.DeviceInfo, at time.Time) Message {
	m := Message{Type: TypeDeviceInfo, Timestamp: at, Device: &info}
	if side, ok := protocol.LateralityFromSide(info.Hand); ok {
		m.Side = side.String()
	}
	return m
}

func StateMessage(from, to string, at time.Time) Message {
	return Message{Type: TypeState, Timestamp: at, State: &StateChange{From: from, To: to}}
}
