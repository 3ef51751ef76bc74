package protocol

import (
	"fmt"

	"github.com/danmuck/glovelink/internal/protocol/schema"
)

// DecodeHeader reads the fixed payload header.
func DecodeHeader(payload []byte) (Header, error) {
	if len(payload) < HeaderLen {
		return Header{}, fmt.Errorf("%w: payload=%d header=%d", ErrTruncated, len(payload), HeaderLen)
	}
	r := reader{buf: payload}
	return Header{Kind: r.u16(), Token: r.u16(), Session: r.u64()}, nil
}

func checkBody(head Header, payload []byte) error {
	if err := schema.Validate(head.Kind, len(payload)-HeaderLen); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLength, err)
	}
	return nil
}

// Decode classifies one server payload. Unknown kinds, including request
// kinds, decode to EventUnknown without error. A body shorter than its kind
// requires is an error.
func Decode(payload []byte) (Event, error) {
	head, err := DecodeHeader(payload)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Header: head, Kind: EventUnknown}
	if !schema.IsEvent(head.Kind) {
		return ev, nil
	}
	if err := checkBody(head, payload); err != nil {
		return Event{}, err
	}

	r := &reader{buf: payload, off: HeaderLen}
	switch head.Kind {
	case schema.KindHandshakeEcho:
		ev.Kind = EventHandshakeEcho
		ev.Echo = r.copyBytes(int(r.u16()))
	case schema.KindSuccess:
		ev.Kind = EventSuccess
		ev.Payload = r.copyBytes(int(r.u16()))
	case schema.KindFailure:
		ev.Kind = EventFailure
		ev.Message = string(r.rest())
	case schema.KindJointData:
		ev.Kind = EventJointData
		ev.Joint = readJointFrame(r)
	case schema.KindRawData:
		ev.Kind = EventRawData
		ev.Raw = readRawFrame(r)
	case schema.KindDongleList:
		ev.Kind = EventDongleList
		ev.IDs = r.ids(int(r.u32()))
	case schema.KindDeviceList:
		ev.Kind = EventDeviceList
		ev.IDs = r.ids(int(r.u32()))
	case schema.KindSourceList:
		ev.Kind = EventSourceList
		ev.IDs = r.ids(int(r.u32()))
	case schema.KindSourceInfo:
		ev.Kind = EventSourceInfo
		ev.Source = readSourceInfo(r)
	case schema.KindDeviceInfo:
		ev.Kind = EventDeviceInfo
		ev.Device = &DeviceInfo{
			Device:      r.u64(),
			Dongle:      r.u64(),
			Hand:        r.i8(),
			DeviceType:  r.u8(),
			Battery:     r.u8(),
			Attenuation: r.u16(),
		}
	}
	if r.err != nil {
		return Event{}, fmt.Errorf("%w: kind=%s", r.err, schema.Name(head.Kind))
	}
	return ev, nil
}

func readJointFrame(r *reader) *JointFrame {
	f := &JointFrame{Endpoint: r.u64(), Device: r.u64(), Wrist: r.quat()}
	for finger := 0; finger < FingerCount; finger++ {
		for joint := 0; joint < JointsPerHand; joint++ {
			f.Fingers[finger][joint] = r.quat()
		}
	}
	return f
}

func readRawFrame(r *reader) *RawFrame {
	f := &RawFrame{Endpoint: r.u64(), Device: r.u64()}
	f.IMU[0] = r.quat()
	f.IMU[1] = r.quat()
	for i := range f.Flex {
		f.Flex[i] = r.f64()
	}
	return f
}

func readSourceInfo(r *reader) *SourceInfo {
	s := &SourceInfo{
		Endpoint:   r.u64(),
		SourceType: r.u8(),
		Device:     r.u64(),
		Side:       r.i8(),
	}
	s.FilterTypes = r.copyBytes(int(r.u8()))
	s.Sources = r.ids(int(r.u8()))
	return s
}

// DecodeRequest parses one client payload. It is the server half of the
// codec and is used by the emulator.
func DecodeRequest(payload []byte) (Request, error) {
	head, err := DecodeHeader(payload)
	if err != nil {
		return Request{}, err
	}
	if !schema.Known(head.Kind) || schema.IsEvent(head.Kind) {
		return Request{}, fmt.Errorf("%w: kind=0x%04x", ErrNotRequest, head.Kind)
	}
	if err := checkBody(head, payload); err != nil {
		return Request{}, err
	}

	req := Request{Header: head}
	r := &reader{buf: payload, off: HeaderLen}
	switch head.Kind {
	case schema.KindHandshake:
		req.ClientID = r.u16()
	case schema.KindHandshakeAck:
		req.ClientID = r.u16()
		req.Echo = r.copyBytes(int(r.u16()))
	case schema.KindListDevices, schema.KindGetSourceInfo, schema.KindGetDeviceInfo, schema.KindRemoveFilter:
		req.ID = r.u64()
	case schema.KindAddFilters:
		req.IDs = r.ids(int(r.u8()))
		n := int(r.u8())
		for i := 0; i < n && r.err == nil; i++ {
			req.Filters = append(req.Filters, r.copyBytes(int(r.u16())))
		}
	case schema.KindAddStreams, schema.KindRemoveStreams:
		req.IDs = r.ids(int(r.u32()))
	case schema.KindSetStreamData, schema.KindSetStreamRaw:
		req.ID = r.u64()
		req.Enabled = r.bool()
	case schema.KindVibrate:
		req.ID = r.u64()
		req.Duration = r.u16()
		req.Power = r.u16()
	}
	if r.err != nil {
		return Request{}, fmt.Errorf("%w: kind=%s", r.err, schema.Name(head.Kind))
	}
	return req, nil
}
