package protocol

import (
	"fmt"
	"math"

	"github.com/danmuck/glovelink/internal/protocol/schema"
)

// Server-side event encoders. The client never sends these; the emulator and
// tests use them to speak for the glove server.

func EncodeHandshakeEcho(session uint64, echo []byte) []byte {
	b := newBuilder(schema.KindHandshakeEcho, 0, session, 2+len(echo))
	b.u16(uint16(len(echo)))
	b.bytes(echo)
	return b.buf
}

func EncodeSuccess(token uint16, session uint64, payload []byte) []byte {
	b := newBuilder(schema.KindSuccess, token, session, 2+len(payload))
	b.u16(uint16(len(payload)))
	b.bytes(payload)
	return b.buf
}

// EncodeEndpointSuccess is the success reply to add-filters.
func EncodeEndpointSuccess(token uint16, session uint64, endpoint uint64) []byte {
	var p builder
	p.u64(endpoint)
	return EncodeSuccess(token, session, p.buf)
}

func EncodeFailure(token uint16, session uint64, message string) []byte {
	b := newBuilder(schema.KindFailure, token, session, len(message))
	b.bytes([]byte(message))
	return b.buf
}

func EncodeJointData(session uint64, f JointFrame) []byte {
	b := newBuilder(schema.KindJointData, 0, session, schema.JointDataBodyLen)
	b.u64(f.Endpoint)
	b.u64(f.Device)
	b.quat(f.Wrist)
	for finger := 0; finger < FingerCount; finger++ {
		for joint := 0; joint < JointsPerHand; joint++ {
			b.quat(f.Fingers[finger][joint])
		}
	}
	return b.buf
}

func EncodeRawData(session uint64, f RawFrame) []byte {
	b := newBuilder(schema.KindRawData, 0, session, schema.RawDataBodyLen)
	b.u64(f.Endpoint)
	b.u64(f.Device)
	b.quat(f.IMU[0])
	b.quat(f.IMU[1])
	for _, v := range f.Flex {
		b.f64(v)
	}
	return b.buf
}

// EncodeIDList builds a dongle, device or source id list event.
func EncodeIDList(kind, token uint16, session uint64, ids []uint64) ([]byte, error) {
	switch kind {
	case schema.KindDongleList, schema.KindDeviceList, schema.KindSourceList:
	default:
		return nil, fmt.Errorf("%w: kind=0x%04x is not an id list", ErrInvalidLength, kind)
	}
	b := newBuilder(kind, token, session, 4+8*len(ids))
	b.ids32(ids)
	return b.buf, nil
}

func EncodeSourceInfo(token uint16, session uint64, s SourceInfo) ([]byte, error) {
	if len(s.FilterTypes) > math.MaxUint8 || len(s.Sources) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: filters=%d sources=%d", ErrTooManyItems, len(s.FilterTypes), len(s.Sources))
	}
	b := newBuilder(schema.KindSourceInfo, token, session, 20+len(s.FilterTypes)+8*len(s.Sources))
	b.u64(s.Endpoint)
	b.u8(s.SourceType)
	b.u64(s.Device)
	b.i8(s.Side)
	b.u8(uint8(len(s.FilterTypes)))
	b.bytes(s.FilterTypes)
	b.u8(uint8(len(s.Sources)))
	for _, id := range s.Sources {
		b.u64(id)
	}
	return b.buf, nil
}

func EncodeDeviceInfo(token uint16, session uint64, d DeviceInfo) []byte {
	b := newBuilder(schema.KindDeviceInfo, token, session, 21)
	b.u64(d.Device)
	b.u64(d.Dongle)
	b.i8(d.Hand)
	b.u8(d.DeviceType)
	b.u8(d.Battery)
	b.u16(d.Attenuation)
	return b.buf
}
