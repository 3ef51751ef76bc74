package schema

import (
	"fmt"

	"github.com/danmuck/glovelink/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// HeaderLen is u16 kind + u16 token + u64 session, little-endian.
const HeaderLen = 12

// Request kinds, client to server.
const (
	KindHandshake     uint16 = 0x0001
	KindHandshakeAck  uint16 = 0x0002
	KindListDongles   uint16 = 0x0010
	KindListDevices   uint16 = 0x0011
	KindListSources   uint16 = 0x0012
	KindGetSourceInfo uint16 = 0x0013
	KindGetDeviceInfo uint16 = 0x0014
	KindAddFilters    uint16 = 0x0020
	KindRemoveFilter  uint16 = 0x0021
	KindAddStreams    uint16 = 0x0030
	KindRemoveStreams uint16 = 0x0031
	KindSetStreamData uint16 = 0x0032
	KindSetStreamRaw  uint16 = 0x0033
	KindStartStreams  uint16 = 0x0034
	KindStopStreams   uint16 = 0x0035
	KindVibrate       uint16 = 0x0040
)

// Event kinds, server to client.
const (
	KindHandshakeEcho uint16 = 0x0081
	KindSuccess       uint16 = 0x0082
	KindFailure       uint16 = 0x0083
	KindJointData     uint16 = 0x0084
	KindRawData       uint16 = 0x0085
	KindDongleList    uint16 = 0x0086
	KindDeviceList    uint16 = 0x0087
	KindSourceList    uint16 = 0x0088
	KindSourceInfo    uint16 = 0x0089
	KindDeviceInfo    uint16 = 0x008A
)

// QuatLen is four little-endian f32 components.
const QuatLen = 16

const (
	JointDataBodyLen = 16 + QuatLen + 5*5*QuatLen
	RawDataBodyLen   = 16 + 2*QuatLen + 10*8
)

type kindInfo struct {
	name    string
	minBody int
	event   bool
}

var kinds = map[uint16]kindInfo{
	KindHandshake:     {"handshake", 2, false},
	KindHandshakeAck:  {"handshake_ack", 4, false},
	KindListDongles:   {"list_dongles", 0, false},
	KindListDevices:   {"list_devices", 8, false},
	KindListSources:   {"list_sources", 0, false},
	KindGetSourceInfo: {"get_source_info", 8, false},
	KindGetDeviceInfo: {"get_device_info", 8, false},
	KindAddFilters:    {"add_filters", 2, false},
	KindRemoveFilter:  {"remove_filter", 8, false},
	KindAddStreams:    {"add_streams", 4, false},
	KindRemoveStreams: {"remove_streams", 4, false},
	KindSetStreamData: {"set_stream_data", 9, false},
	KindSetStreamRaw:  {"set_stream_raw", 9, false},
	KindStartStreams:  {"start_streams", 0, false},
	KindStopStreams:   {"stop_streams", 0, false},
	KindVibrate:       {"vibrate", 12, false},

	KindHandshakeEcho: {"handshake_echo", 2, true},
	KindSuccess:       {"success", 2, true},
	KindFailure:       {"failure", 0, true},
	KindJointData:     {"joint_data", JointDataBodyLen, true},
	KindRawData:       {"raw_data", RawDataBodyLen, true},
	KindDongleList:    {"dongle_list", 4, true},
	KindDeviceList:    {"device_list", 4, true},
	KindSourceList:    {"source_list", 4, true},
	KindSourceInfo:    {"source_info", 20, true},
	KindDeviceInfo:    {"device_info", 21, true},
}

// Name returns the metric/log label for kind, or "unknown".
func Name(kind uint16) string {
	if info, ok := kinds[kind]; ok {
		return info.name
	}
	return "unknown"
}

func Known(kind uint16) bool {
	_, ok := kinds[kind]
	return ok
}

func IsEvent(kind uint16) bool {
	info, ok := kinds[kind]
	return ok && info.event
}

// MinBody is the fixed part of a kind's body; variable tails are checked by the codec.
func MinBody(kind uint16) (int, bool) {
	info, ok := kinds[kind]
	return info.minBody, ok
}

type ValidationError struct {
	Kind    uint16
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: kind=0x%04x: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("schema: kind=0x%04x field=%d: %s", e.Kind, e.FieldID, e.Reason)
}

// Validate checks that a body is long enough for its kind's fixed layout.
func Validate(kind uint16, bodyLen int) error {
	info, ok := kinds[kind]
	if !ok {
		log.Debug().Uint16("kind", kind).Msg("schema.Validate unknown kind")
		return ValidationError{Kind: kind, Reason: "unknown kind"}
	}
	if bodyLen < info.minBody {
		log.Debug().
			Str("kind", info.name).
			Int("body", bodyLen).
			Int("min", info.minBody).
			Msg("schema.Validate short body")
		return ValidationError{Kind: kind, Reason: fmt.Sprintf("short body: %d < %d", bodyLen, info.minBody)}
	}
	return nil
}

// Filter descriptor types carried in add-filter requests.
const (
	FilterMeshMapping uint8 = 2
	FilterGesture     uint8 = 3
)

// Filter descriptor field IDs.
const (
	FieldFilterType uint16 = 1

	FieldGestures   uint16 = 10
	FieldBlendFloor uint16 = 11
	FieldBlendCeil  uint16 = 12

	// FieldMeshNodeBase+i carries node i's up/forward/right axis codes.
	FieldMeshNodeBase uint16 = 20
	FieldNegateX      uint16 = 40
	FieldNegateY      uint16 = 41
	FieldNegateZ      uint16 = 42
)

// MeshNodeCount covers left wrist/thumb/finger, right wrist/thumb/finger and world.
const MeshNodeCount = 7

type Requirement struct {
	ID   uint16
	Type uint8
}

var filterRequirements = map[uint8][]Requirement{
	FilterGesture: {
		{FieldGestures, tlv.TypeBytes},
		{FieldBlendFloor, tlv.TypeF64},
		{FieldBlendCeil, tlv.TypeF64},
	},
	FilterMeshMapping: meshRequirements(),
}

func meshRequirements() []Requirement {
	reqs := make([]Requirement, 0, MeshNodeCount+3)
	for i := 0; i < MeshNodeCount; i++ {
		reqs = append(reqs, Requirement{FieldMeshNodeBase + uint16(i), tlv.TypeBytes})
	}
	return append(reqs,
		Requirement{FieldNegateX, tlv.TypeBool},
		Requirement{FieldNegateY, tlv.TypeBool},
		Requirement{FieldNegateZ, tlv.TypeBool},
	)
}

// ValidateFilter enforces required fields and field types of a filter descriptor.
// Unknown fields are ignored.
func ValidateFilter(fields []tlv.Field) error {
	ft, found := tlv.GetField(fields, FieldFilterType)
	if !found {
		return ValidationError{Kind: KindAddFilters, FieldID: FieldFilterType, Reason: "missing required field"}
	}
	filterType, err := tlv.U8FromBytes(ft.Value)
	if err != nil || ft.Type != tlv.TypeU8 {
		return ValidationError{Kind: KindAddFilters, FieldID: FieldFilterType, Reason: "type mismatch"}
	}
	reqs, ok := filterRequirements[filterType]
	if !ok {
		log.Warn().Uint8("filter_type", filterType).Msg("schema.ValidateFilter unknown filter type")
		return ValidationError{Kind: KindAddFilters, FieldID: FieldFilterType, Reason: "unknown filter type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			return ValidationError{Kind: KindAddFilters, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Warn().
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.ValidateFilter type mismatch")
			return ValidationError{Kind: KindAddFilters, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
