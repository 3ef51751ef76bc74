package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderLen is u16 id + u8 type + u16 value length, little-endian.
const HeaderLen = 5

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrValueTooLong     = errors.New("tlv: field value exceeds u16 length")
)

// Type IDs carried in the field header.
const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
	TypeI8     uint8 = 8
	TypeF64    uint8 = 9
)

// Field is one decoded TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func EncodeField(f Field) ([]byte, error) {
	if len(f.Value) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: field=%d len=%d", ErrValueTooLong, f.ID, len(f.Value))
	}
	buf := make([]byte, HeaderLen+len(f.Value))
	binary.LittleEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = f.Type
	binary.LittleEndian.PutUint16(buf[3:5], uint16(len(f.Value)))
	copy(buf[HeaderLen:], f.Value)
	return buf, nil
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.LittleEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := int(binary.LittleEndian.Uint16(payload[i+3 : i+5]))
		i += HeaderLen
		if len(payload)-i < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+l])
		i += l
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func EncodeFields(fields []Field) ([]byte, error) {
	out := make([]byte, 0)
	for _, f := range fields {
		b, err := EncodeField(f)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func MustType(f Field, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("tlv: field %d type mismatch: got %d want %d", f.ID, f.Type, expected)
	}
	return nil
}

func U8(id uint16, v uint8) Field {
	return Field{ID: id, Type: TypeU8, Value: []byte{v}}
}

func I8(id uint16, v int8) Field {
	return Field{ID: id, Type: TypeI8, Value: []byte{byte(v)}}
}

func Bool(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func F64(id uint16, v float64) Field {
	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, math.Float64bits(v))
	return Field{ID: id, Type: TypeF64, Value: val}
}

func Bytes(id uint16, v []byte) Field {
	val := make([]byte, len(v))
	copy(val, v)
	return Field{ID: id, Type: TypeBytes, Value: val}
}

func U8FromBytes(b []byte) (uint8, error) {
	if len(b) != 1 {
		return 0, fmt.Errorf("tlv: invalid u8 length: %d", len(b))
	}
	return b[0], nil
}

func I8FromBytes(b []byte) (int8, error) {
	if len(b) != 1 {
		return 0, fmt.Errorf("tlv: invalid i8 length: %d", len(b))
	}
	return int8(b[0]), nil
}

func BoolFromBytes(b []byte) (bool, error) {
	if len(b) != 1 {
		return false, fmt.Errorf("tlv: invalid bool length: %d", len(b))
	}
	return b[0] != 0, nil
}

func U32FromBytes(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("tlv: invalid u32 length: %d", len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

func F64FromBytes(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("tlv: invalid f64 length: %d", len(b))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}
