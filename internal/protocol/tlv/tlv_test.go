package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		U8(1, 3),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b, err := EncodeFields(in)
	if err != nil {
		t.Fatalf("encode fields: %v", err)
	}
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestEncodeFieldIsLittleEndian(t *testing.T) {
	b, err := EncodeField(Field{ID: 0x0102, Type: TypeBytes, Value: []byte{9, 9, 9}})
	if err != nil {
		t.Fatalf("encode field: %v", err)
	}
	want := []byte{0x02, 0x01, TypeBytes, 0x03, 0x00, 9, 9, 9}
	if !bytes.Equal(b, want) {
		t.Fatalf("unexpected encoding: got=%v want=%v", b, want)
	}
}

func TestScalarHelpers(t *testing.T) {
	fields := []Field{I8(1, -2), Bool(2, true), F64(3, 0.75), U8(4, 200)}
	got, ok := GetField(fields, 1)
	if !ok {
		t.Fatalf("field 1 missing")
	}
	if v, err := I8FromBytes(got.Value); err != nil || v != -2 {
		t.Fatalf("i8: got=%d err=%v", v, err)
	}
	if v, err := BoolFromBytes(fields[1].Value); err != nil || !v {
		t.Fatalf("bool: got=%v err=%v", v, err)
	}
	if v, err := F64FromBytes(fields[2].Value); err != nil || v != 0.75 {
		t.Fatalf("f64: got=%v err=%v", v, err)
	}
	if v, err := U8FromBytes(fields[3].Value); err != nil || v != 200 {
		t.Fatalf("u8: got=%d err=%v", v, err)
	}
	if err := MustType(fields[2], TypeU8); err == nil {
		t.Fatalf("expected type mismatch")
	}
	if _, err := U32FromBytes([]byte{1}); err == nil {
		t.Fatalf("expected invalid u32 length")
	}
}

func TestEncodeFieldRejectsOversizedValue(t *testing.T) {
	_, err := EncodeField(Field{ID: 1, Type: TypeBytes, Value: make([]byte, 70000)})
	if !errors.Is(err, ErrValueTooLong) {
		t.Fatalf("expected ErrValueTooLong, got %v", err)
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{1, 0, TypeString, 5, 0, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}
