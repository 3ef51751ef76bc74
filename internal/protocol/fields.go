package protocol

import (
	"encoding/binary"
	"math"
)

// builder appends little-endian scalars to a payload.
type builder struct {
	buf []byte
}

func newBuilder(kind, token uint16, session uint64, bodyHint int) *builder {
	b := &builder{buf: make([]byte, 0, HeaderLen+bodyHint)}
	b.u16(kind)
	b.u16(token)
	b.u64(session)
	return b
}

func (b *builder) u8(v uint8) {
	b.buf = append(b.buf, v)
}

func (b *builder) i8(v int8) {
	b.buf = append(b.buf, byte(v))
}

func (b *builder) bool(v bool) {
	if v {
		b.u8(1)
		return
	}
	b.u8(0)
}

func (b *builder) u16(v uint16) {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
}

func (b *builder) u32(v uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

func (b *builder) u64(v uint64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
}

func (b *builder) f32(v float32) {
	b.u32(math.Float32bits(v))
}

func (b *builder) f64(v float64) {
	b.u64(math.Float64bits(v))
}

func (b *builder) quat(q Quat) {
	b.f32(q.W)
	b.f32(q.X)
	b.f32(q.Y)
	b.f32(q.Z)
}

func (b *builder) bytes(v []byte) {
	b.buf = append(b.buf, v...)
}

func (b *builder) ids32(ids []uint64) {
	b.u32(uint32(len(ids)))
	for _, id := range ids {
		b.u64(id)
	}
}

// reader consumes little-endian scalars. The first short read sticks in err
// and every later read returns zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = ErrTruncated
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) i8() int8 {
	return int8(r.u8())
}

func (r *reader) bool() bool {
	return r.u8() != 0
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *reader) f64() float64 {
	return math.Float64frombits(r.u64())
}

func (r *reader) quat() Quat {
	return Quat{W: r.f32(), X: r.f32(), Y: r.f32(), Z: r.f32()}
}

func (r *reader) copyBytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) rest() []byte {
	return r.copyBytes(len(r.buf) - r.off)
}

func (r *reader) ids(n int) []uint64 {
	if r.err != nil {
		return nil
	}
	if n < 0 || (len(r.buf)-r.off)/8 < n {
		r.err = ErrTruncated
		return nil
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = r.u64()
	}
	return out
}
