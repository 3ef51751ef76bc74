package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PrefixLen is the size of the little-endian payload length that precedes every packet.
const PrefixLen = 4

var (
	ErrShortPrefix       = errors.New("frame: short length prefix")
	ErrPayloadTooSmall   = errors.New("frame: payload below minimum size")
	ErrPayloadTooLarge   = errors.New("frame: payload above maximum size")
	ErrReassemblerFaulty = errors.New("frame: reassembler in fault state")
)

// Limits are the wire sanity bounds for one payload. They are not negotiated.
type Limits struct {
	MinPayloadBytes uint32
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MinPayloadBytes: 8,
		MaxPayloadBytes: 1024,
	}
}

// Check reports whether a declared payload length is inside the bounds.
func (l Limits) Check(n uint32) error {
	if n < l.MinPayloadBytes {
		return fmt.Errorf("%w: declared=%d min=%d", ErrPayloadTooSmall, n, l.MinPayloadBytes)
	}
	if n > l.MaxPayloadBytes {
		return fmt.Errorf("%w: declared=%d max=%d", ErrPayloadTooLarge, n, l.MaxPayloadBytes)
	}
	return nil
}

// Wrap prepends the length prefix to payload.
func Wrap(payload []byte, limits Limits) ([]byte, error) {
	if err := limits.Check(uint32(len(payload))); err != nil {
		return nil, err
	}
	out := make([]byte, PrefixLen+len(payload))
	binary.LittleEndian.PutUint32(out[0:PrefixLen], uint32(len(payload)))
	copy(out[PrefixLen:], payload)
	return out, nil
}

// WriteFrame writes one length-prefixed payload to w.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	wrapped, err := Wrap(payload, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(wrapped)
	return err
}

// ReadFrame reads exactly one length-prefixed payload from r.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortPrefix
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if err := limits.Check(n); err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Reassembler turns an arbitrarily chunked byte stream into whole payloads.
// It knows nothing about payload contents. Not safe for concurrent use.
type Reassembler struct {
	limits Limits
	buf    []byte
	fault  error
}

func NewReassembler(limits Limits) *Reassembler {
	return &Reassembler{limits: limits}
}

// Write appends a chunk to the accumulation buffer. It never fails unless the
// reassembler has faulted and has not been Reset.
func (r *Reassembler) Write(p []byte) (int, error) {
	if r.fault != nil {
		return 0, fmt.Errorf("%w: %w", ErrReassemblerFaulty, r.fault)
	}
	r.buf = append(r.buf, p...)
	return len(p), nil
}

// Next returns the next complete payload. It returns (nil, nil) when more
// bytes are needed. A bounds violation discards everything buffered and
// leaves the reassembler faulted until Reset.
func (r *Reassembler) Next() ([]byte, error) {
	if r.fault != nil {
		return nil, r.fault
	}
	if len(r.buf) < PrefixLen {
		return nil, nil
	}
	n := binary.LittleEndian.Uint32(r.buf[0:PrefixLen])
	if err := r.limits.Check(n); err != nil {
		r.fault = err
		r.buf = nil
		return nil, err
	}
	end := PrefixLen + int(n)
	if len(r.buf) < end {
		return nil, nil
	}
	payload := make([]byte, n)
	copy(payload, r.buf[PrefixLen:end])
	r.buf = r.buf[end:]
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return payload, nil
}

// Feed appends chunk and drains every payload it completes. Payloads that
// precede a bounds violation in the same chunk are still returned.
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	if _, err := r.Write(chunk); err != nil {
		return nil, err
	}
	var out [][]byte
	for {
		payload, err := r.Next()
		if err != nil {
			return out, err
		}
		if payload == nil {
			return out, nil
		}
		out = append(out, payload)
	}
}

// Buffered is the number of bytes held waiting for a complete packet.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Faulted reports the bounds violation that stopped the reassembler, if any.
func (r *Reassembler) Faulted() error {
	return r.fault
}

// Reset drops buffered bytes and clears the fault state.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.fault = nil
}
