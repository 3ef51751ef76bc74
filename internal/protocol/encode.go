package protocol

import (
	"fmt"
	"math"

	"github.com/danmuck/glovelink/internal/protocol/schema"
)

// Codec encodes client requests for one session. It carries no other state.
type Codec struct {
	ClientID uint16
	session  uint64
}

func NewCodec(clientID uint16, session uint64) *Codec {
	return &Codec{ClientID: clientID, session: session}
}

func (c *Codec) Session() uint64 {
	return c.session
}

// Reset binds the codec to a new session id.
func (c *Codec) Reset(session uint64) {
	c.session = session
}

func (c *Codec) start(kind, token uint16, bodyHint int) *builder {
	return newBuilder(kind, token, c.session, bodyHint)
}

// EncodeHandshake opens the handshake. The echo reply is uncorrelated.
func (c *Codec) EncodeHandshake() []byte {
	b := c.start(schema.KindHandshake, 0, 2)
	b.u16(c.ClientID)
	return b.buf
}

// EncodeHandshakeAck returns the server's echo bytes unchanged.
func (c *Codec) EncodeHandshakeAck(echo []byte) ([]byte, error) {
	if len(echo) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: echo=%d", ErrTooManyItems, len(echo))
	}
	b := c.start(schema.KindHandshakeAck, 0, 4+len(echo))
	b.u16(c.ClientID)
	b.u16(uint16(len(echo)))
	b.bytes(echo)
	return b.buf, nil
}

func (c *Codec) EncodeListDongles(token uint16) []byte {
	return c.start(schema.KindListDongles, token, 0).buf
}

func (c *Codec) EncodeListDevices(token uint16, dongle uint64) []byte {
	b := c.start(schema.KindListDevices, token, 8)
	b.u64(dongle)
	return b.buf
}

func (c *Codec) EncodeListSources(token uint16) []byte {
	return c.start(schema.KindListSources, token, 0).buf
}

func (c *Codec) EncodeGetSourceInfo(token uint16, source uint64) []byte {
	b := c.start(schema.KindGetSourceInfo, token, 8)
	b.u64(source)
	return b.buf
}

func (c *Codec) EncodeGetDeviceInfo(token uint16, device uint64) []byte {
	b := c.start(schema.KindGetDeviceInfo, token, 8)
	b.u64(device)
	return b.buf
}

// EncodeAddFilters inserts filters, in order, downstream of every source.
// Each filter is a TLV descriptor built by GestureFilter.Descriptor or
// MeshConfig.Descriptor.
func (c *Codec) EncodeAddFilters(token uint16, sources []uint64, filters [][]byte) ([]byte, error) {
	if len(sources) > math.MaxUint8 || len(filters) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: sources=%d filters=%d", ErrTooManyItems, len(sources), len(filters))
	}
	hint := 2 + 8*len(sources)
	for _, f := range filters {
		if len(f) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: descriptor=%d", ErrTooManyItems, len(f))
		}
		hint += 2 + len(f)
	}
	b := c.start(schema.KindAddFilters, token, hint)
	b.u8(uint8(len(sources)))
	for _, s := range sources {
		b.u64(s)
	}
	b.u8(uint8(len(filters)))
	for _, f := range filters {
		b.u16(uint16(len(f)))
		b.bytes(f)
	}
	return b.buf, nil
}

func (c *Codec) EncodeRemoveFilter(token uint16, endpoint uint64) []byte {
	b := c.start(schema.KindRemoveFilter, token, 8)
	b.u64(endpoint)
	return b.buf
}

func (c *Codec) EncodeAddStreams(token uint16, endpoints ...uint64) []byte {
	b := c.start(schema.KindAddStreams, token, 4+8*len(endpoints))
	b.ids32(endpoints)
	return b.buf
}

func (c *Codec) EncodeRemoveStreams(token uint16, endpoints ...uint64) []byte {
	b := c.start(schema.KindRemoveStreams, token, 4+8*len(endpoints))
	b.ids32(endpoints)
	return b.buf
}

func (c *Codec) EncodeSetStreamData(token uint16, endpoint uint64, enabled bool) []byte {
	b := c.start(schema.KindSetStreamData, token, 9)
	b.u64(endpoint)
	b.bool(enabled)
	return b.buf
}

func (c *Codec) EncodeSetStreamRaw(token uint16, endpoint uint64, enabled bool) []byte {
	b := c.start(schema.KindSetStreamRaw, token, 9)
	b.u64(endpoint)
	b.bool(enabled)
	return b.buf
}

func (c *Codec) EncodeStartStreams(token uint16) []byte {
	return c.start(schema.KindStartStreams, token, 0).buf
}

func (c *Codec) EncodeStopStreams(token uint16) []byte {
	return c.start(schema.KindStopStreams, token, 0).buf
}

func (c *Codec) EncodeVibrate(token uint16, device uint64, durationMillis, power uint16) []byte {
	b := c.start(schema.KindVibrate, token, 12)
	b.u64(device)
	b.u16(durationMillis)
	b.u16(power)
	return b.buf
}
