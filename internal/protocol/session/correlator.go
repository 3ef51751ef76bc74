package session

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

var (
	ErrZeroToken  = errors.New("session: token 0 is reserved for untracked requests")
	ErrTokenInUse = errors.New("session: token already registered")
)

// RequestKind is the meaning of an outstanding request.
type RequestKind int

const (
	RequestIdentify RequestKind = iota + 1
	RequestGestureFilter
	RequestConvertFilter
	RequestAddToStream
	RequestDataStream
	RequestRawStream
	RequestStartStreaming
	RequestStopStreaming
	RequestVibrate
)

func (k RequestKind) String() string {
	switch k {
	case RequestIdentify:
		return "identify"
	case RequestGestureFilter:
		return "add_gesture_filter"
	case RequestConvertFilter:
		return "add_convert_filter"
	case RequestAddToStream:
		return "add_to_stream"
	case RequestDataStream:
		return "enable_data_stream"
	case RequestRawStream:
		return "enable_raw_stream"
	case RequestStartStreaming:
		return "start_streaming"
	case RequestStopStreaming:
		return "stop_streaming"
	case RequestVibrate:
		return "vibrate"
	default:
		return "unknown"
	}
}

// PendingRequest is one request awaiting its success or failure reply.
type PendingRequest struct {
	Token     uint16
	Kind      RequestKind
	Device    uint64
	HasDevice bool
	IssuedAt  time.Time
}

// Correlator maps tokens to pending requests. Each entry resolves at most once.
type Correlator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	items map[uint16]PendingRequest
}

func NewCorrelator(rng *rand.Rand) *Correlator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Correlator{
		rng:   rng,
		items: make(map[uint16]PendingRequest),
	}
}

// NewToken draws a random non-zero token. It may collide with an outstanding
// one; Register reports that.
func (c *Correlator) NewToken() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newTokenLocked()
}

func (c *Correlator) newTokenLocked() uint16 {
	return uint16(1 + c.rng.Intn(0xFFFF))
}

func (c *Correlator) Register(req PendingRequest) error {
	if req.Token == 0 {
		return ErrZeroToken
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[req.Token]; ok {
		return fmt.Errorf("%w: token=%d", ErrTokenInUse, req.Token)
	}
	c.items[req.Token] = req
	return nil
}

// Issue registers req under a fresh token, redrawing on collision, and returns
// the stored entry. It fails only when every token is outstanding.
func (c *Correlator) Issue(req PendingRequest) (PendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) >= 0xFFFF {
		return PendingRequest{}, fmt.Errorf("%w: table full", ErrTokenInUse)
	}
	for {
		token := c.newTokenLocked()
		if _, ok := c.items[token]; ok {
			continue
		}
		req.Token = token
		c.items[token] = req
		return req, nil
	}
}

// Resolve removes and returns the entry for token.
func (c *Correlator) Resolve(token uint16) (PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.items[token]
	if ok {
		delete(c.items, token)
	}
	return req, ok
}

func (c *Correlator) Get(token uint16) (PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.items[token]
	return req, ok
}

// Expire drops entries issued before now-timeout and returns them.
func (c *Correlator) Expire(now time.Time, timeout time.Duration) []PendingRequest {
	if timeout <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []PendingRequest
	for token, req := range c.items {
		if now.Sub(req.IssuedAt) >= timeout {
			out = append(out, req)
			delete(c.items, token)
		}
	}
	sortByToken(out)
	return out
}

// DropDevice forgets every entry owned by device. Late replies to them resolve
// as unknown tokens.
func (c *Correlator) DropDevice(device uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for token, req := range c.items {
		if req.HasDevice && req.Device == device {
			delete(c.items, token)
			n++
		}
	}
	return n
}

func (c *Correlator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[uint16]PendingRequest)
}

func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Correlator) List() []PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingRequest, 0, len(c.items))
	for _, req := range c.items {
		out = append(out, req)
	}
	sortByToken(out)
	return out
}

func sortByToken(items []PendingRequest) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Token < items[j].Token
	})
}
