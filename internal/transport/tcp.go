package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/glovelink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrQueueFull    = errors.New("transport: send queue full")
	ErrNoAddress    = errors.New("transport: address is required")
)

// PacketHandler receives one reassembled payload, length prefix stripped.
// It runs on the receive goroutine and blocks further reads until it returns.
type PacketHandler func(payload []byte)

// DisconnectHandler is told why an established connection went away.
type DisconnectHandler func(cause error)

type Config struct {
	Address        string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	ReadBuffer     int
	SendQueue      int
	Limits         frame.Limits
}

func DefaultConfig(address string) Config {
	return Config{
		Address:        address,
		ConnectTimeout: 2 * time.Second,
		WriteTimeout:   2 * time.Second,
		ReadBuffer:     256,
		SendQueue:      256,
		Limits:         frame.DefaultLimits(),
	}
}

// Stats is a point-in-time copy of the transport counters.
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64
	FramesSent    uint64
	FramesRecv    uint64
	Connects      uint64
	Disconnects   uint64
	DialFailures  uint64
	CorruptFrames uint64
	Dropped       uint64
}

// TCP is a reconnectable client connection. Connect starts an asynchronous
// dial; Close tears down whatever is current and may be followed by Connect.
type TCP struct {
	cfg Config

	mu         sync.Mutex
	conn       net.Conn
	sendCh     chan []byte
	gen        uint64
	dialing    bool
	dialCancel context.CancelFunc
	onPacket   PacketHandler
	onDown     DisconnectHandler

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		framesSent    atomic.Uint64
		framesRecv    atomic.Uint64
		connects      atomic.Uint64
		disconnects   atomic.Uint64
		dialFailures  atomic.Uint64
		corruptFrames atomic.Uint64
		dropped       atomic.Uint64
	}
}

func NewTCP(cfg Config) (*TCP, error) {
	if cfg.Address == "" {
		return nil, ErrNoAddress
	}
	def := DefaultConfig(cfg.Address)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = def.ReadBuffer
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}
	if cfg.Limits == (frame.Limits{}) {
		cfg.Limits = def.Limits
	}
	return &TCP{cfg: cfg}, nil
}

func (t *TCP) Address() string {
	return t.cfg.Address
}

// OnPacket installs the payload callback. Set it before Connect.
func (t *TCP) OnPacket(h PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPacket = h
}

func (t *TCP) OnDisconnect(h DisconnectHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDown = h
}

// Connect starts a dial unless one is running or a connection is up. It never
// blocks and never fails; the outcome is visible through IsConnected.
func (t *TCP) Connect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil || t.dialing {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
	t.dialing = true
	t.dialCancel = cancel
	go t.dial(ctx, cancel, t.gen)
}

func (t *TCP) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.cfg.Address)

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	t.dialing = false
	t.dialCancel = nil
	if err != nil {
		t.mu.Unlock()
		t.stats.dialFailures.Add(1)
		log.Debug().Err(err).Str("addr", t.cfg.Address).Msg("transport: connect failed")
		return
	}
	sendCh := make(chan []byte, t.cfg.SendQueue)
	t.conn = conn
	t.sendCh = sendCh
	handler := t.onPacket
	t.stats.connects.Add(1)
	t.mu.Unlock()

	log.Info().Str("addr", t.cfg.Address).Str("local", conn.LocalAddr().String()).Msg("transport: connected")
	go t.writeLoop(conn, sendCh, gen)
	go t.readLoop(conn, handler, gen)
}

// IsConnected is true only while a socket is established.
func (t *TCP) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send frames payload and queues it. It is fire-and-forget: the payload is
// dropped when there is no connection or the queue is full.
func (t *TCP) Send(payload []byte) error {
	wrapped, err := frame.Wrap(payload, t.cfg.Limits)
	if err != nil {
		t.stats.dropped.Add(1)
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		t.stats.dropped.Add(1)
		return ErrNotConnected
	}
	select {
	case t.sendCh <- wrapped:
		return nil
	default:
		t.stats.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close tears down the connection and any dial in flight. Idempotent.
func (t *TCP) Close() {
	t.mu.Lock()
	down := t.teardownLocked()
	t.mu.Unlock()
	if down {
		log.Debug().Str("addr", t.cfg.Address).Msg("transport: closed")
	}
}

// teardownLocked bumps the generation so goroutines of the old connection
// stop touching shared state. It reports whether a live conn was closed.
func (t *TCP) teardownLocked() bool {
	t.gen++
	if t.dialCancel != nil {
		t.dialCancel()
		t.dialCancel = nil
	}
	t.dialing = false
	if t.conn == nil {
		return false
	}
	_ = t.conn.Close()
	close(t.sendCh)
	t.conn = nil
	t.sendCh = nil
	t.stats.disconnects.Add(1)
	return true
}

// fail closes the connection of generation gen if it is still current.
func (t *TCP) fail(gen uint64, cause error) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	down := t.teardownLocked()
	onDown := t.onDown
	t.mu.Unlock()
	if !down {
		return
	}
	log.Warn().Err(cause).Str("addr", t.cfg.Address).Msg("transport: connection lost")
	if onDown != nil {
		onDown(cause)
	}
}

func (t *TCP) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen == gen
}

func (t *TCP) readLoop(conn net.Conn, handler PacketHandler, gen uint64) {
	buf := make([]byte, t.cfg.ReadBuffer)
	r := frame.NewReassembler(t.cfg.Limits)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			t.stats.bytesReceived.Add(uint64(n))
			payloads, ferr := r.Feed(buf[:n])
			for _, p := range payloads {
				if !t.current(gen) {
					return
				}
				t.stats.framesRecv.Add(1)
				if handler != nil {
					handler(p)
				}
			}
			if ferr != nil {
				t.stats.corruptFrames.Add(1)
				t.fail(gen, fmt.Errorf("corrupt stream: %w", ferr))
				return
			}
		}
		if err != nil {
			t.fail(gen, err)
			return
		}
	}
}

func (t *TCP) writeLoop(conn net.Conn, sendCh <-chan []byte, gen uint64) {
	for p := range sendCh {
		if t.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
		}
		n, err := conn.Write(p)
		t.stats.bytesSent.Add(uint64(n))
		if err != nil {
			t.fail(gen, err)
			return
		}
		t.stats.framesSent.Add(1)
	}
}

func (t *TCP) Stats() Stats {
	return Stats{
		BytesSent:     t.stats.bytesSent.Load(),
		BytesReceived: t.stats.bytesReceived.Load(),
		FramesSent:    t.stats.framesSent.Load(),
		FramesRecv:    t.stats.framesRecv.Load(),
		Connects:      t.stats.connects.Load(),
		Disconnects:   t.stats.disconnects.Load(),
		DialFailures:  t.stats.dialFailures.Load(),
		CorruptFrames: t.stats.corruptFrames.Load(),
		Dropped:       t.stats.dropped.Load(),
	}
}
