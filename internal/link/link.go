package link

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/glovelink/internal/device"
	"github.com/danmuck/glovelink/internal/observability"
	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/protocol/schema"
	"github.com/danmuck/glovelink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var ErrNilTransport = errors.New("link: transport is required")

// Transport is the socket the link drives. transport.TCP satisfies it.
type Transport interface {
	Connect()
	Send(payload []byte) error
	IsConnected() bool
	Close()
}

// Link is one client session with the glove server. The tick flow and the
// receive flow both enter through methods that take mu.
type Link struct {
	cfg        Config
	tr         Transport
	now        func() time.Time
	pinchDesc  []byte
	meshDesc   []byte
	stopOnce   sync.Once
	stopCh     chan struct{}

	mu             sync.Mutex
	rng            *rand.Rand
	state          State
	codec          *protocol.Codec
	corr           *session.Correlator
	reg            *device.Registry
	dongle         uint64
	failedConnects int
	streamToken    uint16
	handshakeAt    time.Time
	notes          []func()

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

func New(cfg Config, tr Transport) (*Link, error) {
	if tr == nil {
		return nil, ErrNilTransport
	}
	if cfg.ClientID == 0 {
		cfg.ClientID = protocol.DefaultClientID
	}
	if cfg.Poll.Fast <= 0 {
		cfg.Poll = session.DefaultPollConfig()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = session.DefaultConfig().RequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	pinch, err := protocol.PinchFilter().Descriptor()
	if err != nil {
		return nil, err
	}
	mesh, err := cfg.Mesh.Descriptor()
	if err != nil {
		return nil, err
	}
	l := &Link{
		cfg:       cfg,
		tr:        tr,
		now:       cfg.Now,
		pinchDesc: pinch,
		meshDesc:  mesh,
		stopCh:    make(chan struct{}),
		rng:       cfg.Rand,
		state:     Connecting,
		corr:      session.NewCorrelator(rand.New(rand.NewSource(cfg.Rand.Int63()))),
		reg:       device.NewRegistry(),
		listeners: make(map[int]Listener),
	}
	l.codec = protocol.NewCodec(cfg.ClientID, l.newSessionIDLocked())
	return l, nil
}

func (l *Link) newSessionIDLocked() uint64 {
	for {
		if id := l.rng.Uint64(); id != 0 {
			return id
		}
	}
}

// Tick advances the link by one step and returns how long to wait before the
// next one. It only queues sends and never waits on the network.
func (l *Link) Tick() time.Duration {
	l.mu.Lock()
	connected := l.tr.IsConnected()
	if !connected && l.state != Connecting {
		log.Warn().Str("state", l.state.String()).Msg("link: connection lost, resetting session")
		l.resetLocked("transport_disconnected")
	}

	if l.state > Handshaking {
		l.expireLocked()
		l.pollLocked()
	}

	switch l.state {
	case Connecting:
		if connected {
			l.failedConnects = 0
			l.setStateLocked(Handshaking)
			break
		}
		l.failedConnects++
		if l.failedConnects == l.cfg.Poll.SlowAfterAttempts {
			log.Warn().Int("attempts", l.failedConnects).Msg("link: server unreachable, slowing reconnect")
		}
		l.tr.Connect()
	case Handshaking:
		now := l.now()
		if l.handshakeAt.IsZero() || now.Sub(l.handshakeAt) >= l.cfg.RequestTimeout {
			log.Info().Uint64("session", l.codec.Session()).Msg("link: start handshake")
			l.sendLocked(l.codec.EncodeHandshake())
			l.handshakeAt = now
		}
	case DeviceSetup:
		l.setupDevicesLocked()
		if l.streamToken == 0 && l.reg.AllReady() {
			log.Info().Int("devices", l.reg.Len()).Msg("link: all devices ready, start streaming")
			l.streamToken = l.issueLocked(session.RequestStartStreaming, 0, false, func(token uint16) ([]byte, error) {
				return l.codec.EncodeStartStreams(token), nil
			})
		}
	case Streaming:
		if l.streamToken == 0 && l.reg.AnyIdentifying() {
			log.Info().Msg("link: new device discovered, stop streaming")
			l.streamToken = l.issueLocked(session.RequestStopStreaming, 0, false, func(token uint16) ([]byte, error) {
				return l.codec.EncodeStopStreams(token), nil
			})
		}
	}

	l.recordGaugesLocked()
	delay := session.NextPollDelay(l.cfg.Poll, l.failedConnects)
	notes := l.takeNotesLocked()
	l.mu.Unlock()
	runNotes(notes)
	return delay
}

// Run ticks until ctx is done or Stop is called, then closes the transport.
func (l *Link) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	defer l.tr.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return nil
		case <-timer.C:
			timer.Reset(l.Tick())
		}
	}
}

func (l *Link) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// resetLocked drops everything bound to the current connection.
func (l *Link) resetLocked(reason string) {
	l.corr.Clear()
	l.reg.Clear()
	l.dongle = 0
	l.streamToken = 0
	l.handshakeAt = time.Time{}
	l.codec.Reset(l.newSessionIDLocked())
	l.tr.Close()
	l.setStateLocked(Connecting)
	observability.RecordReset(reason)
}

func (l *Link) setStateLocked(to State) {
	from := l.state
	if from == to {
		return
	}
	l.state = to
	log.Info().Str("from", from.String()).Str("to", to.String()).Msg("link: state changed")
	l.deferLocked(func() { l.emitState(from, to) })
}

func (l *Link) sendLocked(payload []byte) bool {
	head, err := protocol.DecodeHeader(payload)
	if err != nil {
		log.Error().Err(err).Msg("link: refusing to send malformed payload")
		return false
	}
	if err := l.tr.Send(payload); err != nil {
		log.Debug().Err(err).Str("kind", schema.Name(head.Kind)).Msg("link: send dropped")
		return false
	}
	observability.RecordRequestOut(schema.Name(head.Kind))
	return true
}

// issueLocked sends a tracked request and returns its token, or 0 when
// nothing went out. A request that was not sent leaves no pending entry.
func (l *Link) issueLocked(kind session.RequestKind, dev uint64, hasDev bool, encode func(token uint16) ([]byte, error)) uint16 {
	req, err := l.corr.Issue(session.PendingRequest{Kind: kind, Device: dev, HasDevice: hasDev, IssuedAt: l.now()})
	if err != nil {
		log.Error().Err(err).Str("request", kind.String()).Msg("link: no correlation token available")
		return 0
	}
	payload, err := encode(req.Token)
	if err != nil {
		l.corr.Resolve(req.Token)
		log.Error().Err(err).Str("request", kind.String()).Msg("link: encode failed")
		return 0
	}
	if !l.sendLocked(payload) {
		l.corr.Resolve(req.Token)
		return 0
	}
	return req.Token
}

// pollLocked asks for dongles, devices and device info every tick once the
// handshake is done.
func (l *Link) pollLocked() {
	l.sendLocked(l.codec.EncodeListDongles(0))
	if l.dongle == 0 {
		return
	}
	l.sendLocked(l.codec.EncodeListDevices(0, l.dongle))
	l.reg.Each(func(d *device.Device) {
		if d.State == device.Ready {
			l.sendLocked(l.codec.EncodeGetDeviceInfo(0, d.ID))
		}
	})
}

func (l *Link) expireLocked() {
	for _, req := range l.corr.Expire(l.now(), l.cfg.RequestTimeout) {
		log.Warn().
			Uint16("token", req.Token).
			Str("request", req.Kind.String()).
			Uint64("device", req.Device).
			Msg("link: request expired without reply")
		observability.RecordExpiredRequest(req.Kind.String())
		if req.Token == l.streamToken {
			l.streamToken = 0
		}
		if req.HasDevice {
			if d, ok := l.reg.Get(req.Device); ok {
				d.ClearPending(req.Token)
			}
		}
	}
}

func (l *Link) setupDevicesLocked() {
	l.reg.Each(func(d *device.Device) {
		step, err := d.Next(l.cfg.PinchFilter)
		if err != nil {
			log.Error().Err(err).Uint64("device", d.ID).Msg("link: device in invalid state")
			return
		}
		if step.None() {
			return
		}
		token := l.issueLocked(step.Kind, d.ID, true, func(token uint16) ([]byte, error) {
			return l.encodeStep(token, step)
		})
		if token != 0 {
			d.MarkPending(token)
		}
	})
}

func (l *Link) encodeStep(token uint16, step device.Step) ([]byte, error) {
	switch step.Kind {
	case session.RequestIdentify:
		return l.codec.EncodeGetSourceInfo(token, step.Endpoint), nil
	case session.RequestGestureFilter:
		return l.codec.EncodeAddFilters(token, []uint64{step.Endpoint}, [][]byte{l.pinchDesc})
	case session.RequestConvertFilter:
		return l.codec.EncodeAddFilters(token, []uint64{step.Endpoint}, [][]byte{l.meshDesc})
	case session.RequestAddToStream:
		return l.codec.EncodeAddStreams(token, step.Endpoint), nil
	case session.RequestDataStream:
		return l.codec.EncodeSetStreamData(token, step.Endpoint, true), nil
	case session.RequestRawStream:
		return l.codec.EncodeSetStreamRaw(token, step.Endpoint, true), nil
	default:
		return nil, errors.New("link: no encoder for " + step.Kind.String())
	}
}

func (l *Link) recordGaugesLocked() {
	observability.SetLinkState(int(l.state))
	observability.SetPendingRequests(l.corr.Len())
	counts := make(map[string]int)
	for state, n := range l.reg.CountByState() {
		counts[state.String()] = n
	}
	observability.SetDeviceStates(counts)
}

// Vibrate fires a vibrate request at every known device of that side and
// returns how many were sent.
func (l *Link) Vibrate(side protocol.Laterality, durationMillis, power uint16) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state < DeviceSetup {
		return 0
	}
	sent := 0
	for _, d := range l.reg.ByLaterality(side) {
		id := d.ID
		token := l.issueLocked(session.RequestVibrate, id, true, func(token uint16) ([]byte, error) {
			return l.codec.EncodeVibrate(token, id, durationMillis, power), nil
		})
		if token != 0 {
			sent++
		}
	}
	return sent
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Session() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.codec.Session()
}

func (l *Link) Devices() []device.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reg.Snapshot()
}

func (l *Link) Pending() []session.PendingRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.corr.List()
}

// CanGetHandData reports whether pose data for side is flowing.
func (l *Link) CanGetHandData(side protocol.Laterality) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Streaming {
		return false
	}
	for _, d := range l.reg.ByLaterality(side) {
		if d.State == device.Ready {
			return true
		}
	}
	return false
}

// Status is a point-in-time view for status surfaces.
type Status struct {
	State          string            `json:"state"`
	Session        uint64            `json:"session"`
	Dongle         uint64            `json:"dongle,omitempty"`
	FailedConnects int               `json:"failed_connects"`
	Pending        int               `json:"pending_requests"`
	Devices        []device.Snapshot `json:"devices"`
}

func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		State:          l.state.String(),
		Session:        l.codec.Session(),
		Dongle:         l.dongle,
		FailedConnects: l.failedConnects,
		Pending:        l.corr.Len(),
		Devices:        l.reg.Snapshot(),
	}
}
