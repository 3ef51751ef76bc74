package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// MaxGestureAttempts bounds gesture filter requests over a device's lifetime.
const MaxGestureAttempts = 3

var (
	ErrSentinelState = errors.New("device: device in disconnected state")
	ErrUnknownSide   = errors.New("device: source reported no usable side")
	ErrStaleReply    = errors.New("device: reply does not match current state")
	ErrNoEndpoint    = errors.New("device: filter reply carried no endpoint")
)

// Step is the request a device needs sent next. Kind 0 means nothing to send.
type Step struct {
	Kind     session.RequestKind
	Device   uint64
	Endpoint uint64
}

func (s Step) None() bool {
	return s.Kind == 0
}

// Device is one physical glove and its provisioning progress.
type Device struct {
	ID              uint64
	Endpoint        uint64
	Laterality      protocol.Laterality
	State           State
	GestureAttempts int

	// Pending is the token of the in-flight provisioning request, 0 if none.
	Pending uint16

	Info   *protocol.DeviceInfo
	InfoAt time.Time
}

func New(id uint64) *Device {
	return &Device{ID: id, Endpoint: id, State: Identify}
}

func stateFor(kind session.RequestKind) State {
	switch kind {
	case session.RequestIdentify:
		return Identify
	case session.RequestGestureFilter:
		return GestureFilter
	case session.RequestConvertFilter:
		return ConvertFilter
	case session.RequestAddToStream:
		return AddToStream
	case session.RequestDataStream:
		return SetDataStream
	case session.RequestRawStream:
		return SetRawStream
	default:
		return Disconnected
	}
}

// Next returns the request this device wants sent now. It issues nothing while
// a request is in flight. Skipping a disabled gesture filter and giving up
// after MaxGestureAttempts both happen here, without a round trip.
func (d *Device) Next(pinchFilter bool) (Step, error) {
	if d.Pending != 0 {
		return Step{}, nil
	}
	if d.State == GestureFilter {
		switch {
		case !pinchFilter:
			d.advance()
		case d.GestureAttempts >= MaxGestureAttempts:
			log.Warn().
				Uint64("device", d.ID).
				Int("attempts", d.GestureAttempts).
				Msg("device: gesture filter attempts exhausted, continuing without it")
			d.advance()
		default:
			d.GestureAttempts++
		}
	}

	step := Step{Device: d.ID, Endpoint: d.Endpoint}
	switch d.State {
	case Identify:
		step.Kind = session.RequestIdentify
	case GestureFilter:
		step.Kind = session.RequestGestureFilter
	case ConvertFilter:
		step.Kind = session.RequestConvertFilter
	case AddToStream:
		step.Kind = session.RequestAddToStream
	case SetDataStream:
		step.Kind = session.RequestDataStream
	case SetRawStream:
		step.Kind = session.RequestRawStream
	case Ready:
		return Step{}, nil
	default:
		return Step{}, fmt.Errorf("%w: device=%d", ErrSentinelState, d.ID)
	}
	return step, nil
}

// MarkPending gates further steps until token resolves or expires.
func (d *Device) MarkPending(token uint16) {
	d.Pending = token
}

func (d *Device) clearPending(token uint16) {
	if d.Pending == token {
		d.Pending = 0
	}
}

// ClearPending re-opens the gate after token expired unanswered.
func (d *Device) ClearPending(token uint16) {
	d.clearPending(token)
}

func (d *Device) advance() {
	prev := d.State
	d.State = d.State.next()
	log.Debug().
		Uint64("device", d.ID).
		Str("from", prev.String()).
		Str("to", d.State.String()).
		Msg("device: state advanced")
}

// Identify applies a source-info reply.
func (d *Device) Identify(req session.PendingRequest, info protocol.SourceInfo) error {
	d.clearPending(req.Token)
	if d.State != Identify {
		return fmt.Errorf("%w: device=%d state=%s", ErrStaleReply, d.ID, d.State)
	}
	side, ok := protocol.LateralityFromSide(info.Side)
	if !ok {
		return fmt.Errorf("%w: device=%d side=%d", ErrUnknownSide, d.ID, info.Side)
	}
	d.Endpoint = info.Endpoint
	d.Laterality = side
	d.advance()
	return nil
}

// Complete applies a success reply. Filter steps move the device to the new
// endpoint the server allocated.
func (d *Device) Complete(req session.PendingRequest, ev protocol.Event) error {
	d.clearPending(req.Token)
	if stateFor(req.Kind) != d.State || d.State == Identify {
		return fmt.Errorf("%w: device=%d state=%s reply=%s", ErrStaleReply, d.ID, d.State, req.Kind)
	}
	if d.State == GestureFilter || d.State == ConvertFilter {
		endpoint, ok := ev.Endpoint()
		if !ok {
			return fmt.Errorf("%w: device=%d", ErrNoEndpoint, d.ID)
		}
		d.Endpoint = endpoint
	}
	d.advance()
	return nil
}

// Fail applies a failure reply. The device keeps its state and the same step
// is issued again on a later tick.
func (d *Device) Fail(req session.PendingRequest) {
	d.clearPending(req.Token)
}

func (d *Device) SetInfo(info protocol.DeviceInfo, at time.Time) {
	d.Info = &info
	d.InfoAt = at
}

// Snapshot is a read-only view for status surfaces.
type Snapshot struct {
	ID              uint64    `json:"id"`
	Endpoint        uint64    `json:"endpoint"`
	Laterality      string    `json:"laterality"`
	State           string    `json:"state"`
	GestureAttempts int       `json:"gesture_attempts"`
	Pending         bool      `json:"pending"`
	Dongle          uint64    `json:"dongle,omitempty"`
	Battery         *uint8    `json:"battery,omitempty"`
	Attenuation     *uint16   `json:"signal_attenuation_db,omitempty"`
	InfoAt          time.Time `json:"info_at,omitempty"`
}

func (d *Device) Snapshot() Snapshot {
	s := Snapshot{
		ID:              d.ID,
		Endpoint:        d.Endpoint,
		Laterality:      d.Laterality.String(),
		State:           d.State.String(),
		GestureAttempts: d.GestureAttempts,
		Pending:         d.Pending != 0,
	}
	if d.Info != nil {
		battery := d.Info.Battery
		attenuation := d.Info.Attenuation
		s.Dongle = d.Info.Dongle
		s.Battery = &battery
		s.Attenuation = &attenuation
		s.InfoAt = d.InfoAt
	}
	return s
}
