package link

import (
	"errors"

	"github.com/danmuck/glovelink/internal/device"
	"github.com/danmuck/glovelink/internal/observability"
	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// HandlePacket dispatches one reassembled payload. It is the transport's
// packet callback and never returns an error: bad payloads are logged and
// dropped.
func (l *Link) HandlePacket(payload []byte) {
	ev, err := protocol.Decode(payload)
	if err != nil {
		observability.RecordDecodeError()
		log.Debug().Err(err).Int("bytes", len(payload)).Msg("link: dropping undecodable payload")
		return
	}
	observability.RecordEventIn(ev.Kind.String())
	if ev.Kind == protocol.EventUnknown {
		log.Debug().Uint16("kind", ev.Header.Kind).Msg("link: dropping unrecognized payload")
		return
	}

	l.mu.Lock()
	if ev.Header.Session != l.codec.Session() {
		log.Debug().
			Uint64("got", ev.Header.Session).
			Uint64("want", l.codec.Session()).
			Str("event", ev.Kind.String()).
			Msg("link: dropping event from another session")
	} else {
		l.dispatchLocked(ev)
	}
	notes := l.takeNotesLocked()
	l.mu.Unlock()
	runNotes(notes)
}

func (l *Link) dispatchLocked(ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventHandshakeEcho:
		l.onHandshakeEchoLocked(ev)
	case protocol.EventSuccess, protocol.EventFailure:
		l.onReplyLocked(ev)
	case protocol.EventSourceInfo:
		l.onSourceInfoLocked(ev)
	case protocol.EventDongleList:
		l.onDongleListLocked(ev.IDs)
	case protocol.EventDeviceList:
		l.onDeviceListLocked(ev.IDs)
	case protocol.EventSourceList:
		log.Debug().Int("sources", len(ev.IDs)).Msg("link: source list")
	case protocol.EventDeviceInfo:
		l.onDeviceInfoLocked(*ev.Device)
	case protocol.EventJointData:
		frame := *ev.Joint
		if side, ok := l.readySideLocked(frame.Device); ok {
			l.deferLocked(func() { l.emitJoint(frame, side) })
		}
	case protocol.EventRawData:
		frame := *ev.Raw
		if side, ok := l.readySideLocked(frame.Device); ok {
			l.deferLocked(func() { l.emitRaw(frame, side) })
		}
	}
}

func (l *Link) onHandshakeEchoLocked(ev protocol.Event) {
	if l.state >= DeviceSetup {
		log.Debug().Msg("link: ignoring repeated handshake echo")
		return
	}
	ack, err := l.codec.EncodeHandshakeAck(ev.Echo)
	if err != nil {
		log.Error().Err(err).Int("echo_bytes", len(ev.Echo)).Msg("link: cannot acknowledge handshake")
		return
	}
	l.sendLocked(ack)
	log.Info().Uint64("session", l.codec.Session()).Msg("link: handshake complete")
	l.setStateLocked(DeviceSetup)
}

// resolveLocked consumes the pending entry for token, logging replies nobody
// is waiting for.
func (l *Link) resolveLocked(ev protocol.Event) (session.PendingRequest, bool) {
	req, ok := l.corr.Resolve(ev.Header.Token)
	if !ok {
		observability.RecordUnknownToken()
		log.Warn().
			Uint16("token", ev.Header.Token).
			Str("event", ev.Kind.String()).
			Msg("link: reply for unknown token")
	}
	return req, ok
}

func (l *Link) onReplyLocked(ev protocol.Event) {
	req, ok := l.resolveLocked(ev)
	if !ok {
		return
	}
	failed := ev.Kind == protocol.EventFailure
	if failed {
		observability.RecordFailureReply(req.Kind.String())
		log.Warn().
			Uint16("token", req.Token).
			Str("request", req.Kind.String()).
			Uint64("device", req.Device).
			Str("message", ev.Message).
			Msg("link: request failed")
	}

	switch req.Kind {
	case session.RequestStartStreaming:
		if req.Token == l.streamToken {
			l.streamToken = 0
		}
		if !failed && l.state == DeviceSetup {
			l.setStateLocked(Streaming)
		}
	case session.RequestStopStreaming:
		if req.Token == l.streamToken {
			l.streamToken = 0
		}
		if !failed && l.state == Streaming {
			l.setStateLocked(DeviceSetup)
		}
	case session.RequestVibrate:
		log.Debug().Uint64("device", req.Device).Bool("failed", failed).Msg("link: vibrate acknowledged")
	default:
		d, found := l.reg.Get(req.Device)
		if !found {
			log.Debug().Uint64("device", req.Device).Str("request", req.Kind.String()).Msg("link: reply for removed device")
			return
		}
		if failed {
			d.Fail(req)
			return
		}
		if err := d.Complete(req, ev); err != nil {
			l.logDeviceErrorLocked(err, req)
		}
	}
}

func (l *Link) onSourceInfoLocked(ev protocol.Event) {
	req, ok := l.resolveLocked(ev)
	if !ok {
		return
	}
	if req.Kind != session.RequestIdentify {
		log.Warn().Str("request", req.Kind.String()).Msg("link: source info answered a non-identify request")
		return
	}
	d, found := l.reg.Get(req.Device)
	if !found {
		log.Debug().Uint64("device", req.Device).Msg("link: source info for removed device")
		return
	}
	if err := d.Identify(req, *ev.Source); err != nil {
		l.logDeviceErrorLocked(err, req)
		return
	}
	log.Info().
		Uint64("device", d.ID).
		Uint64("endpoint", d.Endpoint).
		Str("laterality", d.Laterality.String()).
		Msg("link: device identified")
}

func (l *Link) logDeviceErrorLocked(err error, req session.PendingRequest) {
	event := log.Warn()
	if errors.Is(err, device.ErrStaleReply) {
		event = log.Debug()
	}
	event.Err(err).Uint16("token", req.Token).Str("request", req.Kind.String()).Msg("link: device reply not applied")
}

func (l *Link) onDongleListLocked(ids []uint64) {
	switch len(ids) {
	case 0:
		if l.dongle != 0 {
			log.Warn().Uint64("dongle", l.dongle).Msg("link: no dongle reported")
		}
		l.dongle = 0
	case 1:
		if l.dongle != ids[0] {
			log.Info().Uint64("dongle", ids[0]).Msg("link: using dongle")
		}
		l.dongle = ids[0]
	default:
		log.Warn().Int("dongles", len(ids)).Msg("link: more than one dongle connected, ignoring all")
		l.dongle = 0
	}
}

func (l *Link) onDeviceListLocked(ids []uint64) {
	if l.state < DeviceSetup {
		return
	}
	added, removed := l.reg.Reconcile(ids)
	for _, id := range added {
		log.Info().Uint64("device", id).Msg("link: device discovered")
	}
	for _, id := range removed {
		dropped := l.corr.DropDevice(id)
		log.Info().Uint64("device", id).Int("pending_dropped", dropped).Msg("link: device removed")
	}
}

func (l *Link) onDeviceInfoLocked(info protocol.DeviceInfo) {
	d, ok := l.reg.Get(info.Device)
	if !ok {
		return
	}
	d.SetInfo(info, l.now())
	observability.SetDeviceBattery(info.Device, info.Battery)
	l.deferLocked(func() { l.emitDeviceInfo(info) })
}

// readySideLocked gates pose delivery to devices that finished provisioning.
func (l *Link) readySideLocked(id uint64) (protocol.Laterality, bool) {
	d, ok := l.reg.Get(id)
	if !ok || d.State != device.Ready {
		return protocol.LateralityUnknown, false
	}
	return d.Laterality, true
}
