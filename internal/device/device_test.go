package device

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/protocol/session"
	"github.com/danmuck/glovelink/internal/testutil/testlog"
)

// drive issues the device's next step and answers it with success.
func drive(t *testing.T, d *Device, pinch bool, token uint16, endpoint uint64) Step {
	t.Helper()
	step, err := d.Next(pinch)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if step.None() {
		return step
	}
	d.MarkPending(token)
	req := session.PendingRequest{Token: token, Kind: step.Kind, Device: d.ID, HasDevice: true}
	if step.Kind == session.RequestIdentify {
		if err := d.Identify(req, protocol.SourceInfo{Endpoint: endpoint, Device: d.ID, Side: 1}); err != nil {
			t.Fatalf("identify: %v", err)
		}
		return step
	}
	ev := protocol.Event{Kind: protocol.EventSuccess}
	if step.Kind == session.RequestGestureFilter || step.Kind == session.RequestConvertFilter {
		ev, _ = protocol.Decode(protocol.EncodeEndpointSuccess(token, 1, endpoint))
	}
	if err := d.Complete(req, ev); err != nil {
		t.Fatalf("complete %s: %v", step.Kind, err)
	}
	return step
}

func TestPipelineOrderWithPinch(t *testing.T) {
	testlog.Start(t)
	d := New(42)
	want := []session.RequestKind{
		session.RequestIdentify,
		session.RequestGestureFilter,
		session.RequestConvertFilter,
		session.RequestAddToStream,
		session.RequestDataStream,
		session.RequestRawStream,
	}
	for i, kind := range want {
		step := drive(t, d, true, uint16(i+1), uint64(100+i))
		if step.Kind != kind {
			t.Fatalf("step %d: got=%s want=%s", i, step.Kind, kind)
		}
	}
	if d.State != Ready {
		t.Fatalf("expected ready, got %s", d.State)
	}
	if d.Endpoint != 102 {
		t.Fatalf("expected endpoint from convert filter, got %d", d.Endpoint)
	}
	if d.Laterality != protocol.LateralityRight {
		t.Fatalf("unexpected laterality: %s", d.Laterality)
	}
	if step, err := d.Next(true); err != nil || !step.None() {
		t.Fatalf("ready device must issue nothing: %+v err=%v", step, err)
	}
}

func TestPipelineSkipsDisabledGestureFilter(t *testing.T) {
	testlog.Start(t)
	d := New(42)
	drive(t, d, false, 1, 500)
	step := drive(t, d, false, 2, 501)
	if step.Kind != session.RequestConvertFilter || step.Endpoint != 500 {
		t.Fatalf("expected convert filter on identified endpoint, got %+v", step)
	}
	if d.GestureAttempts != 0 {
		t.Fatalf("disabled gesture filter must not count attempts: %d", d.GestureAttempts)
	}
}

func TestGestureFilterGivesUpAfterThreeAttempts(t *testing.T) {
	testlog.Start(t)
	d := New(42)
	drive(t, d, true, 1, 500)
	for i := 0; i < MaxGestureAttempts; i++ {
		step, err := d.Next(true)
		if err != nil || step.Kind != session.RequestGestureFilter {
			t.Fatalf("attempt %d: %+v err=%v", i, step, err)
		}
		token := uint16(10 + i)
		d.MarkPending(token)
		d.Fail(session.PendingRequest{Token: token, Kind: step.Kind, Device: 42, HasDevice: true})
		if d.State != GestureFilter {
			t.Fatalf("failure must not change state, got %s", d.State)
		}
	}
	step, err := d.Next(true)
	if err != nil || step.Kind != session.RequestConvertFilter {
		t.Fatalf("expected forced convert filter, got %+v err=%v", step, err)
	}
	if d.GestureAttempts != MaxGestureAttempts {
		t.Fatalf("unexpected attempts: %d", d.GestureAttempts)
	}
}

func TestPendingGateBlocksSteps(t *testing.T) {
	testlog.Start(t)
	d := New(42)
	step, _ := d.Next(true)
	d.MarkPending(7)
	if again, _ := d.Next(true); !again.None() {
		t.Fatalf("expected no step while pending, got %+v", again)
	}
	d.ClearPending(8)
	if d.Pending != 7 {
		t.Fatalf("clearing another token must not open the gate")
	}
	d.ClearPending(7)
	if again, _ := d.Next(true); again.Kind != step.Kind {
		t.Fatalf("expected same step re-issued, got %+v", again)
	}
}

func TestIdentifyUnknownSideStaysInIdentify(t *testing.T) {
	testlog.Start(t)
	d := New(42)
	req := session.PendingRequest{Token: 1, Kind: session.RequestIdentify, Device: 42, HasDevice: true}
	d.MarkPending(1)
	err := d.Identify(req, protocol.SourceInfo{Endpoint: 9, Side: 0})
	if !errors.Is(err, ErrUnknownSide) {
		t.Fatalf("expected ErrUnknownSide, got %v", err)
	}
	if d.State != Identify || d.Pending != 0 {
		t.Fatalf("unexpected device after bad side: %+v", d)
	}
}

func TestStaleReplyDoesNotAdvance(t *testing.T) {
	testlog.Start(t)
	d := New(42)
	drive(t, d, false, 1, 500)
	drive(t, d, false, 2, 501)
	if d.State != AddToStream {
		t.Fatalf("expected add_to_stream, got %s", d.State)
	}
	late := session.PendingRequest{Token: 99, Kind: session.RequestConvertFilter, Device: 42, HasDevice: true}
	ev, _ := protocol.Decode(protocol.EncodeEndpointSuccess(99, 1, 777))
	if err := d.Complete(late, ev); !errors.Is(err, ErrStaleReply) {
		t.Fatalf("expected ErrStaleReply, got %v", err)
	}
	if d.State != AddToStream || d.Endpoint != 501 {
		t.Fatalf("stale reply changed device: %+v", d)
	}
}

func TestFilterReplyWithoutEndpoint(t *testing.T) {
	testlog.Start(t)
	d := New(42)
	drive(t, d, false, 1, 500)
	step, _ := d.Next(false)
	d.MarkPending(2)
	err := d.Complete(session.PendingRequest{Token: 2, Kind: step.Kind}, protocol.Event{Kind: protocol.EventSuccess})
	if !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
	if d.State != ConvertFilter {
		t.Fatalf("expected device to stay in convert_filter, got %s", d.State)
	}
}

func TestSentinelStateIsReported(t *testing.T) {
	testlog.Start(t)
	d := &Device{ID: 1}
	if _, err := d.Next(true); !errors.Is(err, ErrSentinelState) {
		t.Fatalf("expected ErrSentinelState, got %v", err)
	}
	if Disconnected.next() != Disconnected {
		t.Fatalf("sentinel must not transition")
	}
}

func TestSnapshotIncludesInfo(t *testing.T) {
	testlog.Start(t)
	d := New(42)
	at := time.Unix(1700000000, 0)
	d.SetInfo(protocol.DeviceInfo{Device: 42, Dongle: 7, Battery: 55, Attenuation: 12}, at)
	s := d.Snapshot()
	if s.State != "identify" || s.Dongle != 7 || s.Battery == nil || *s.Battery != 55 || !s.InfoAt.Equal(at) {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
}
