package transport

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/glovelink/internal/protocol/frame"
	"github.com/danmuck/glovelink/internal/testutil/testlog"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func listen(t *testing.T) (net.Listener, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	accepted := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()
	return ln, accepted
}

func accept(t *testing.T, accepted <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case c := <-accepted:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(3 * time.Second):
		t.Fatalf("no connection accepted")
		return nil
	}
}

func newTCP(t *testing.T, addr string) *TCP {
	t.Helper()
	cfg := DefaultConfig(addr)
	cfg.ReadBuffer = 7
	tr, err := NewTCP(cfg)
	if err != nil {
		t.Fatalf("new tcp: %v", err)
	}
	t.Cleanup(tr.Close)
	return tr
}

func TestSendAndReceiveFrames(t *testing.T) {
	testlog.Start(t)
	ln, accepted := listen(t)
	tr := newTCP(t, ln.Addr().String())
	got := make(chan []byte, 4)
	tr.OnPacket(func(p []byte) { got <- p })

	tr.Connect()
	server := accept(t, accepted)
	waitFor(t, "connected", tr.IsConnected)

	if err := tr.Send([]byte("client-hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = server.SetReadDeadline(time.Now().Add(3 * time.Second))
	p, err := frame.ReadFrame(server, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("server read frame: %v", err)
	}
	if string(p) != "client-hello" {
		t.Fatalf("unexpected payload: %q", p)
	}

	a, _ := frame.Wrap([]byte("server-one"), frame.DefaultLimits())
	b, _ := frame.Wrap([]byte("server-two!"), frame.DefaultLimits())
	stream := append(a, b...)
	for i := 0; i < len(stream); i += 3 {
		end := i + 3
		if end > len(stream) {
			end = len(stream)
		}
		if _, err := server.Write(stream[i:end]); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}
	for _, want := range []string{"server-one", "server-two!"} {
		select {
		case p := <-got:
			if string(p) != want {
				t.Fatalf("unexpected payload: got=%q want=%q", p, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("missing payload %q", want)
		}
	}
	stats := tr.Stats()
	if stats.FramesRecv != 2 || stats.Connects != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	waitFor(t, "frame sent counter", func() bool { return tr.Stats().FramesSent == 1 })
}

func TestCorruptFrameClosesConnection(t *testing.T) {
	testlog.Start(t)
	ln, accepted := listen(t)
	tr := newTCP(t, ln.Addr().String())
	down := make(chan error, 1)
	tr.OnDisconnect(func(cause error) { down <- cause })

	tr.Connect()
	server := accept(t, accepted)
	waitFor(t, "connected", tr.IsConnected)

	bad := make([]byte, 8)
	binary.LittleEndian.PutUint32(bad, 4)
	if _, err := server.Write(bad); err != nil {
		t.Fatalf("server write: %v", err)
	}
	select {
	case cause := <-down:
		if !errors.Is(cause, frame.ErrPayloadTooSmall) {
			t.Fatalf("unexpected disconnect cause: %v", cause)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("transport did not report disconnect")
	}
	if tr.IsConnected() {
		t.Fatalf("expected transport closed after corrupt frame")
	}
	if tr.Stats().CorruptFrames != 1 {
		t.Fatalf("unexpected corrupt counter: %+v", tr.Stats())
	}
}

func TestPeerCloseIsRecoverable(t *testing.T) {
	testlog.Start(t)
	ln, accepted := listen(t)
	tr := newTCP(t, ln.Addr().String())

	tr.Connect()
	server := accept(t, accepted)
	waitFor(t, "connected", tr.IsConnected)
	_ = server.Close()
	waitFor(t, "disconnected", func() bool { return !tr.IsConnected() })

	tr.Connect()
	accept(t, accepted)
	waitFor(t, "reconnected", tr.IsConnected)
	if tr.Stats().Connects != 2 {
		t.Fatalf("expected two connects, got %+v", tr.Stats())
	}
}

func TestConnectRefusedIsNotFatal(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	tr := newTCP(t, addr)
	tr.Connect()
	waitFor(t, "dial failure", func() bool { return tr.Stats().DialFailures == 1 })
	if tr.IsConnected() {
		t.Fatalf("expected not connected")
	}
	if err := tr.Send([]byte("dropped-payload")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	testlog.Start(t)
	ln, accepted := listen(t)
	tr := newTCP(t, ln.Addr().String())
	tr.Connect()
	accept(t, accepted)
	waitFor(t, "connected", tr.IsConnected)
	tr.Close()
	tr.Close()
	if tr.IsConnected() {
		t.Fatalf("expected closed")
	}
	if tr.Stats().Disconnects != 1 {
		t.Fatalf("expected one disconnect, got %+v", tr.Stats())
	}
}

func TestSendRejectsOutOfBoundsPayload(t *testing.T) {
	testlog.Start(t)
	tr := newTCP(t, "127.0.0.1:1")
	if err := tr.Send([]byte{1}); !errors.Is(err, frame.ErrPayloadTooSmall) {
		t.Fatalf("expected ErrPayloadTooSmall, got %v", err)
	}
	if _, err := NewTCP(Config{}); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
}
