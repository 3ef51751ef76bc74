package apollotest

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/protocol/frame"
	"github.com/danmuck/glovelink/internal/protocol/schema"
	"github.com/danmuck/glovelink/internal/testutil/testlog"
)

func roundTrip(t *testing.T, conn net.Conn, r *bufio.Reader, payload []byte) protocol.Event {
	t.Helper()
	if err := frame.WriteFrame(conn, payload, frame.DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := frame.ReadFrame(r, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ev, err := protocol.Decode(reply)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return ev
}

func TestServerScriptedReplies(t *testing.T) {
	testlog.Start(t)
	srv := Start(t, Config{Dongles: []uint64{7}, Gloves: []Glove{{ID: 42, Side: -1}}})
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	c := protocol.NewCodec(protocol.DefaultClientID, 99)

	echo := roundTrip(t, conn, r, c.EncodeHandshake())
	if echo.Kind != protocol.EventHandshakeEcho || echo.Header.Session != 99 {
		t.Fatalf("unexpected echo: %+v", echo)
	}
	devices := roundTrip(t, conn, r, c.EncodeListDevices(0, 7))
	if devices.Kind != protocol.EventDeviceList || len(devices.IDs) != 1 || devices.IDs[0] != 42 {
		t.Fatalf("unexpected device list: %+v", devices)
	}
	src := roundTrip(t, conn, r, c.EncodeGetSourceInfo(5, 42))
	if src.Kind != protocol.EventSourceInfo || src.Header.Token != 5 || src.Source.Side != -1 {
		t.Fatalf("unexpected source info: %+v", src)
	}
	mesh, _ := protocol.MeshPreset(protocol.DefaultMeshPreset)
	desc, err := mesh.Descriptor()
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	add, err := c.EncodeAddFilters(6, []uint64{42}, [][]byte{desc})
	if err != nil {
		t.Fatalf("encode add filters: %v", err)
	}
	ok := roundTrip(t, conn, r, add)
	ep, found := ok.Endpoint()
	if ok.Kind != protocol.EventSuccess || !found || ep == 42 {
		t.Fatalf("unexpected add-filter reply: %+v", ok)
	}
	streamed := roundTrip(t, conn, r, c.EncodeSetStreamData(7, ep, true))
	if streamed.Kind != protocol.EventSuccess {
		t.Fatalf("new endpoint not usable: %+v", streamed)
	}
	bad := roundTrip(t, conn, r, c.EncodeAddStreams(8, 12345))
	if bad.Kind != protocol.EventFailure {
		t.Fatalf("expected failure for unknown endpoint: %+v", bad)
	}
	if srv.Count(schema.KindHandshake) != 1 || srv.Count(schema.KindAddStreams) != 1 {
		t.Fatalf("unexpected counts")
	}
}
