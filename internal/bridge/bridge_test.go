package bridge

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/glovelink/internal/link"
	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/testutil/testlog"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func TestMQTTConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultMQTTConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.QoS = 3
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidQoS) {
		t.Fatalf("expected ErrInvalidQoS, got %v", err)
	}
	cfg = DefaultMQTTConfig()
	cfg.Broker = " "
	if err := cfg.Validate(); !errors.Is(err, ErrNoBroker) {
		t.Fatalf("expected ErrNoBroker, got %v", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultMQTTConfig()
	cfg.Username = "glove"
	cfg.Password = "secret"
	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != cfg.Broker {
		t.Fatalf("unexpected brokers: %v", opts.Servers)
	}
	if !strings.HasPrefix(opts.ClientID, "glovelink-") {
		t.Fatalf("unexpected generated client id: %q", opts.ClientID)
	}
	if !opts.WillEnabled || !opts.WillRetained || opts.WillTopic != "glovelink/status" {
		t.Fatalf("unexpected will: enabled=%v retained=%v topic=%q", opts.WillEnabled, opts.WillRetained, opts.WillTopic)
	}
	if opts.Username != "glove" || opts.Password != "secret" {
		t.Fatalf("credentials not applied")
	}

	cfg.ClientID = "bench-rig"
	if id := buildClientOptions(cfg).ClientID; id != "bench-rig" {
		t.Fatalf("explicit client id ignored: %q", id)
	}
}

func TestTopics(t *testing.T) {
	testlog.Start(t)
	topics := Topics{Prefix: "lab"}
	if got := topics.Joints(protocol.LateralityLeft); got != "lab/hands/left/joints" {
		t.Fatalf("joints topic: %q", got)
	}
	if got := topics.Raw(protocol.LateralityRight); got != "lab/hands/right/raw" {
		t.Fatalf("raw topic: %q", got)
	}
	if got := topics.DeviceInfo(42); got != "lab/devices/42/info" {
		t.Fatalf("device topic: %q", got)
	}
}

func TestMessagesEncode(t *testing.T) {
	testlog.Start(t)
	at := time.Unix(1700000000, 0).UTC()
	f := protocol.JointFrame{Device: 42, Endpoint: 9, Wrist: protocol.Quat{W: 1}}
	b, err := json.Marshal(JointMessage(f, protocol.LateralityRight, at))
	if err != nil {
		t.Fatalf("marshal joint: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal joint: %v", err)
	}
	if decoded["type"] != TypeJoint || decoded["side"] != "right" {
		t.Fatalf("unexpected joint envelope: %s", b)
	}
	joint := decoded["joint"].(map[string]any)
	if joint["device"].(float64) != 42 || joint["wrist"].(map[string]any)["w"].(float64) != 1 {
		t.Fatalf("unexpected joint body: %s", b)
	}
	if _, ok := decoded["raw"]; ok {
		t.Fatalf("raw member should be omitted: %s", b)
	}

	info := DeviceInfoMessage(protocol.DeviceInfo{Device: 42, Hand: -1, Battery: 50}, at)
	if info.Side != "left" || info.Device.Battery != 50 {
		t.Fatalf("unexpected device info message: %+v", info)
	}
	state := StateMessage(link.DeviceSetup.String(), link.Streaming.String(), at)
	if state.State.To != "streaming" {
		t.Fatalf("unexpected state message: %+v", state.State)
	}
}

func TestDevicePoint(t *testing.T) {
	testlog.Start(t)
	at := time.Unix(1700000000, 0)
	p := devicePoint(protocol.DeviceInfo{Device: 42, Dongle: 7, Hand: 1, DeviceType: 2, Battery: 80, Attenuation: 33}, at)
	line := write.PointToLineProtocol(p, time.Second)
	for _, want := range []string{
		"glove_device,", "device=42", "dongle=7", "hand=right",
		"battery_pct=80i", "signal_attenuation_db=33i", "device_type=2i", " 1700000000",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("line protocol %q missing %q", line, want)
		}
	}
	lp := write.PointToLineProtocol(linkPoint(link.Streaming, at), time.Second)
	if !strings.Contains(lp, "glove_link,state=streaming") {
		t.Fatalf("unexpected link point: %q", lp)
	}
}

func TestInfluxConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := DefaultInfluxConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg := DefaultInfluxConfig()
	cfg.Bucket = ""
	if err := cfg.Validate(); !errors.Is(err, ErrInfluxConfig) {
		t.Fatalf("expected ErrInfluxConfig, got %v", err)
	}
}
