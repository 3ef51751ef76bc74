package plugins

import (
	"errors"
	"testing"

	"github.com/danmuck/glovelink/internal/link"
	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/testutil/testlog"
)

type stubPlugin struct {
	name   string
	err    error
	joints *int
}

func (p stubPlugin) Name() string { return p.name }

func (p stubPlugin) Status() (any, error) { return map[string]int{"n": 1}, p.err }

func (p stubPlugin) Listener() link.Listener {
	return link.Listener{
		Joint: func(protocol.JointFrame, protocol.Laterality) { *p.joints++ },
	}
}

func TestRegistryReportsSortedAndRejectsDuplicates(t *testing.T) {
	testlog.Start(t)
	var n int
	r := NewRegistry()
	if err := r.Register(stubPlugin{name: "mqtt", err: errors.New("down"), joints: &n}); err != nil {
		t.Fatalf("register mqtt: %v", err)
	}
	if err := r.Register(stubPlugin{name: "influxdb", joints: &n}); err != nil {
		t.Fatalf("register influxdb: %v", err)
	}
	if err := r.Register(stubPlugin{name: "mqtt", joints: &n}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	reports := r.Reports()
	if len(reports) != 2 || reports[0].Name != "influxdb" || reports[1].Name != "mqtt" {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	if !reports[0].Healthy || reports[1].Healthy || reports[1].Error != "down" {
		t.Fatalf("unexpected health: %+v", reports)
	}
}

func TestRegistryAttachDetach(t *testing.T) {
	testlog.Start(t)
	var n int
	r := NewRegistry()
	_ = r.Register(stubPlugin{name: "a", joints: &n})
	_ = r.Register(stubPlugin{name: "b", joints: &n})

	var attached []link.Listener
	detached := 0
	detach := r.Attach(func(l link.Listener) func() {
		attached = append(attached, l)
		return func() { detached++ }
	})
	for _, l := range attached {
		l.Joint(protocol.JointFrame{}, protocol.LateralityLeft)
	}
	if len(attached) != 2 || n != 2 {
		t.Fatalf("expected both plugins attached: attached=%d joints=%d", len(attached), n)
	}
	detach()
	if detached != 2 {
		t.Fatalf("expected both plugins detached, got %d", detached)
	}
}
