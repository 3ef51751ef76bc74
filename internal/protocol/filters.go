package protocol

import (
	"fmt"
	"sort"

	"github.com/danmuck/glovelink/internal/protocol/schema"
	"github.com/danmuck/glovelink/internal/protocol/tlv"
)

type Gesture uint8

const (
	GestureNone       Gesture = 0
	GestureOpenHand   Gesture = 1
	GestureFist       Gesture = 2
	GestureIndexPinch Gesture = 3
)

// GestureFilter recognises gestures and blends the pose toward them.
type GestureFilter struct {
	Gestures   []Gesture
	BlendFloor float64
	BlendCeil  float64
}

// PinchFilter is the only gesture filter the link installs.
func PinchFilter() GestureFilter {
	return GestureFilter{Gestures: []Gesture{GestureIndexPinch}, BlendFloor: 0, BlendCeil: 1}
}

func (g GestureFilter) Descriptor() ([]byte, error) {
	list := make([]byte, 0, len(g.Gestures))
	for _, gesture := range g.Gestures {
		if gesture > GestureIndexPinch {
			return nil, fmt.Errorf("%w: %d", ErrUnknownGesture, gesture)
		}
		list = append(list, byte(gesture))
	}
	return tlv.EncodeFields([]tlv.Field{
		tlv.U8(schema.FieldFilterType, schema.FilterGesture),
		tlv.Bytes(schema.FieldGestures, list),
		tlv.F64(schema.FieldBlendFloor, g.BlendFloor),
		tlv.F64(schema.FieldBlendCeil, g.BlendCeil),
	})
}

// Axis is a signed coordinate axis code: ±1 x, ±2 y, ±3 z.
type Axis int8

const (
	AxisZNeg Axis = -3
	AxisYNeg Axis = -2
	AxisXNeg Axis = -1
	AxisXPos Axis = 1
	AxisYPos Axis = 2
	AxisZPos Axis = 3
)

func (a Axis) valid() bool {
	return a != 0 && a >= AxisZNeg && a <= AxisZPos
}

// MeshNode is the coordinate frame of one bone group in the client mesh.
type MeshNode struct {
	Up      Axis
	Forward Axis
	Right   Axis
}

// MeshConfig maps the server hand model onto the client's mesh. Node order on
// the wire is left wrist, left thumb, left finger, right wrist, right thumb,
// right finger, world.
type MeshConfig struct {
	LeftWrist   MeshNode
	LeftThumb   MeshNode
	LeftFinger  MeshNode
	RightWrist  MeshNode
	RightThumb  MeshNode
	RightFinger MeshNode
	World       MeshNode
	NegateX     bool
	NegateY     bool
	NegateZ     bool
}

func (m MeshConfig) nodes() [schema.MeshNodeCount]MeshNode {
	return [schema.MeshNodeCount]MeshNode{
		m.LeftWrist, m.LeftThumb, m.LeftFinger,
		m.RightWrist, m.RightThumb, m.RightFinger,
		m.World,
	}
}

func (m MeshConfig) Descriptor() ([]byte, error) {
	fields := []tlv.Field{tlv.U8(schema.FieldFilterType, schema.FilterMeshMapping)}
	for i, node := range m.nodes() {
		if !node.Up.valid() || !node.Forward.valid() || !node.Right.valid() {
			return nil, fmt.Errorf("%w: node=%d %+v", ErrInvalidAxisCode, i, node)
		}
		fields = append(fields, tlv.Bytes(
			schema.FieldMeshNodeBase+uint16(i),
			[]byte{byte(node.Up), byte(node.Forward), byte(node.Right)},
		))
	}
	fields = append(fields,
		tlv.Bool(schema.FieldNegateX, m.NegateX),
		tlv.Bool(schema.FieldNegateY, m.NegateY),
		tlv.Bool(schema.FieldNegateZ, m.NegateZ),
	)
	return tlv.EncodeFields(fields)
}

func mannequin() MeshConfig {
	right := MeshNode{Up: AxisYPos, Forward: AxisXPos, Right: AxisZNeg}
	left := MeshNode{Up: AxisYNeg, Forward: AxisXNeg, Right: AxisZNeg}
	return MeshConfig{
		LeftWrist:   left,
		LeftThumb:   left,
		LeftFinger:  left,
		RightWrist:  right,
		RightThumb:  right,
		RightFinger: right,
		World:       MeshNode{Up: AxisYPos, Forward: AxisZPos, Right: AxisXPos},
	}
}

func mannequinUnity() MeshConfig {
	m := mannequin()
	m.NegateX = true
	return m
}

const DefaultMeshPreset = "mannequin-unity"

var meshPresets = map[string]func() MeshConfig{
	"mannequin":       mannequin,
	"mannequin-unity": mannequinUnity,
}

func MeshPreset(name string) (MeshConfig, error) {
	build, ok := meshPresets[name]
	if !ok {
		return MeshConfig{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return build(), nil
}

func MeshPresetNames() []string {
	names := make([]string, 0, len(meshPresets))
	for name := range meshPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filter is a decoded filter descriptor. Exactly one of Gesture and Mesh is set.
type Filter struct {
	Type    uint8
	Gesture *GestureFilter
	Mesh    *MeshConfig
}

// ParseFilter validates and decodes one descriptor from an add-filters request.
func ParseFilter(descriptor []byte) (Filter, error) {
	fields, err := tlv.DecodeFields(descriptor)
	if err != nil {
		return Filter{}, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	if err := schema.ValidateFilter(fields); err != nil {
		return Filter{}, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	ft, _ := tlv.GetField(fields, schema.FieldFilterType)
	filterType, _ := tlv.U8FromBytes(ft.Value)
	switch filterType {
	case schema.FilterGesture:
		g, err := parseGesture(fields)
		if err != nil {
			return Filter{}, err
		}
		return Filter{Type: filterType, Gesture: &g}, nil
	default:
		m, err := parseMesh(fields)
		if err != nil {
			return Filter{}, err
		}
		return Filter{Type: filterType, Mesh: &m}, nil
	}
}

func parseGesture(fields []tlv.Field) (GestureFilter, error) {
	var g GestureFilter
	list, _ := tlv.GetField(fields, schema.FieldGestures)
	for _, b := range list.Value {
		g.Gestures = append(g.Gestures, Gesture(b))
	}
	floor, _ := tlv.GetField(fields, schema.FieldBlendFloor)
	ceil, _ := tlv.GetField(fields, schema.FieldBlendCeil)
	var err error
	if g.BlendFloor, err = tlv.F64FromBytes(floor.Value); err != nil {
		return GestureFilter{}, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	if g.BlendCeil, err = tlv.F64FromBytes(ceil.Value); err != nil {
		return GestureFilter{}, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return g, nil
}

func parseMesh(fields []tlv.Field) (MeshConfig, error) {
	var nodes [schema.MeshNodeCount]MeshNode
	for i := range nodes {
		f, _ := tlv.GetField(fields, schema.FieldMeshNodeBase+uint16(i))
		if len(f.Value) != 3 {
			return MeshConfig{}, fmt.Errorf("%w: node=%d len=%d", ErrInvalidFilter, i, len(f.Value))
		}
		nodes[i] = MeshNode{Up: Axis(int8(f.Value[0])), Forward: Axis(int8(f.Value[1])), Right: Axis(int8(f.Value[2]))}
	}
	m := MeshConfig{
		LeftWrist: nodes[0], LeftThumb: nodes[1], LeftFinger: nodes[2],
		RightWrist: nodes[3], RightThumb: nodes[4], RightFinger: nodes[5],
		World: nodes[6],
	}
	var err error
	for id, dst := range map[uint16]*bool{
		schema.FieldNegateX: &m.NegateX,
		schema.FieldNegateY: &m.NegateY,
		schema.FieldNegateZ: &m.NegateZ,
	} {
		f, _ := tlv.GetField(fields, id)
		if *dst, err = tlv.BoolFromBytes(f.Value); err != nil {
			return MeshConfig{}, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
		}
	}
	return m, nil
}
