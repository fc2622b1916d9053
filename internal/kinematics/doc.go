package kinematics

import "encoding/json"

// NodeKind is the closed set of node variants a kinematic tree can contain.
type NodeKind string

const (
	KindTransform NodeKind = "transform"
	KindRotator   NodeKind = "rotator"
	KindActuator  NodeKind = "actuator"
)

// Doc is the wire shape of a tree document: a recursive node with an
// opaque, verbatim-forwarded model blob.
type Doc struct {
	Node
}

// Node mirrors one entry of the recursive tree document JSON shape.
type Node struct {
	Name        string          `json:"name"`
	Type        NodeKind        `json:"type"`
	Pose        WirePose        `json:"pose"`
	Axis        *WireVec3       `json:"axis,omitempty"`
	AxisOffset  *float64        `json:"axis_offset,omitempty"`
	AxisScale   *float64        `json:"axis_scale,omitempty"`
	SliderMin   *float64        `json:"slider_min,omitempty"`
	SliderMax   *float64        `json:"slider_max,omitempty"`
	Model       json.RawMessage `json:"model,omitempty"`
	Children    []Node          `json:"children,omitempty"`
}

// WireVec3 is the [x, y, z] array form used on the wire.
type WireVec3 [3]float64

// WirePose is the wire form of a Pose: position plus (x,y,z,w) quaternion.
type WirePose struct {
	Position    WireVec3 `json:"position"`
	Orientation [4]float64 `json:"orientation"`
}

// defaults for unspecified calibration fields, keyed by node kind.
const (
	defaultAxisOffset = 0.0
	defaultAxisScale  = 1.0
)

func defaultSliderMin(kind NodeKind) float64 {
	if kind == KindActuator {
		return -1000
	}
	return -180
}

func defaultSliderMax(kind NodeKind) float64 {
	if kind == KindActuator {
		return 1000
	}
	return 180
}
