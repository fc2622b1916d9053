// Package kinematics implements the tree load, joint addressing, and
// forward-kinematics engine described by the kinematic tree component.
package kinematics

import (
	"encoding/json"
	"fmt"

	"github.com/mirmik/webkin/internal/spatial"
)

// node is the internal representation of one tree entry. Joint fields are
// meaningless (and ignored) for KindTransform nodes.
type node struct {
	name       string
	kind       NodeKind
	localPose  spatial.Pose
	axis       spatial.Vec3
	coord      float64
	axisOffset float64
	axisScale  float64
	sliderMin  float64
	sliderMax  float64
	model      json.RawMessage
	children   []*node

	globalPose spatial.Pose
}

// isJoint reports whether n drives a joint transform.
func (n *node) isJoint() bool {
	return n.kind == KindRotator || n.kind == KindActuator
}

// effective returns the joint's effective coordinate, (coord+offset)*scale.
func (n *node) effective() float64 {
	return (n.coord + n.axisOffset) * n.axisScale
}

// jointTransform returns the pose contributed by this node's own joint,
// identity for non-joint nodes. It is the single discriminator used during
// descent, instead of branching on kind at every call site.
func (n *node) jointTransform() spatial.Pose {
	switch n.kind {
	case KindRotator:
		return spatial.Pose{Ori: spatial.QuatFromAxisAngle(n.axis, n.effective())}
	case KindActuator:
		return spatial.Pose{Pos: n.axis.Scale(n.effective()), Ori: spatial.IdentityQuat}
	default:
		return spatial.IdentityPose
	}
}

// Tree is the authoritative in-memory kinematic tree: a rooted hierarchy of
// nodes plus an O(1) name-to-joint lookup map.
type Tree struct {
	root   *node
	byName map[string]*node
	joints map[string]*node
}

// Load parses doc into a Tree. It fails with ErrMalformedTree if a required
// field is missing or a type tag is unrecognized, or ErrDuplicateName if two
// nodes share a name.
func Load(doc Doc) (*Tree, error) {
	t := &Tree{
		byName: make(map[string]*node),
		joints: make(map[string]*node),
	}
	root, err := t.build(doc.Node)
	if err != nil {
		return nil, err
	}
	t.root = root
	return t, nil
}

func (t *Tree) build(n Node) (*node, error) {
	if n.Name == "" {
		return nil, fmt.Errorf("%w: node missing name", ErrMalformedTree)
	}
	if _, dup := t.byName[n.Name]; dup {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, n.Name)
	}

	var kind NodeKind
	switch n.Type {
	case KindTransform, KindRotator, KindActuator:
		kind = n.Type
	default:
		return nil, fmt.Errorf("%w: node %q has unknown type %q", ErrMalformedTree, n.Name, n.Type)
	}

	out := &node{
		name: n.Name,
		kind: kind,
		localPose: spatial.Pose{
			Pos: spatial.Vec3{X: n.Pose.Position[0], Y: n.Pose.Position[1], Z: n.Pose.Position[2]},
			Ori: normalizedWireQuat(n.Pose.Orientation),
		},
		model: n.Model,
	}

	if kind == KindRotator || kind == KindActuator {
		if n.Axis == nil {
			return nil, fmt.Errorf("%w: joint %q missing axis", ErrMalformedTree, n.Name)
		}
		out.axis = spatial.Vec3{X: n.Axis[0], Y: n.Axis[1], Z: n.Axis[2]}
		out.axisOffset = valueOr(n.AxisOffset, defaultAxisOffset)
		out.axisScale = valueOr(n.AxisScale, defaultAxisScale)
		out.sliderMin = valueOr(n.SliderMin, defaultSliderMin(kind))
		out.sliderMax = valueOr(n.SliderMax, defaultSliderMax(kind))
	}

	t.byName[out.name] = out
	if out.isJoint() {
		t.joints[out.name] = out
	}

	out.children = make([]*node, 0, len(n.Children))
	for _, c := range n.Children {
		cn, err := t.build(c)
		if err != nil {
			return nil, err
		}
		out.children = append(out.children, cn)
	}
	return out, nil
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func normalizedWireQuat(q [4]float64) spatial.Quat {
	return spatial.Quat{X: q[0], Y: q[1], Z: q[2], W: q[3]}.Normalized()
}

// SetJointCoord updates the raw coord of the named joint. Unknown names are
// silently ignored, consistent with publishers sending a superset of
// joints during tree transitions.
func (t *Tree) SetJointCoord(name string, value float64) {
	if n, ok := t.joints[name]; ok {
		n.coord = value
	}
}

// SetJointCoords updates coords for every named joint present in the map,
// ignoring unknown names.
func (t *Tree) SetJointCoords(values map[string]float64) {
	for name, v := range values {
		t.SetJointCoord(name, v)
	}
}

// UpdateForward performs a single recursive descent from the root, writing
// global_pose to every node. Child order is preserved.
func (t *Tree) UpdateForward() {
	if t.root == nil {
		return
	}
	t.descend(t.root, spatial.IdentityPose)
}

func (t *Tree) descend(n *node, parentGlobal spatial.Pose) {
	n.globalPose = parentGlobal.Compose(n.localPose).Compose(n.jointTransform())
	for _, c := range n.children {
		t.descend(c, n.globalPose)
	}
}

// NodeSnapshot is one entry of a scene snapshot: the node's most recently
// computed global pose plus its opaque model blob.
type NodeSnapshot struct {
	Pose  spatial.Pose
	Model json.RawMessage
}

// SceneSnapshot emits a flat name -> {pose, model} map for every node, using
// the pose computed by the most recent UpdateForward.
func (t *Tree) SceneSnapshot() map[string]NodeSnapshot {
	out := make(map[string]NodeSnapshot, len(t.byName))
	t.collect(t.root, out)
	return out
}

func (t *Tree) collect(n *node, out map[string]NodeSnapshot) {
	if n == nil {
		return
	}
	out[n.name] = NodeSnapshot{Pose: n.globalPose, Model: n.model}
	for _, c := range n.children {
		t.collect(c, out)
	}
}

// JointInfo describes one joint's type and calibration parameters, as
// exposed to clients and the REST surface.
type JointInfo struct {
	Type       NodeKind `json:"type"`
	SliderMin  float64  `json:"slider_min"`
	SliderMax  float64  `json:"slider_max"`
	AxisScale  float64  `json:"axis_scale"`
	AxisOffset float64  `json:"axis_offset"`
}

// JointsInfo emits the calibration parameters of every joint in the tree.
func (t *Tree) JointsInfo() map[string]JointInfo {
	out := make(map[string]JointInfo, len(t.joints))
	for name, n := range t.joints {
		out[name] = JointInfo{
			Type:       n.kind,
			SliderMin:  n.sliderMin,
			SliderMax:  n.sliderMax,
			AxisScale:  n.axisScale,
			AxisOffset: n.axisOffset,
		}
	}
	return out
}

// JointNames returns the name of every joint in the tree, order unspecified.
func (t *Tree) JointNames() []string {
	out := make([]string, 0, len(t.joints))
	for name := range t.joints {
		out = append(out, name)
	}
	return out
}

// Coord returns the raw coord currently set on the named joint.
func (t *Tree) Coord(name string) (float64, bool) {
	n, ok := t.joints[name]
	if !ok {
		return 0, false
	}
	return n.coord, true
}

// AxisParams is a fully resolved set of per-joint calibration values.
type AxisParams struct {
	AxisOffset float64
	AxisScale  float64
	SliderMin  float64
	SliderMax  float64
}

// AxisParams returns the named joint's current calibration parameters.
func (t *Tree) AxisParams(name string) (AxisParams, bool) {
	n, ok := t.joints[name]
	if !ok {
		return AxisParams{}, false
	}
	return AxisParams{
		AxisOffset: n.axisOffset,
		AxisScale:  n.axisScale,
		SliderMin:  n.sliderMin,
		SliderMax:  n.sliderMax,
	}, true
}

// SetAxisParams overwrites the named joint's calibration parameters
// wholesale. Unknown names are silently ignored (tree shapes change over
// time). Returns whether the joint was found.
func (t *Tree) SetAxisParams(name string, p AxisParams) bool {
	n, ok := t.joints[name]
	if !ok {
		return false
	}
	n.axisOffset = p.AxisOffset
	n.axisScale = p.AxisScale
	n.sliderMin = p.SliderMin
	n.sliderMax = p.SliderMax
	return true
}

// ApplyPartialAxisParams writes only the non-nil fields onto the named
// joint's calibration parameters, leaving the rest untouched. Unknown names
// are silently ignored. Returns whether the joint was found.
func (t *Tree) ApplyPartialAxisParams(name string, offset, scale, sliderMin, sliderMax *float64) bool {
	n, ok := t.joints[name]
	if !ok {
		return false
	}
	if offset != nil {
		n.axisOffset = *offset
	}
	if scale != nil {
		n.axisScale = *scale
	}
	if sliderMin != nil {
		n.sliderMin = *sliderMin
	}
	if sliderMax != nil {
		n.sliderMax = *sliderMax
	}
	return true
}

// HasJoint reports whether name identifies a joint in the tree.
func (t *Tree) HasJoint(name string) bool {
	_, ok := t.joints[name]
	return ok
}

// FindOriginalAxisParams is a pure function over a tree document, used to
// restore defaults after an override delete. It returns the document's
// declared parameters for the named joint, or type-default slider bounds
// when the document did not declare them, and false if no joint with that
// name exists in the document.
func FindOriginalAxisParams(doc Doc, name string) (AxisParams, bool) {
	return findAxisParams(doc.Node, name)
}

func findAxisParams(n Node, name string) (AxisParams, bool) {
	if n.Name == name && (n.Type == KindRotator || n.Type == KindActuator) {
		return AxisParams{
			AxisOffset: valueOr(n.AxisOffset, defaultAxisOffset),
			AxisScale:  valueOr(n.AxisScale, defaultAxisScale),
			SliderMin:  valueOr(n.SliderMin, defaultSliderMin(n.Type)),
			SliderMax:  valueOr(n.SliderMax, defaultSliderMax(n.Type)),
		}, true
	}
	for _, c := range n.Children {
		if p, ok := findAxisParams(c, name); ok {
			return p, true
		}
	}
	return AxisParams{}, false
}
