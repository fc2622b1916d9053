package coordinator

import (
	"encoding/json"

	"github.com/mirmik/webkin/internal/kinematics"
)

// NodeWire is the wire shape of one scene-snapshot entry.
type NodeWire struct {
	Pose  kinematics.WirePose `json:"pose"`
	Model json.RawMessage     `json:"model,omitempty"`
}

// SceneInit is sent once per client at connection time and to every client
// on a tree reload.
type SceneInit struct {
	Type       string                         `json:"type"`
	Nodes      map[string]NodeWire            `json:"nodes"`
	Joints     []string                       `json:"joints"`
	JointsInfo map[string]kinematics.JointInfo `json:"jointsInfo"`
	ZUp        bool                           `json:"zUp"`
}

// SceneUpdate is sent on every joint update or calibration override change.
type SceneUpdate struct {
	Type       string                         `json:"type"`
	Nodes      map[string]NodeWire            `json:"nodes"`
	JointsInfo map[string]kinematics.JointInfo `json:"jointsInfo"`
}

func wireNodes(snap map[string]kinematics.NodeSnapshot) map[string]NodeWire {
	out := make(map[string]NodeWire, len(snap))
	for name, n := range snap {
		out[name] = NodeWire{
			Pose: kinematics.WirePose{
				Position:    kinematics.WireVec3{n.Pose.Pos.X, n.Pose.Pos.Y, n.Pose.Pos.Z},
				Orientation: [4]float64{n.Pose.Ori.X, n.Pose.Ori.Y, n.Pose.Ori.Z, n.Pose.Ori.W},
			},
			Model: n.Model,
		}
	}
	return out
}
