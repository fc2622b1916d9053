package spatial

// Pose is a rigid transform: a position plus a unit-quaternion orientation.
type Pose struct {
	Pos Vec3
	Ori Quat
}

// IdentityPose is the no-op transform.
var IdentityPose = Pose{Pos: Vec3{}, Ori: IdentityQuat}

// Compose returns p1 . p2 = (p1.Pos + p1.Ori.Rotate(p2.Pos), p1.Ori * p2.Ori).
// Composition is non-commutative: p1.Compose(p2) applies p2 in p1's frame.
func (p Pose) Compose(o Pose) Pose {
	return Pose{
		Pos: p.Pos.Add(p.Ori.Rotate(o.Pos)),
		Ori: p.Ori.Mul(o.Ori),
	}
}
