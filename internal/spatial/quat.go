package spatial

import "math"

// Quat is a unit quaternion stored as (x, y, z, w), the Hamilton convention.
// Identity is {0, 0, 0, 1}.
type Quat struct {
	X, Y, Z, W float64
}

// IdentityQuat is the no-rotation quaternion.
var IdentityQuat = Quat{0, 0, 0, 1}

// Mul returns the Hamilton product q * a, i.e. "apply a, then q".
func (q Quat) Mul(a Quat) Quat {
	return Quat{
		X: q.W*a.X + q.X*a.W + q.Y*a.Z - q.Z*a.Y,
		Y: q.W*a.Y - q.X*a.Z + q.Y*a.W + q.Z*a.X,
		Z: q.W*a.Z + q.X*a.Y - q.Y*a.X + q.Z*a.W,
		W: q.W*a.W - q.X*a.X - q.Y*a.Y - q.Z*a.Z,
	}
}

// Conjugate returns the conjugate of q, q*.
func (q Quat) Conjugate() Quat {
	return Quat{-q.X, -q.Y, -q.Z, q.W}
}

// Normalized returns q scaled to unit length. The zero quaternion is
// returned unchanged.
func (q Quat) Normalized() Quat {
	n := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if n == 0 {
		return q
	}
	inv := 1 / n
	return Quat{q.X * inv, q.Y * inv, q.Z * inv, q.W * inv}
}

// Rotate returns q * (v, 0) * q*, the sandwich product that rotates v by q.
func (q Quat) Rotate(v Vec3) Vec3 {
	p := Quat{v.X, v.Y, v.Z, 0}
	r := q.Mul(p).Mul(q.Conjugate())
	return Vec3{r.X, r.Y, r.Z}
}

// QuatFromAxisAngle builds a quaternion rotating by theta radians about
// axis. axis is NOT renormalized: callers that want a unit-axis rotation
// must pass a unit vector themselves, so results stay bit-reproducible
// with whatever produced the axis upstream.
func QuatFromAxisAngle(axis Vec3, theta float64) Quat {
	h := theta / 2
	s := math.Sin(h)
	return Quat{
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
		W: math.Cos(h),
	}
}
