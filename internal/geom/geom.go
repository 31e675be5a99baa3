// Package geom holds the small amount of rigid-body geometry the sharing
// protocol needs: vectors, yaw rotations, rigid transforms and object poses.
//
// Coordinate convention: Y is up and gravity aligned on every device, X/Z
// span the horizontal plane. Rotations are unit quaternions.
package geom

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Vec is a point or direction in a device's local frame (meters).
type Vec = r3.Vec

// Epsilon is the length below which a direction is treated as zero.
const Epsilon = 1e-9

// Tolerance is the default comparison tolerance for poses and points.
const Tolerance = 1e-6

// ErrDegenerate is returned when a rotation cannot be derived because an
// input direction has (near) zero length.
var ErrDegenerate = errors.New("degenerate geometry: zero-length direction")

// Up is the shared vertical axis.
var Up = Vec{Y: 1}

// IdentityRotation is the unit quaternion for "no rotation".
var IdentityRotation = quat.Number{Real: 1}

// Planar projects v onto the horizontal plane.
func Planar(v Vec) Vec {
	return Vec{X: v.X, Z: v.Z}
}

// YawQuat returns the rotation of angle radians about Up.
func YawQuat(angle float64) quat.Number {
	return quat.Number(r3.NewRotation(angle, Up))
}

// YawBetween returns the shortest rotation about Up that maps the planar
// projection of from onto the planar projection of to.
func YawBetween(from, to Vec) (quat.Number, error) {
	f, t := Planar(from), Planar(to)
	if r3.Norm(f) < Epsilon || r3.Norm(t) < Epsilon {
		return quat.Number{}, ErrDegenerate
	}
	angle := math.Atan2(r3.Cross(f, t).Y, r3.Dot(f, t))
	return YawQuat(angle), nil
}

// YawAngle returns the rotation angle of q about Up in radians, assuming q
// is a pure yaw.
func YawAngle(q quat.Number) float64 {
	return 2 * math.Atan2(q.Jmag, q.Real)
}

// Rotate applies the unit quaternion q to v.
func Rotate(q quat.Number, v Vec) Vec {
	return r3.Rotation(q).Rotate(v)
}

// Normalize scales q to unit length. The zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n < Epsilon {
		return IdentityRotation
	}
	return quat.Scale(1/n, q)
}

// IsFinite reports whether all components of v are finite numbers.
func IsFinite(v Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// VecApproxEqual reports whether a and b are within tol of each other.
func VecApproxEqual(a, b Vec, tol float64) bool {
	return r3.Norm(r3.Sub(a, b)) <= tol
}

// RotationApproxEqual reports whether a and b describe the same rotation
// within tol. q and -q are the same rotation.
func RotationApproxEqual(a, b quat.Number, tol float64) bool {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	return 1-math.Abs(dot) <= tol
}
