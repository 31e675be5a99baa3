package geom

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidMatrix is returned by PoseFromMatrix for matrices that are not
// scaled rigid transforms.
var ErrInvalidMatrix = errors.New("invalid transform matrix (not a scaled rigid transform)")

// Pose is the placement of the shared object in one device's local frame.
type Pose struct {
	Rotation    quat.Number
	Translation Vec
	Scale       Vec
}

// IdentityPose is the object at the origin, unrotated, at unit scale.
func IdentityPose() Pose {
	return Pose{Rotation: IdentityRotation, Scale: Vec{X: 1, Y: 1, Z: 1}}
}

// At returns an unrotated unit-scale pose at position p.
func At(p Vec) Pose {
	pose := IdentityPose()
	pose.Translation = p
	return pose
}

// Transform returns the rigid part of the pose.
func (p Pose) Transform() Transform {
	return Transform{Rotation: p.Rotation, Translation: p.Translation}
}

// Matrix returns the pose as a 4x4 row-major matrix [R·S | T].
func (p Pose) Matrix() [16]float64 {
	r := rotationMatrix(Normalize(p.Rotation))
	s := [3]float64{p.Scale.X, p.Scale.Y, p.Scale.Z}
	t := [3]float64{p.Translation.X, p.Translation.Y, p.Translation.Z}
	var m [16]float64
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m[row*4+col] = r[row*3+col] * s[col]
		}
		m[row*4+3] = t[row]
	}
	m[15] = 1
	return m
}

// PoseFromMatrix decomposes a 4x4 row-major matrix built as [R·S | T].
// Column scales are divided out before the rotation is validated, so small
// uniform scales are accepted.
func PoseFromMatrix(m [16]float64) (Pose, error) {
	cols := [3]Vec{
		{X: m[0], Y: m[4], Z: m[8]},
		{X: m[1], Y: m[5], Z: m[9]},
		{X: m[2], Y: m[6], Z: m[10]},
	}
	scale := [3]float64{r3.Norm(cols[0]), r3.Norm(cols[1]), r3.Norm(cols[2])}

	unit := m
	var r [9]float64
	for col, c := range cols {
		if !(scale[col] > Epsilon) || math.IsInf(scale[col], 0) {
			return Pose{}, ErrInvalidMatrix
		}
		u := r3.Scale(1/scale[col], c)
		r[0*3+col], r[1*3+col], r[2*3+col] = u.X, u.Y, u.Z
		unit[0*4+col], unit[1*4+col], unit[2*4+col] = u.X, u.Y, u.Z
	}
	if !IsValidTransformMatrix(unit) {
		return Pose{}, ErrInvalidMatrix
	}
	return Pose{
		Rotation:    quatFromMatrix(r),
		Translation: Vec{X: m[3], Y: m[7], Z: m[11]},
		Scale:       Vec{X: scale[0], Y: scale[1], Z: scale[2]},
	}, nil
}

// IsValid reports whether the pose has finite components, a non-zero
// rotation and a strictly positive scale.
func (p Pose) IsValid() bool {
	q := p.Rotation
	for _, c := range [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	if quat.Abs(q) < Epsilon {
		return false
	}
	if !IsFinite(p.Translation) || !IsFinite(p.Scale) {
		return false
	}
	return p.Scale.X > 0 && p.Scale.Y > 0 && p.Scale.Z > 0
}

// ApproxEqual reports whether p and o agree within tol.
func (p Pose) ApproxEqual(o Pose, tol float64) bool {
	return RotationApproxEqual(p.Rotation, o.Rotation, tol) &&
		VecApproxEqual(p.Translation, o.Translation, tol) &&
		VecApproxEqual(p.Scale, o.Scale, tol)
}
