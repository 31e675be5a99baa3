package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// Transform is a rigid transform: rotate, then translate.
type Transform struct {
	Rotation    quat.Number
	Translation Vec
}

// Identity returns the transform that leaves every point unchanged.
func Identity() Transform {
	return Transform{Rotation: IdentityRotation}
}

// Apply maps the point v through t.
func (t Transform) Apply(v Vec) Vec {
	return r3.Add(Rotate(t.Rotation, v), t.Translation)
}

// Compose returns t∘inner, the transform that applies inner first and then t.
func (t Transform) Compose(inner Transform) Transform {
	return Transform{
		Rotation:    Normalize(quat.Mul(t.Rotation, inner.Rotation)),
		Translation: t.Apply(inner.Translation),
	}
}

// Inverse returns the transform undoing t.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(Normalize(t.Rotation))
	return Transform{
		Rotation:    inv,
		Translation: r3.Scale(-1, Rotate(inv, t.Translation)),
	}
}

// ApplyPose re-expresses a pose given in t's source frame in t's target frame.
// Scale is frame independent and carried through unchanged.
func (t Transform) ApplyPose(p Pose) Pose {
	return Pose{
		Rotation:    Normalize(quat.Mul(t.Rotation, p.Rotation)),
		Translation: t.Apply(p.Translation),
		Scale:       p.Scale,
	}
}

// ApproxEqual reports whether t and o agree within tol.
func (t Transform) ApproxEqual(o Transform, tol float64) bool {
	return RotationApproxEqual(t.Rotation, o.Rotation, tol) &&
		VecApproxEqual(t.Translation, o.Translation, tol)
}

// rotationMatrix returns the row-major 3x3 matrix of the unit quaternion q.
func rotationMatrix(q quat.Number) [9]float64 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// quatFromMatrix converts a row-major orthonormal 3x3 matrix to a unit quaternion.
func quatFromMatrix(m [9]float64) quat.Number {
	trace := m[0] + m[4] + m[8]
	var q quat.Number
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: s / 4, Imag: (m[7] - m[5]) / s, Jmag: (m[2] - m[6]) / s, Kmag: (m[3] - m[1]) / s}
	case m[0] > m[4] && m[0] > m[8]:
		s := math.Sqrt(1+m[0]-m[4]-m[8]) * 2
		q = quat.Number{Real: (m[7] - m[5]) / s, Imag: s / 4, Jmag: (m[1] + m[3]) / s, Kmag: (m[2] + m[6]) / s}
	case m[4] > m[8]:
		s := math.Sqrt(1+m[4]-m[0]-m[8]) * 2
		q = quat.Number{Real: (m[2] - m[6]) / s, Imag: (m[1] + m[3]) / s, Jmag: s / 4, Kmag: (m[5] + m[7]) / s}
	default:
		s := math.Sqrt(1+m[8]-m[0]-m[4]) * 2
		q = quat.Number{Real: (m[3] - m[1]) / s, Imag: (m[2] + m[6]) / s, Jmag: (m[5] + m[7]) / s, Kmag: s / 4}
	}
	return Normalize(q)
}

// IsValidTransformMatrix checks if a 4x4 row-major matrix is a rigid
// transform: the rotation part must have orthogonal columns with det ≈ 1
// and the last row must be [0 0 0 1]. Divide out any scale first.
func IsValidTransformMatrix(T [16]float64) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	cols := [3]Vec{{X: r00, Y: r10, Z: r20}, {X: r01, Y: r11, Z: r21}, {X: r02, Y: r12, Z: r22}}
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			if math.Abs(r3.Cos(cols[i], cols[j])) > MatrixValidationTolerance {
				return false
			}
		}
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}

// Transpose4 converts between row-major and column-major 4x4 layouts.
func Transpose4(m [16]float64) [16]float64 {
	var out [16]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[c*4+r] = m[r*4+c]
		}
	}
	return out
}
