package mesh

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Quaternion is a rotation quaternion with scalar part A and vector part (B, C, D).
// Components are stored as produced; nothing here normalizes them.
type Quaternion struct {
	A, B, C, D float64
}

// QuaternionFromNumber converts a gonum quaternion
func QuaternionFromNumber(n quat.Number) Quaternion {
	return Quaternion{A: n.Real, B: n.Imag, C: n.Jmag, D: n.Kmag}
}

// Number returns q as a gonum quaternion
func (q Quaternion) Number() quat.Number {
	return quat.Number{Real: q.A, Imag: q.B, Jmag: q.C, Kmag: q.D}
}

// Add returns the component-wise sum q + o
func (q Quaternion) Add(o Quaternion) Quaternion {
	return Quaternion{A: q.A + o.A, B: q.B + o.B, C: q.C + o.C, D: q.D + o.D}
}

// Norm returns the Euclidean length of the four components
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.A*q.A + q.B*q.B + q.C*q.C + q.D*q.D)
}

// RotationMatrix converts q to a 3x3 matrix.
// A unit quaternion yields a proper rotation; anything else yields a scaled matrix.
func (q Quaternion) RotationMatrix() Matrix3 {
	a, b, c, d := q.A, q.B, q.C, q.D
	return Matrix3{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - b*b - c*c},
	}
}
