package mesh

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats/scalar"
)

// Matrix3 is a row-major 3x3 matrix
type Matrix3 [3][3]float64

// IdentityMatrix3 returns the 3x3 identity
func IdentityMatrix3() Matrix3 {
	return Matrix3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// MulVec returns m*v
func (m Matrix3) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Mul composes two matrices: result = m * o
// Applying result is equivalent to applying o first, then m
func (m Matrix3) Mul(o Matrix3) Matrix3 {
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*o[0][j] + m[i][1]*o[1][j] + m[i][2]*o[2][j]
		}
	}
	return r
}

// Transpose returns mᵀ
func (m Matrix3) Transpose() Matrix3 {
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

// Det returns the determinant
func (m Matrix3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Scale multiplies every entry by s
func (m Matrix3) Scale(s float64) Matrix3 {
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][j] * s
		}
	}
	return r
}

// Trace returns the sum of the diagonal
func (m Matrix3) Trace() float64 {
	return m[0][0] + m[1][1] + m[2][2]
}

// EqualApprox reports whether every entry of m and o differs by at most tol
func (m Matrix3) EqualApprox(o Matrix3, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !scalar.EqualWithinAbs(m[i][j], o[i][j], tol) {
				return false
			}
		}
	}
	return true
}

// Transform is a similarity transform: x' = Scale * Rotation * x + Translation.
// Values are immutable once solved.
type Transform struct {
	Scale       float64   `json:"scale"`
	Rotation    Matrix3   `json:"rotation"`
	Translation r3.Vector `json:"translation"`
}

// IdentityTransform returns scale 1, no rotation and no translation
func IdentityTransform() Transform {
	return Transform{Scale: 1, Rotation: IdentityMatrix3()}
}

// Translation creates a translation-only transform
func Translation(t r3.Vector) Transform {
	tr := IdentityTransform()
	tr.Translation = t
	return tr
}

// Apply transforms a single point
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return t.Rotation.MulVec(p).Mul(t.Scale).Add(t.Translation)
}

// ApplyAll transforms every point into a new slice
func (t Transform) ApplyAll(points PointSet) PointSet {
	result := make(PointSet, len(points))
	for i, p := range points {
		result[i] = t.Apply(p)
	}
	return result
}

// Matrix4 returns the homogeneous 4x4 form whose upper-left block is Scale*Rotation
func (t Transform) Matrix4() [4][4]float64 {
	sr := t.Rotation.Scale(t.Scale)
	return [4][4]float64{
		{sr[0][0], sr[0][1], sr[0][2], t.Translation.X},
		{sr[1][0], sr[1][1], sr[1][2], t.Translation.Y},
		{sr[2][0], sr[2][1], sr[2][2], t.Translation.Z},
		{0, 0, 0, 1},
	}
}

// TransformFromMatrix4 splits a homogeneous matrix into scale, rotation and translation.
// Scale is the cube root of the block determinant. A singular block yields
// scale 0 and an identity rotation.
func TransformFromMatrix4(m [4][4]float64) Transform {
	var block Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			block[i][j] = m[i][j]
		}
	}
	t := Transform{
		Scale:       math.Cbrt(block.Det()),
		Rotation:    IdentityMatrix3(),
		Translation: r3.Vector{X: m[0][3], Y: m[1][3], Z: m[2][3]},
	}
	if math.Abs(t.Scale) > 1e-12 {
		t.Rotation = block.Scale(1 / t.Scale)
	}
	return t
}

// RotationAboutAxis builds the rotation matrix for angle radians about axis
func RotationAboutAxis(axis r3.Vector, angle float64) Matrix3 {
	axis = axis.Normalize()
	half := angle / 2
	s := math.Sin(half)
	q := Quaternion{A: math.Cos(half), B: axis.X * s, C: axis.Y * s, D: axis.Z * s}
	return q.RotationMatrix()
}
