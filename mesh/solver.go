package mesh

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Solution is the closed-form similarity transform between two corresponding point sets,
// together with the quantities it was derived from.
type Solution struct {
	Transform
	Quaternion     Quaternion `json:"quaternion"`
	Eigenvalue     float64    `json:"eigenvalue"`
	SourceCentroid r3.Vector  `json:"sourceCentroid"`
	TargetCentroid r3.Vector  `json:"targetCentroid"`
}

// SolveTransform computes the transform T minimizing Σ‖T(source_i) − target_i‖²
// using Horn's quaternion method.
//
// source[i] corresponds to target[i]. When estimateScale is false the scale is fixed at 1.
// Inputs are never modified.
func SolveTransform(source, target PointSet, estimateScale bool) (*Solution, error) {
	n := len(source)
	if n == 0 || n != len(target) {
		return nil, fmt.Errorf("source has %d points, target has %d: %w", n, len(target), ErrInvalidInputShape)
	}

	sourceCentroid := Centroid(source)
	targetCentroid := Centroid(target)
	src := recenter(source, sourceCentroid)
	tgt := recenter(target, targetCentroid)

	cov := crossCovariance(src, tgt)
	quaternion, eigenvalue, err := dominantQuaternion(cov)
	if err != nil {
		return nil, err
	}
	if eigenvalue <= 0 {
		return nil, fmt.Errorf("largest eigenvalue %g is not positive: %w", eigenvalue, ErrDegenerateCorrespondence)
	}

	scale := 1.0
	if estimateScale {
		var srcSum, tgtSum float64
		for i := range src {
			srcSum += src[i].Norm2()
			tgtSum += tgt[i].Norm2()
		}
		if srcSum == 0 {
			return nil, fmt.Errorf("source points have no spread: %w", ErrDegenerateCorrespondence)
		}
		scale = math.Sqrt(tgtSum / srcSum)
	}

	rotation := quaternion.RotationMatrix()
	translation := targetCentroid.Sub(rotation.MulVec(sourceCentroid).Mul(scale))

	return &Solution{
		Transform: Transform{
			Scale:       scale,
			Rotation:    rotation,
			Translation: translation,
		},
		Quaternion:     quaternion,
		Eigenvalue:     eigenvalue,
		SourceCentroid: sourceCentroid,
		TargetCentroid: targetCentroid,
	}, nil
}

// SolveTransformFromRows is SolveTransform for raw coordinate rows.
// Every row must have exactly 3 entries.
func SolveTransformFromRows(source, target [][]float64, estimateScale bool) (*Solution, error) {
	if len(source) != len(target) {
		return nil, fmt.Errorf("source has %d rows, target has %d: %w", len(source), len(target), ErrInvalidInputShape)
	}
	src, err := PointSetFromRows(source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	tgt, err := PointSetFromRows(target)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	return SolveTransform(src, tgt, estimateScale)
}

func recenter(points PointSet, centroid r3.Vector) PointSet {
	out := make(PointSet, len(points))
	for i, p := range points {
		out[i] = p.Sub(centroid)
	}
	return out
}

// crossCovariance returns (1/N) Σ s_i ⊗ t_i
func crossCovariance(src, tgt PointSet) Matrix3 {
	var cov Matrix3
	for i := range src {
		s := [3]float64{src[i].X, src[i].Y, src[i].Z}
		t := [3]float64{tgt[i].X, tgt[i].Y, tgt[i].Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				cov[r][c] += s[r] * t[c]
			}
		}
	}
	return cov.Scale(1 / float64(len(src)))
}

// hornMatrix builds the symmetric 4x4 matrix whose leading eigenvector is the optimal rotation
func hornMatrix(cov Matrix3) *mat.SymDense {
	tr := cov.Trace()
	anti := [3]float64{
		cov[1][2] - cov[2][1],
		cov[2][0] - cov[0][2],
		cov[0][1] - cov[1][0],
	}

	n4 := mat.NewSymDense(4, nil)
	n4.SetSym(0, 0, tr)
	for i := 0; i < 3; i++ {
		n4.SetSym(0, i+1, anti[i])
		for j := i; j < 3; j++ {
			v := cov[i][j] + cov[j][i]
			if i == j {
				v -= tr
			}
			n4.SetSym(i+1, j+1, v)
		}
	}
	return n4
}

// dominantQuaternion returns the eigenvector of the largest eigenvalue of the Horn matrix.
// Eigenvalues come back in ascending order, so ties resolve to the highest index.
func dominantQuaternion(cov Matrix3) (Quaternion, float64, error) {
	var eigen mat.EigenSym
	if ok := eigen.Factorize(hornMatrix(cov), true); !ok {
		return Quaternion{}, 0, ErrEigenDecompositionFailure
	}

	vals := eigen.Values(nil)
	var vecs mat.Dense
	eigen.VectorsTo(&vecs)

	best := len(vals) - 1
	q := Quaternion{
		A: vecs.At(0, best),
		B: vecs.At(1, best),
		C: vecs.At(2, best),
		D: vecs.At(3, best),
	}
	return q, vals[best], nil
}
