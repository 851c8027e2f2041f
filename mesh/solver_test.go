package mesh

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitCube() PointSet {
	var cube PointSet
	for _, x := range []float64{0, 1} {
		for _, y := range []float64{0, 1} {
			for _, z := range []float64{0, 1} {
				cube = append(cube, r3.Vector{X: x, Y: y, Z: z})
			}
		}
	}
	return cube
}

func randomCloud(count int, extent float64, rng *rand.Rand) PointSet {
	points := make(PointSet, count)
	for i := range points {
		points[i] = r3.Vector{
			X: (rng.Float64()*2 - 1) * extent,
			Y: (rng.Float64()*2 - 1) * extent,
			Z: (rng.Float64()*2 - 1) * extent,
		}
	}
	return points
}

func TestSolveTransformUnitCubeIdentity(t *testing.T) {
	cube := unitCube()

	sol, err := SolveTransform(cube, cube, true)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, sol.Scale, 1e-6)
	assert.True(t, sol.Rotation.EqualApprox(IdentityMatrix3(), 1e-6), "rotation = %v", sol.Rotation)
	assert.True(t, vectorsEqual(sol.Translation, r3.Vector{}, 1e-6), "translation = %v", sol.Translation)
	assert.InDelta(t, 0.0, residualError(sol.ApplyAll(cube), cube), 1e-6)
}

func TestSolveTransformPureTranslation(t *testing.T) {
	cube := unitCube()
	offset := r3.Vector{X: 1, Y: 2, Z: 3}
	target := Translation(offset).ApplyAll(cube)

	sol, err := SolveTransform(cube, target, true)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, sol.Scale, 1e-9)
	assert.True(t, sol.Rotation.EqualApprox(IdentityMatrix3(), 1e-9), "rotation = %v", sol.Rotation)
	assert.True(t, vectorsEqual(sol.Translation, offset, 1e-9), "translation = %v", sol.Translation)
	assert.True(t, vectorsEqual(sol.SourceCentroid, r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}, 1e-12))
	assert.True(t, vectorsEqual(sol.TargetCentroid, r3.Vector{X: 1.5, Y: 2.5, Z: 3.5}, 1e-12))
}

func TestSolveTransformRecoversSimilarity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	tests := []struct {
		name string
		want Transform
	}{
		{
			name: "rotation and translation",
			want: Transform{
				Scale:       1,
				Rotation:    RotationAboutAxis(r3.Vector{X: 1, Y: 2, Z: 3}, 0.9),
				Translation: r3.Vector{X: 4, Y: -2, Z: 7},
			},
		},
		{
			name: "scaled up",
			want: Transform{
				Scale:       1.7,
				Rotation:    RotationAboutAxis(r3.Vector{X: 0, Y: 0, Z: 1}, -2.5),
				Translation: r3.Vector{X: -10, Y: 0.5, Z: 0},
			},
		},
		{
			name: "scaled down near half turn",
			want: Transform{
				Scale:       0.25,
				Rotation:    RotationAboutAxis(r3.Vector{X: -1, Y: 1, Z: 0.2}, 3.1),
				Translation: r3.Vector{X: 0, Y: 0, Z: 100},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := randomCloud(50, 10, rng)
			target := tt.want.ApplyAll(source)

			sol, err := SolveTransform(source, target, true)
			require.NoError(t, err)

			assert.InDelta(t, tt.want.Scale, sol.Scale, 1e-9)
			assert.True(t, sol.Rotation.EqualApprox(tt.want.Rotation, 1e-9), "rotation = %v, want %v", sol.Rotation, tt.want.Rotation)
			assert.True(t, vectorsEqual(sol.Translation, tt.want.Translation, 1e-8), "translation = %v, want %v", sol.Translation, tt.want.Translation)
			assert.InDelta(t, 0.0, residualError(sol.ApplyAll(source), target), 1e-9)
			assert.InDelta(t, 1.0, sol.Quaternion.Norm(), 1e-12)
			assert.Greater(t, sol.Eigenvalue, 0.0)
		})
	}
}

func TestSolveTransformRigidKeepsUnitScale(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	source := randomCloud(30, 5, rng)
	scaled := Transform{
		Scale:       3,
		Rotation:    RotationAboutAxis(r3.Vector{X: 1}, 0.4),
		Translation: r3.Vector{Y: 1},
	}
	target := scaled.ApplyAll(source)

	sol, err := SolveTransform(source, target, false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sol.Scale)
	assert.True(t, sol.Rotation.EqualApprox(scaled.Rotation, 1e-9), "rotation = %v", sol.Rotation)
}

func TestSolveTransformResolveDoesNotIncreaseError(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	source := randomCloud(40, 3, rng)
	truth := Transform{
		Scale:       1,
		Rotation:    RotationAboutAxis(r3.Vector{X: 2, Y: -1, Z: 1}, 0.6),
		Translation: r3.Vector{X: 0.5, Y: 0.5, Z: -1},
	}
	target := truth.ApplyAll(source)
	for i := range target {
		target[i] = target[i].Add(r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Mul(0.05))
	}

	first, err := SolveTransform(source, target, false)
	require.NoError(t, err)
	moved := first.ApplyAll(source)
	before := residualError(moved, target)
	assert.Less(t, before, residualError(source, target))

	second, err := SolveTransform(moved, target, false)
	require.NoError(t, err)
	after := residualError(second.ApplyAll(moved), target)
	assert.LessOrEqual(t, after, before+1e-12)
}

func TestSolveTransformDoesNotModifyInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	source := randomCloud(10, 2, rng)
	target := Translation(r3.Vector{X: 5}).ApplyAll(source)
	sourceCopy := source.Clone()
	targetCopy := target.Clone()

	_, err := SolveTransform(source, target, true)
	require.NoError(t, err)
	assert.Equal(t, sourceCopy, source)
	assert.Equal(t, targetCopy, target)
}

func TestSolveTransformErrors(t *testing.T) {
	tests := []struct {
		name          string
		source        PointSet
		target        PointSet
		estimateScale bool
		wantErr       error
	}{
		{
			name:    "empty",
			wantErr: ErrInvalidInputShape,
		},
		{
			name:    "length mismatch",
			source:  PointSet{{X: 1}, {Y: 1}},
			target:  PointSet{{X: 1}},
			wantErr: ErrInvalidInputShape,
		},
		{
			// One pair recenters to the origin, so the Horn matrix is all zeros
			name:    "single pair",
			source:  PointSet{{X: 1, Y: 2, Z: 3}},
			target:  PointSet{{X: 4, Y: 5, Z: 6}},
			wantErr: ErrDegenerateCorrespondence,
		},
		{
			name:          "coincident source points",
			source:        PointSet{{X: 1, Y: 2, Z: 3}, {X: 1, Y: 2, Z: 3}, {X: 1, Y: 2, Z: 3}, {X: 1, Y: 2, Z: 3}},
			target:        PointSet{{X: 0}, {X: 1}, {Y: 1}, {Z: 1}},
			estimateScale: true,
			wantErr:       ErrDegenerateCorrespondence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol, err := SolveTransform(tt.source, tt.target, tt.estimateScale)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, sol)
		})
	}
}

func TestSolveTransformFromRows(t *testing.T) {
	source := [][]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	target := [][]float64{{2, 0, 0}, {3, 0, 0}, {2, 1, 0}, {2, 0, 1}}

	sol, err := SolveTransformFromRows(source, target, true)
	require.NoError(t, err)
	assert.True(t, vectorsEqual(sol.Translation, r3.Vector{X: 2}, 1e-9), "translation = %v", sol.Translation)
	assert.InDelta(t, 1.0, sol.Scale, 1e-9)

	_, err = SolveTransformFromRows([][]float64{{0, 0}}, [][]float64{{0, 0}}, false)
	assert.ErrorIs(t, err, ErrInvalidInputShape)

	_, err = SolveTransformFromRows(source, target[:3], false)
	assert.ErrorIs(t, err, ErrInvalidInputShape)
}

func TestHornMatrixIsSymmetricWithTraceLayout(t *testing.T) {
	cov := Matrix3{{1, 2, 3}, {4, 5, 6}, {7, 8, 10}}
	n4 := hornMatrix(cov)

	assert.Equal(t, 16.0, n4.At(0, 0))
	assert.Equal(t, 6.0-8.0, n4.At(0, 1))
	assert.Equal(t, 7.0-3.0, n4.At(0, 2))
	assert.Equal(t, 2.0-4.0, n4.At(0, 3))
	assert.Equal(t, 2.0-16.0, n4.At(1, 1))
	assert.Equal(t, 6.0, n4.At(1, 2))
	assert.Equal(t, 20.0-16.0, n4.At(3, 3))

	var trace float64
	for i := 0; i < 4; i++ {
		trace += n4.At(i, i)
		for j := 0; j < 4; j++ {
			assert.Equal(t, n4.At(i, j), n4.At(j, i))
		}
	}
	assert.InDelta(t, 0.0, trace, 1e-12)
}
