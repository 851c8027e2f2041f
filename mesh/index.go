package mesh

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Index kinds accepted by NewIndex
const (
	IndexKDTree = "kdtree"
	IndexBrute  = "brute"
)

// NearestNeighborIndex answers closest-point queries against a fixed target set.
// Implementations must be deterministic and must not modify the target.
type NearestNeighborIndex interface {
	// Query returns, for every input point, the closest target point, its index and the distance
	Query(points PointSet) Correspondences
	// Points returns the target set in its original order
	Points() PointSet
}

// NewIndex builds a nearest-neighbour index of the given kind over target.
// An empty kind selects the KD-tree.
func NewIndex(kind string, target PointSet) (NearestNeighborIndex, error) {
	switch kind {
	case "", IndexKDTree:
		return NewKDTreeIndex(target)
	case IndexBrute:
		return NewBruteForceIndex(target)
	default:
		return nil, fmt.Errorf("%q: %w", kind, ErrUnknownIndex)
	}
}

// indexedPoint is a target point that remembers its position in the original set
type indexedPoint struct {
	P     r3.Vector
	Index int
}

func (p indexedPoint) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.P.X
	case 1:
		return p.P.Y
	default:
		return p.P.Z
	}
}

// Compare returns the signed distance of p from the plane through c perpendicular to d
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	return p.coord(d) - q.coord(d)
}

func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	return p.P.Sub(q.P).Norm2()
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Pivot(d kdtree.Dim) int                { return plane{Dim: d, indexedPoints: p}.Pivot() }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane sorts points along a single dimension for median partitioning
type plane struct {
	kdtree.Dim
	indexedPoints
}

func (p plane) Less(i, j int) bool {
	return p.indexedPoints[i].coord(p.Dim) < p.indexedPoints[j].coord(p.Dim)
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{Dim: p.Dim, indexedPoints: p.indexedPoints[start:end]}
}
func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// KDTreeIndex is a NearestNeighborIndex backed by a gonum k-d tree.
// It is read-only after construction and safe for concurrent queries.
type KDTreeIndex struct {
	points PointSet
	tree   *kdtree.Tree
}

// NewKDTreeIndex builds a k-d tree over a copy of target
func NewKDTreeIndex(target PointSet) (*KDTreeIndex, error) {
	if len(target) == 0 {
		return nil, fmt.Errorf("empty target: %w", ErrInvalidInputShape)
	}
	// kdtree.New reorders its input
	nodes := make(indexedPoints, len(target))
	for i, p := range target {
		nodes[i] = indexedPoint{P: p, Index: i}
	}
	return &KDTreeIndex{
		points: target.Clone(),
		tree:   kdtree.New(nodes, false),
	}, nil
}

// Query implements NearestNeighborIndex
func (k *KDTreeIndex) Query(points PointSet) Correspondences {
	result := newCorrespondences(len(points))
	for i, p := range points {
		c, dist := k.tree.Nearest(indexedPoint{P: p})
		nearest := c.(indexedPoint)
		result.Distances[i] = math.Sqrt(dist)
		result.Indices[i] = nearest.Index
		result.Positions[i] = nearest.P
	}
	return result
}

// Points implements NearestNeighborIndex
func (k *KDTreeIndex) Points() PointSet { return k.points }

// BruteForceIndex scans every target point for each query.
// Ties resolve to the lowest target index.
type BruteForceIndex struct {
	points PointSet
}

// NewBruteForceIndex creates an exhaustive index over a copy of target
func NewBruteForceIndex(target PointSet) (*BruteForceIndex, error) {
	if len(target) == 0 {
		return nil, fmt.Errorf("empty target: %w", ErrInvalidInputShape)
	}
	return &BruteForceIndex{points: target.Clone()}, nil
}

// Query implements NearestNeighborIndex
func (b *BruteForceIndex) Query(points PointSet) Correspondences {
	result := newCorrespondences(len(points))
	for i, p := range points {
		bestIdx := 0
		bestDist := math.Inf(1)
		for j, t := range b.points {
			if d := p.Sub(t).Norm2(); d < bestDist {
				bestDist = d
				bestIdx = j
			}
		}
		result.Distances[i] = math.Sqrt(bestDist)
		result.Indices[i] = bestIdx
		result.Positions[i] = b.points[bestIdx]
	}
	return result
}

// Points implements NearestNeighborIndex
func (b *BruteForceIndex) Points() PointSet { return b.points }

func newCorrespondences(n int) Correspondences {
	return Correspondences{
		Distances: make([]float64, n),
		Indices:   make([]int, n),
		Positions: make(PointSet, n),
	}
}
