package mesh

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Strategy names accepted by NewStrategy
const (
	StrategyClosedForm = "closed-form"
	StrategyCentroid   = "centroid"
)

// RegistrationStrategy aligns a source mesh onto a target mesh
type RegistrationStrategy interface {
	Name() string
	Align(ctx context.Context, source, target TriangleMesh, cfg ICPConfig) (*AlignmentResult, error)
}

// NewStrategy selects a strategy by name. An empty name selects closed-form ICP.
func NewStrategy(name string, logger *zap.Logger) (RegistrationStrategy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case "", StrategyClosedForm:
		return &ClosedFormStrategy{Index: IndexKDTree, Logger: logger}, nil
	case StrategyCentroid:
		return CentroidStrategy{}, nil
	default:
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownStrategy)
	}
}

// ClosedFormStrategy runs ICP with the Horn solver
type ClosedFormStrategy struct {
	Index    string // nearest-neighbour index kind, see NewIndex
	Logger   *zap.Logger
	Observer Observer
}

// Name implements RegistrationStrategy
func (s *ClosedFormStrategy) Name() string { return StrategyClosedForm }

// Align implements RegistrationStrategy.
// Faces are not inspected; callers validate meshes at load time.
// On a solver failure the partial result is returned alongside the error.
func (s *ClosedFormStrategy) Align(ctx context.Context, source, target TriangleMesh, cfg ICPConfig) (*AlignmentResult, error) {
	index, err := NewIndex(s.Index, target.Points)
	if err != nil {
		return nil, err
	}

	opts := []Option{WithConfig(cfg), WithContext(ctx), WithLogger(s.Logger)}
	if s.Observer != nil {
		opts = append(opts, WithObserver(s.Observer))
	}
	reg, err := Register(source.Points, index, opts...)
	if reg == nil {
		return nil, err
	}
	result := reg.Result(s.Name())
	return &result, err
}

// CentroidStrategy translates the source so both centroids coincide.
// It never rotates or scales and serves as a baseline.
type CentroidStrategy struct{}

// Name implements RegistrationStrategy
func (CentroidStrategy) Name() string { return StrategyCentroid }

// Align implements RegistrationStrategy
func (c CentroidStrategy) Align(ctx context.Context, source, target TriangleMesh, cfg ICPConfig) (*AlignmentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(source.Points) == 0 || len(target.Points) == 0 {
		return nil, fmt.Errorf("source has %d points, target has %d: %w", len(source.Points), len(target.Points), ErrInvalidInputShape)
	}
	index, err := NewKDTreeIndex(target.Points)
	if err != nil {
		return nil, err
	}

	t := Translation(Centroid(target.Points).Sub(Centroid(source.Points)))
	moved := t.ApplyAll(source.Points)
	matches := index.Query(moved)
	errValue := residualError(moved, matches.Positions)

	return &AlignmentResult{
		Strategy:  c.Name(),
		Transform: t,
		Error:     errValue,
		Converged: true,
		State:     StateConverged,
		History: []IterationRecord{{
			Scale:       t.Scale,
			Rotation:    t.Rotation,
			Translation: t.Translation,
			Error:       errValue,
		}},
	}, nil
}
