package mesh

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Validate reports every out-of-range setting at once
func (c ICPConfig) Validate() error {
	var err error
	if c.MaxIterations <= 0 {
		err = multierr.Append(err, fmt.Errorf("maxIterations must be positive, got %d: %w", c.MaxIterations, ErrInvalidConfig))
	}
	if !(c.Tolerance > 0) {
		err = multierr.Append(err, fmt.Errorf("tolerance must be positive, got %g: %w", c.Tolerance, ErrInvalidConfig))
	}
	return err
}

// Observer receives every history entry as it is recorded
type Observer func(IterationRecord)

// Option configures Register behavior.
type Option func(*registerConfig)

type registerConfig struct {
	ICPConfig
	observer Observer
	logger   *zap.Logger
	ctx      context.Context
}

// WithMaxIterations sets the upper bound on solve steps (default 200).
func WithMaxIterations(n int) Option {
	return func(c *registerConfig) {
		c.MaxIterations = n
	}
}

// WithTolerance sets the error-change threshold below which the run converges (default 1e-5).
func WithTolerance(tol float64) Option {
	return func(c *registerConfig) {
		c.Tolerance = tol
	}
}

// WithRigid disables scale estimation when true (default true).
func WithRigid(rigid bool) Option {
	return func(c *registerConfig) {
		c.Rigid = rigid
	}
}

// WithMatchCentroids seeds the translation with the centroid offset (default true).
func WithMatchCentroids(match bool) Option {
	return func(c *registerConfig) {
		c.MatchCentroids = match
	}
}

// WithConfig replaces all four loop settings.
func WithConfig(cfg ICPConfig) Option {
	return func(c *registerConfig) {
		c.ICPConfig = cfg
	}
}

// WithObserver registers a callback for each history entry.
func WithObserver(o Observer) Option {
	return func(c *registerConfig) {
		c.observer = o
	}
}

// WithLogger sets the logger for per-iteration debug records (default no-op).
func WithLogger(l *zap.Logger) Option {
	return func(c *registerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithContext allows the loop to be cancelled between iterations.
func WithContext(ctx context.Context) Option {
	return func(c *registerConfig) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// Registration is one ICP run. It owns its history and working buffers.
type Registration struct {
	cfg    registerConfig
	source PointSet
	target NearestNeighborIndex

	state       State
	current     Transform
	transformed PointSet
	closest     Correspondences
	history     []IterationRecord
}

// Register aligns source onto the points behind target.
//
// Each step solves from the original source points against the latest closest
// matches, so the transform is recomputed rather than composed. The run stops
// when the change in error is within tolerance or after MaxIterations steps.
//
// A solver failure aborts the run. The returned Registration is then in StateFailed
// and keeps the history recorded so far; the error wraps the solver's error kind.
func Register(source PointSet, target NearestNeighborIndex, opts ...Option) (*Registration, error) {
	cfg := registerConfig{
		ICPConfig: DefaultICPConfig(),
		logger:    zap.NewNop(),
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.ICPConfig.Validate(); err != nil {
		return nil, err
	}
	if len(source) == 0 {
		return nil, fmt.Errorf("empty source: %w", ErrInvalidInputShape)
	}
	if target == nil || len(target.Points()) == 0 {
		return nil, fmt.Errorf("empty target: %w", ErrInvalidInputShape)
	}

	r := &Registration{
		cfg:     cfg,
		source:  source.Clone(),
		target:  target,
		state:   StateInitializing,
		current: IdentityTransform(),
	}
	if cfg.MatchCentroids {
		r.current = Translation(Centroid(target.Points()).Sub(Centroid(r.source)))
	}

	r.search()
	r.record(0)

	delta := math.Inf(1)
	step := 0
	for step < cfg.MaxIterations && math.Abs(delta) > cfg.Tolerance {
		if err := cfg.ctx.Err(); err != nil {
			r.state = StateFailed
			return r, fmt.Errorf("registration stopped before step %d: %w", step+1, err)
		}
		step++

		r.state = StateSolving
		sol, err := SolveTransform(r.source, r.closest.Positions, !cfg.Rigid)
		if err != nil {
			r.state = StateFailed
			cfg.logger.Warn("solve failed", zap.Int("step", step), zap.Error(err))
			return r, fmt.Errorf("step %d: %w", step, err)
		}
		r.current = sol.Transform

		r.search()
		r.record(step)
		delta = r.history[step-1].Error - r.history[step].Error
	}

	if math.Abs(delta) <= cfg.Tolerance {
		r.state = StateConverged
	} else {
		r.state = StateMaxIterationsReached
	}
	cfg.logger.Debug("registration finished",
		zap.String("state", string(r.state)),
		zap.Int("iterations", step),
		zap.Float64("error", r.FinalError()))
	return r, nil
}

// RegisterMeshes builds a k-d tree over target's points and registers source onto it
func RegisterMeshes(source, target TriangleMesh, opts ...Option) (*Registration, error) {
	index, err := NewKDTreeIndex(target.Points)
	if err != nil {
		return nil, err
	}
	return Register(source.Points, index, opts...)
}

// search transforms the original source and finds the closest target points
func (r *Registration) search() {
	r.state = StateSearching
	r.transformed = r.current.ApplyAll(r.source)
	r.closest = r.target.Query(r.transformed)
}

func (r *Registration) record(step int) {
	rec := IterationRecord{
		Step:        step,
		Scale:       r.current.Scale,
		Rotation:    r.current.Rotation,
		Translation: r.current.Translation,
		Error:       residualError(r.transformed, r.closest.Positions),
	}
	r.history = append(r.history, rec)

	r.cfg.logger.Debug("icp iteration",
		zap.Int("step", rec.Step),
		zap.Float64("error", rec.Error),
		zap.Float64("scale", rec.Scale),
		zap.Float64s("translation", []float64{rec.Translation.X, rec.Translation.Y, rec.Translation.Z}))
	if r.cfg.observer != nil {
		r.cfg.observer(rec)
	}
}

// residualError is sqrt(Σ‖closest_i − points_i‖²) / N.
// This is the registration error used for convergence; it is not a root mean square.
func residualError(points, closest PointSet) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for i := range points {
		sum += closest[i].Sub(points[i]).Norm2()
	}
	return math.Sqrt(sum) / float64(len(points))
}

// State returns the current lifecycle state
func (r *Registration) State() State { return r.state }

// Converged reports whether the run stopped because the error settled
func (r *Registration) Converged() bool { return r.state == StateConverged }

// Current returns the latest solved transform
func (r *Registration) Current() Transform { return r.current }

// Config returns the loop settings the run used
func (r *Registration) Config() ICPConfig { return r.cfg.ICPConfig }

// Iterations returns the number of completed solve steps
func (r *Registration) Iterations() int { return len(r.history) - 1 }

// FinalError returns the error of the last history entry
func (r *Registration) FinalError() float64 {
	return r.history[len(r.history)-1].Error
}

// History returns a copy of the per-iteration records, initial state first
func (r *Registration) History() []IterationRecord {
	out := make([]IterationRecord, len(r.history))
	copy(out, r.history)
	return out
}

// Transform applies the current transform to an arbitrary point set
func (r *Registration) Transform(points PointSet) PointSet {
	return r.current.ApplyAll(points)
}

// TransformMesh applies the current transform to a mesh's points; faces are kept as-is
func (r *Registration) TransformMesh(m TriangleMesh) TriangleMesh {
	return TriangleMesh{
		Points:  r.current.ApplyAll(m.Points),
		Indices: m.Indices,
	}
}

// Result summarizes the run for serialization
func (r *Registration) Result(strategy string) AlignmentResult {
	return AlignmentResult{
		Strategy:   strategy,
		Transform:  r.current,
		Error:      r.FinalError(),
		Iterations: r.Iterations(),
		Converged:  r.Converged(),
		State:      r.state,
		History:    r.History(),
	}
}
