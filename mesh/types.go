package mesh

import (
	"encoding/json"
	"fmt"

	"github.com/golang/geo/r3"
)

// PointSet is an ordered sequence of 3-D coordinates.
// Order defines correspondence when two sets are zipped together.
type PointSet []r3.Vector

// MarshalJSON encodes the set as an array of [x, y, z] triples
func (ps PointSet) MarshalJSON() ([]byte, error) {
	rows := make([][3]float64, len(ps))
	for i, p := range ps {
		rows[i] = [3]float64{p.X, p.Y, p.Z}
	}
	return json.Marshal(rows)
}

// UnmarshalJSON decodes an array of [x, y, z] triples.
// Rows of any other length are rejected with ErrInvalidInputShape.
func (ps *PointSet) UnmarshalJSON(data []byte) error {
	var rows [][]float64
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	points, err := PointSetFromRows(rows)
	if err != nil {
		return err
	}
	*ps = points
	return nil
}

// PointSetFromRows converts raw coordinate rows into a PointSet
func PointSetFromRows(rows [][]float64) (PointSet, error) {
	points := make(PointSet, len(rows))
	for i, row := range rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("point %d has %d coordinates, want 3: %w", i, len(row), ErrInvalidInputShape)
		}
		points[i] = r3.Vector{X: row[0], Y: row[1], Z: row[2]}
	}
	return points, nil
}

// Clone returns an owned copy of the set
func (ps PointSet) Clone() PointSet {
	out := make(PointSet, len(ps))
	copy(out, ps)
	return out
}

// Centroid calculates the center of mass of a set of points
func Centroid(points PointSet) r3.Vector {
	if len(points) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}

// TriangleMesh is a point set with faces given as indices into Points.
// Faces are carried through registration untouched.
type TriangleMesh struct {
	Points  PointSet `json:"points"`
	Indices [][]int  `json:"indices,omitempty"`
}

// Validate checks that every face references an existing point
func (m TriangleMesh) Validate() error {
	for f, face := range m.Indices {
		for _, idx := range face {
			if idx < 0 || idx >= len(m.Points) {
				return fmt.Errorf("face %d references point %d of %d: %w", f, idx, len(m.Points), ErrInvalidInputShape)
			}
		}
	}
	return nil
}

// Correspondences is the result of one nearest-neighbour query:
// for every query point, the closest target point, its index and the distance to it.
type Correspondences struct {
	Distances []float64
	Indices   []int
	Positions PointSet
}

// IterationRecord is one entry of the registration history
type IterationRecord struct {
	Step        int       `json:"step"`
	Scale       float64   `json:"scale"`
	Rotation    Matrix3   `json:"rotation"`
	Translation r3.Vector `json:"translation"`
	Error       float64   `json:"error"`
}

// State is the lifecycle state of a registration run
type State string

const (
	StateInitializing         State = "initializing"
	StateSearching            State = "searching"
	StateSolving              State = "solving"
	StateConverged            State = "converged"
	StateMaxIterationsReached State = "max_iterations_reached"
	StateFailed               State = "failed"
)

// Terminal reports whether no further iterations will run
func (s State) Terminal() bool {
	return s == StateConverged || s == StateMaxIterationsReached || s == StateFailed
}

// ICPConfig holds configuration for the ICP loop.
type ICPConfig struct {
	MaxIterations  int     `yaml:"maxIterations" json:"maxIterations"`   // Upper bound on solve steps
	Tolerance      float64 `yaml:"tolerance" json:"tolerance"`           // Stop when |error change| falls to this
	Rigid          bool    `yaml:"rigid" json:"rigid"`                   // Disable scale estimation
	MatchCentroids bool    `yaml:"matchCentroids" json:"matchCentroids"` // Seed translation with the centroid offset
}

// DefaultICPConfig returns the defaults for ICP.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:  200,
		Tolerance:      1e-5,
		Rigid:          true,
		MatchCentroids: true,
	}
}

// UnmarshalJSON decodes onto DefaultICPConfig so omitted fields keep their defaults
func (c *ICPConfig) UnmarshalJSON(data []byte) error {
	type plain ICPConfig
	cfg := plain(DefaultICPConfig())
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	*c = ICPConfig(cfg)
	return nil
}

// AlignmentResult is the serializable outcome of a registration strategy
type AlignmentResult struct {
	Name       string            `json:"name,omitempty"`
	Strategy   string            `json:"strategy"`
	Transform  Transform         `json:"transform"`
	Error      float64           `json:"error"`
	Iterations int               `json:"iterations"`
	Converged  bool              `json:"converged"`
	State      State             `json:"state"`
	History    []IterationRecord `json:"history,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// HTTPConfig holds HTTP service settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// Config represents the full configuration file
type Config struct {
	Registration ICPConfig  `yaml:"registration" json:"registration"`
	Strategy     string     `yaml:"strategy" json:"strategy"` // closed-form or centroid
	Index        string     `yaml:"index" json:"index"`       // kdtree or brute
	LogLevel     string     `yaml:"logLevel" json:"logLevel"` // zap level name

	// An empty broker disables publishing
	MQTT MQTTConfig `yaml:"mqtt" json:"mqtt"`
	HTTP HTTPConfig `yaml:"http" json:"http"`
}

// DefaultConfig returns a Config with every field at its default
func DefaultConfig() Config {
	return Config{
		Registration: DefaultICPConfig(),
		Strategy:     StrategyClosedForm,
		Index:        IndexKDTree,
		LogLevel:     "info",
		MQTT: MQTTConfig{
			PublishPrefix: "meshicp",
			ClientID:      "meshicp",
		},
		HTTP: HTTPConfig{Port: 8080},
	}
}

// RegistrationRequest is the body accepted over HTTP and MQTT
type RegistrationRequest struct {
	Name     string       `json:"name"`
	Source   TriangleMesh `json:"source"`
	Target   TriangleMesh `json:"target"`
	Strategy string       `json:"strategy,omitempty"`
	Config   *ICPConfig   `json:"config,omitempty"`
}

// Validate checks both meshes before any registration work
func (r RegistrationRequest) Validate() error {
	if len(r.Source.Points) == 0 || len(r.Target.Points) == 0 {
		return fmt.Errorf("source has %d points, target has %d: %w", len(r.Source.Points), len(r.Target.Points), ErrInvalidInputShape)
	}
	if err := r.Source.Validate(); err != nil {
		return fmt.Errorf("source mesh: %w", err)
	}
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("target mesh: %w", err)
	}
	if r.Config != nil {
		return r.Config.Validate()
	}
	return nil
}
