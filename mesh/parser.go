package mesh

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
)

// ParseMeshFile reads and parses a mesh JSON file
func ParseMeshFile(path string) (*TriangleMesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseMeshJSON(data)
}

// ParseMeshJSON parses mesh JSON data of the form
// {"points": [[x, y, z], ...], "indices": [[i, j, k], ...]}
func ParseMeshJSON(data []byte) (*TriangleMesh, error) {
	var m TriangleMesh
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if len(m.Points) == 0 {
		return nil, fmt.Errorf("mesh has no points: %w", ErrInvalidInputShape)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteMeshFile writes m as indented JSON, creating parent directories as needed
func WriteMeshFile(path string, m TriangleMesh) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mesh: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write mesh: %w", err)
	}
	return nil
}

// MeshSummary provides a summary of mesh contents
type MeshSummary struct {
	PointCount int
	FaceCount  int
	Centroid   r3.Vector
	Min        r3.Vector
	Max        r3.Vector
}

// Summarize extracts key information from a mesh
func Summarize(m TriangleMesh) MeshSummary {
	summary := MeshSummary{
		PointCount: len(m.Points),
		FaceCount:  len(m.Indices),
		Centroid:   Centroid(m.Points),
	}
	if len(m.Points) == 0 {
		return summary
	}

	summary.Min = r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	summary.Max = r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range m.Points {
		summary.Min = r3.Vector{X: math.Min(summary.Min.X, p.X), Y: math.Min(summary.Min.Y, p.Y), Z: math.Min(summary.Min.Z, p.Z)}
		summary.Max = r3.Vector{X: math.Max(summary.Max.X, p.X), Y: math.Max(summary.Max.Y, p.Y), Z: math.Max(summary.Max.Z, p.Z)}
	}
	return summary
}
