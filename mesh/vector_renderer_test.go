package mesh

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
)

func previewFixture() *PreviewRenderer {
	target := waveSurface(2)
	source := TriangleMesh{
		Points:  Translation(r3.Vector{X: -1, Y: 0.5}).ApplyAll(target.Points),
		Indices: target.Indices,
	}
	return NewPreviewRenderer(source, target, Translation(r3.Vector{X: 1, Y: -0.5}))
}

func TestPreviewRenderer_RenderToSVG(t *testing.T) {
	r := previewFixture()

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("Failed to render to SVG: %v", err)
	}

	if !bytes.Contains(buf.Bytes(), []byte("<svg")) {
		t.Errorf("Output does not contain <svg tag")
	}
	if !bytes.Contains(buf.Bytes(), []byte("path")) {
		t.Errorf("Output does not contain path elements")
	}
}

func TestPreviewRenderer_RenderToPNG(t *testing.T) {
	r := previewFixture()
	r.Resolution = canvas.DPI(72)
	r.Caption = "closed-form converged"

	var buf bytes.Buffer
	if err := r.RenderToPNG(&buf); err != nil {
		t.Fatalf("Failed to render to PNG: %v", err)
	}

	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("Failed to decode PNG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		t.Errorf("PNG has zero size: %v", bounds)
	}
}

func TestPreviewRenderer_Bounds(t *testing.T) {
	r := &PreviewRenderer{
		Layers: []PreviewLayer{{Mesh: TriangleMesh{Points: PointSet{
			{X: -1, Y: 2, Z: 10},
			{X: 3, Y: -4, Z: -5},
		}}}},
	}

	tests := []struct {
		projection string
		want       orb.Bound
	}{
		{ProjectionXY, orb.Bound{Min: orb.Point{-1, -4}, Max: orb.Point{3, 2}}},
		{ProjectionXZ, orb.Bound{Min: orb.Point{-1, -5}, Max: orb.Point{3, 10}}},
		{ProjectionYZ, orb.Bound{Min: orb.Point{-4, -5}, Max: orb.Point{2, 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.projection, func(t *testing.T) {
			r.Projection = tt.projection
			if got := r.bounds(); got != tt.want {
				t.Errorf("bounds() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPreviewRenderer_Layout(t *testing.T) {
	r := &PreviewRenderer{
		Layers: []PreviewLayer{{Mesh: TriangleMesh{Points: PointSet{
			{X: 0, Y: 0},
			{X: 4, Y: 2},
		}}}},
		Projection: ProjectionXY,
		Size:       100,
		Padding:    5,
	}

	_, scale, width, height, err := r.layout()
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	if scale != 25 {
		t.Errorf("scale = %g, want 25", scale)
	}
	if width != 110 || height != 60 {
		t.Errorf("size = %gx%g, want 110x60", width, height)
	}

	r.Projection = "diagonal"
	if _, _, _, _, err := r.layout(); err == nil {
		t.Error("expected error for unknown projection")
	}
}

func TestPreviewRenderer_EmptyLayers(t *testing.T) {
	r := NewPreviewRenderer(TriangleMesh{}, TriangleMesh{}, IdentityTransform())

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("RenderToSVG with no points: %v", err)
	}
}

func TestNrgbaToRGBA(t *testing.T) {
	tests := []struct {
		in   color.NRGBA
		want color.RGBA
	}{
		{color.NRGBA{R: 10, G: 20, B: 30, A: 0}, color.RGBA{}},
		{color.NRGBA{R: 10, G: 20, B: 30, A: 255}, color.RGBA{R: 10, G: 20, B: 30, A: 255}},
		{color.NRGBA{R: 255, G: 128, B: 0, A: 128}, color.RGBA{R: 128, G: 64, B: 0, A: 128}},
	}
	for _, tt := range tests {
		if got := nrgbaToRGBA(tt.in); got != tt.want {
			t.Errorf("nrgbaToRGBA(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPreviewCaption(t *testing.T) {
	got := PreviewCaption(AlignmentResult{Strategy: StrategyCentroid, State: StateConverged, Iterations: 2, Error: 0.5})
	want := "centroid  converged  iterations=2  error=0.5"
	if got != want {
		t.Errorf("PreviewCaption = %q, want %q", got, want)
	}
}
