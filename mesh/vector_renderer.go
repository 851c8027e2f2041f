package mesh

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Projection names accepted by PreviewRenderer
const (
	ProjectionXY = "xy"
	ProjectionXZ = "xz"
	ProjectionYZ = "yz"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// PreviewLayer is one mesh drawn by PreviewRenderer
type PreviewLayer struct {
	Name  string
	Mesh  TriangleMesh
	Color color.NRGBA
}

// Default layer colors
var (
	TargetColor  = color.NRGBA{R: 128, G: 128, B: 128, A: 160}
	SourceColor  = color.NRGBA{R: 220, G: 60, B: 60, A: 160}
	AlignedColor = color.NRGBA{R: 40, G: 90, B: 220, A: 255}
)

// PreviewRenderer draws a 2-D projection of meshes before and after registration
type PreviewRenderer struct {
	Layers      []PreviewLayer
	Projection  string            // xy, xz or yz
	Size        float64           // Longest canvas side in millimeters
	Padding     float64           // Padding in millimeters
	PointRadius float64           // Marker radius in millimeters
	StrokeWidth float64           // Face edge width in millimeters
	Resolution  canvas.Resolution // Resolution for PNG output
	Caption     string            // Drawn on PNG output only
}

// NewPreviewRenderer renders target, the unmoved source and the source under t
func NewPreviewRenderer(source, target TriangleMesh, t Transform) *PreviewRenderer {
	aligned := TriangleMesh{Points: t.ApplyAll(source.Points), Indices: source.Indices}
	return &PreviewRenderer{
		Layers: []PreviewLayer{
			{Name: "target", Mesh: target, Color: TargetColor},
			{Name: "source", Mesh: source, Color: SourceColor},
			{Name: "aligned", Mesh: aligned, Color: AlignedColor},
		},
		Projection:  ProjectionXY,
		Size:        200.0,
		Padding:     10.0,
		PointRadius: 0.8,
		StrokeWidth: 0.2,
		Resolution:  canvas.DPI(150),
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// project maps a 3-D point onto the configured plane
func (r *PreviewRenderer) project(p r3.Vector) orb.Point {
	switch r.Projection {
	case ProjectionXZ:
		return orb.Point{p.X, p.Z}
	case ProjectionYZ:
		return orb.Point{p.Y, p.Z}
	default:
		return orb.Point{p.X, p.Y}
	}
}

// bounds returns the projected bounding box of every layer
func (r *PreviewRenderer) bounds() orb.Bound {
	var mp orb.MultiPoint
	for _, layer := range r.Layers {
		for _, p := range layer.Mesh.Points {
			mp = append(mp, r.project(p))
		}
	}
	if len(mp) == 0 {
		return orb.Bound{}
	}
	return mp.Bound()
}

// layout returns the world bounds, the world-to-canvas scale and the canvas size
func (r *PreviewRenderer) layout() (orb.Bound, float64, float64, float64, error) {
	switch r.Projection {
	case "", ProjectionXY, ProjectionXZ, ProjectionYZ:
	default:
		return orb.Bound{}, 0, 0, 0, fmt.Errorf("unknown projection %q", r.Projection)
	}

	b := r.bounds()
	extent := b.Max.X() - b.Min.X()
	if h := b.Max.Y() - b.Min.Y(); h > extent {
		extent = h
	}
	scale := 1.0
	if extent > 0 {
		scale = r.Size / extent
	}

	width := (b.Max.X()-b.Min.X())*scale + 2*r.Padding
	height := (b.Max.Y()-b.Min.Y())*scale + 2*r.Padding
	return b, scale, width, height, nil
}

// RenderToSVG writes the preview as an SVG to the provided writer
func (r *PreviewRenderer) RenderToSVG(w io.Writer) error {
	b, scale, width, height, err := r.layout()
	if err != nil {
		return err
	}

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, b, scale, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the preview as a PNG with the caption in the top-left corner
func (r *PreviewRenderer) RenderToPNG(w io.Writer) error {
	b, scale, width, height, err := r.layout()
	if err != nil {
		return err
	}

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, b, scale, width, height)
	if r.Caption != "" {
		drawCaption(rast, 4, 14, r.Caption)
	}
	return png.Encode(w, rast)
}

// renderToCanvas draws every layer in order: faces as stroked triangles, then point markers
func (r *PreviewRenderer) renderToCanvas(renderer canvasRenderer, b orb.Bound, scale, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(p r3.Vector) (float64, float64) {
		pt := r.project(p)
		return (pt.X()-b.Min.X())*scale + r.Padding, (pt.Y()-b.Min.Y())*scale + r.Padding
	}

	for _, layer := range r.Layers {
		c := nrgbaToRGBA(layer.Color)

		if len(layer.Mesh.Indices) > 0 && r.StrokeWidth > 0 {
			edgeStyle := canvas.DefaultStyle
			edgeStyle.Fill = canvas.Paint{Color: canvas.Transparent}
			edgeStyle.Stroke = canvas.Paint{Color: c}
			edgeStyle.StrokeWidth = r.StrokeWidth

			for _, face := range layer.Mesh.Indices {
				if len(face) < 2 {
					continue
				}
				cp := &canvas.Path{}
				for i, idx := range face {
					if idx < 0 || idx >= len(layer.Mesh.Points) {
						cp = nil
						break
					}
					cx, cy := toCanvas(layer.Mesh.Points[idx])
					if i == 0 {
						cp.MoveTo(cx, cy)
					} else {
						cp.LineTo(cx, cy)
					}
				}
				if cp == nil {
					continue
				}
				cp.Close()
				renderer.RenderPath(cp, edgeStyle, canvas.Identity)
			}
		}

		pointStyle := canvas.DefaultStyle
		pointStyle.Fill = canvas.Paint{Color: c}
		pointStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
		for _, p := range layer.Mesh.Points {
			cx, cy := toCanvas(p)
			renderer.RenderPath(canvas.Circle(r.PointRadius).Translate(cx, cy), pointStyle, canvas.Identity)
		}
	}
}

// drawCaption renders text onto an image at the specified pixel position
func drawCaption(img draw.Image, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{0, 0, 0, 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// PreviewCaption summarizes a result in one line
func PreviewCaption(result AlignmentResult) string {
	return fmt.Sprintf("%s  %s  iterations=%d  error=%.6g", result.Strategy, result.State, result.Iterations, result.Error)
}
