// Package plotting renders top-down diagrams of anchor alignment for the
// debug endpoints.
package plotting

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/spaceshare/internal/anchor"
	"github.com/banshee-data/spaceshare/internal/geom"
)

// Default SVG size.
const (
	DefaultWidth  = 6 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

var (
	localColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	remoteColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	objectColor = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// Scene is what an alignment plot shows. Remote anchors are drawn after
// mapping through Frame so a good alignment puts them on top of the local
// anchors with the same name.
type Scene struct {
	Title  string
	Local  []anchor.NamedAnchor
	Remote []anchor.NamedAnchor
	Frame  geom.Transform
	Object *geom.Pose
}

// AlignmentPlot builds an X/Z plan view of the scene.
func AlignmentPlot(s Scene) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = s.Title
	if p.Title.Text == "" {
		p.Title.Text = "Anchor alignment (top-down)"
	}
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	if err := addAnchors(p, "local", s.Local, geom.Identity(), localColor, draw.CircleGlyph{}); err != nil {
		return nil, err
	}
	if err := addAnchors(p, "remote (aligned)", s.Remote, s.Frame, remoteColor, draw.CrossGlyph{}); err != nil {
		return nil, err
	}

	if s.Object != nil {
		t := s.Object.Translation
		if !geom.IsFinite(t) {
			return nil, errors.New("object position is not finite")
		}
		obj, err := plotter.NewScatter(plotter.XYs{{X: t.X, Y: t.Z}})
		if err != nil {
			return nil, fmt.Errorf("object scatter: %w", err)
		}
		obj.GlyphStyle.Color = objectColor
		obj.GlyphStyle.Shape = draw.BoxGlyph{}
		obj.GlyphStyle.Radius = vg.Points(5)
		p.Add(obj)
		p.Legend.Add("object", obj)
	}
	return p, nil
}

func addAnchors(p *plot.Plot, name string, anchors []anchor.NamedAnchor, frame geom.Transform, c color.Color, shape draw.GlyphDrawer) error {
	if len(anchors) == 0 {
		return nil
	}
	pts := make(plotter.XYs, 0, len(anchors))
	labels := make([]string, 0, len(anchors))
	for _, a := range anchors {
		v := frame.Apply(a.Position)
		if !geom.IsFinite(v) {
			return fmt.Errorf("%s anchor %q is not finite", name, a.Name)
		}
		pts = append(pts, plotter.XY{X: v.X, Y: v.Z})
		labels = append(labels, a.Name)
	}

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("%s scatter: %w", name, err)
	}
	sc.GlyphStyle.Color = c
	sc.GlyphStyle.Shape = shape
	sc.GlyphStyle.Radius = vg.Points(4)

	lbl, err := plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: labels})
	if err != nil {
		return fmt.Errorf("%s labels: %w", name, err)
	}
	for i := range lbl.TextStyle {
		lbl.TextStyle[i].Color = c
	}

	p.Add(sc, lbl)
	p.Legend.Add(name, sc)
	return nil
}

// WriteSVG renders p as SVG to w.
func WriteSVG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "svg")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
