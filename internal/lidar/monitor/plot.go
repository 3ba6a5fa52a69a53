package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"math"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/velocap/internal/lidar/l2frames"
)

// Frame coordinates are millimetres; plots are drawn in metres.
const mmPerMetre = 1000.0

// PlotSize is the edge length of the square frame plot.
const PlotSize = 6 * vg.Inch

// WriteFramePlot renders f top-down (X right, Y up) as a PNG. Points are
// shaded by intensity.
func WriteFramePlot(w io.Writer, f *l2frames.Frame) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s frame, %d points", f.Model, f.Len())
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	if f.Len() > 0 {
		xys := make(plotter.XYs, f.Len())
		maxAbs := 0.0
		for i, pt := range f.Points {
			xys[i].X = pt.X / mmPerMetre
			xys[i].Y = pt.Y / mmPerMetre
			maxAbs = math.Max(maxAbs, math.Max(math.Abs(xys[i].X), math.Abs(xys[i].Y)))
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return fmt.Errorf("scatter: %w", err)
		}
		s.GlyphStyle.Radius = vg.Points(0.6)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			g := s.GlyphStyle
			g.Color = intensityColor(f.Points[i].Intensity)
			return g
		}
		p.Add(s)

		// Square, symmetric axes so the scan is not distorted.
		pad := maxAbs * 1.05
		if pad == 0 {
			pad = 1
		}
		p.X.Min, p.X.Max = -pad, pad
		p.Y.Min, p.Y.Max = -pad, pad
	}

	wt, err := p.WriterTo(PlotSize, PlotSize, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// intensityColor maps 0..255 onto a blue to yellow ramp.
func intensityColor(v uint8) color.Color {
	t := float64(v) / 255
	return color.NRGBA{
		R: uint8(40 + 213*t),
		G: uint8(60 + 171*t),
		B: uint8(140 - 103*t),
		A: 255,
	}
}

func (ws *WebServer) handleLatestPlot(w http.ResponseWriter, r *http.Request) {
	f := ws.history.Latest()
	if f == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no frame captured yet")
		return
	}
	var buf bytes.Buffer
	if err := WriteFramePlot(&buf, f); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}
