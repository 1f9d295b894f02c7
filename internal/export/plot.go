package export

import (
	"fmt"
	"image/color"
	"math"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"vrpga/internal/opt"
	"vrpga/internal/vrp"
)

// PlotHistory draws the best-so-far cost per generation.
func PlotHistory(history []float64, path string) error {
	if len(history) == 0 {
		return fmt.Errorf("plot history: no data")
	}
	p := plot.New()
	p.Title.Text = "Best cost per generation"
	p.X.Label.Text = "Generation"
	p.Y.Label.Text = "Cost"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(history))
	for i, c := range history {
		pts[i].X = float64(i)
		pts[i].Y = c
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	green := color.RGBA{G: 128, A: 255}
	line.Color = green
	points.Color = green
	points.Shape = draw.CircleGlyph{}
	points.Radius = vg.Points(2)
	p.Add(line, points)

	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}

// CircleLayout places location i at angle 2πi/dimension on the unit circle
// and the depot at the origin. Distances are not Euclidean, so this is only a
// readable arrangement, not geography.
func CircleLayout(dimension, depot int) plotter.XYs {
	pts := make(plotter.XYs, dimension)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(dimension)
		pts[i].X, pts[i].Y = math.Cos(a), math.Sin(a)
	}
	pts[depot].X, pts[depot].Y = 0, 0
	return pts
}

// PlotRoutes draws every route as a closed polyline through the depot.
func PlotRoutes(inst *vrp.Instance, sol opt.Solution, path string) error {
	coords := CircleLayout(inst.Dimension, inst.Depot)

	p := plot.New()
	p.Title.Text = "Routes found"
	p.HideAxes()
	p.BackgroundColor = color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}

	for i, r := range sol {
		pts := make(plotter.XYs, 0, len(r)+2)
		pts = append(pts, coords[inst.Depot])
		labels := make([]string, 0, len(r))
		for _, c := range r {
			pts = append(pts, coords[c-1])
			labels = append(labels, strconv.Itoa(c))
		}
		pts = append(pts, coords[inst.Depot])

		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return err
		}
		col := plotutil.Color(i)
		line.Color = col
		points.Color = col
		points.Shape = draw.CircleGlyph{}
		p.Add(line, points)
		p.Legend.Add(fmt.Sprintf("Vehicle %d", i+1), line, points)

		if len(r) > 0 {
			lbl, err := plotter.NewLabels(plotter.XYLabels{XYs: pts[1 : len(pts)-1], Labels: labels})
			if err != nil {
				return err
			}
			p.Add(lbl)
		}
	}

	depot, err := plotter.NewScatter(plotter.XYs{coords[inst.Depot]})
	if err != nil {
		return err
	}
	depot.Color = color.RGBA{R: 255, A: 255}
	depot.Shape = draw.PyramidGlyph{}
	depot.Radius = vg.Points(8)
	p.Add(depot)
	p.Legend.Add(fmt.Sprintf("Depot (%d)", inst.DepotID()), depot)
	p.Legend.Top = true

	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}
