// Package viz renders track trajectories to image files.
package viz

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/ugparu/GoDeepTrack/eval"
)

var ErrNothingToPlot = errors.New("viz: no trajectories")

// Options control the size of the rendered plot. Zero values use 10x6 inches.
type Options struct {
	Title  string
	Width  vg.Length
	Height vg.Length
	// Legend adds one legend entry per track when there are at most this many
	// tracks.
	Legend int
}

// Trajectories draws the box centres of every track as a line in image
// coordinates, y pointing down, and saves the plot to path. The file
// extension picks the format.
func Trajectories(tracks map[uint64][]eval.Observation, path string, opts Options) error {
	ids := slices.Sorted(maps.Keys(tracks))
	if len(ids) == 0 {
		return ErrNothingToPlot
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}

	for i, id := range ids {
		obs := tracks[id]
		if len(obs) == 0 {
			continue
		}

		pts := make(plotter.XYs, len(obs))
		for j, o := range obs {
			pts[j] = plotter.XY{X: o.Box.CenterX(), Y: o.Box.CenterY()}
		}

		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return errors.Wrapf(err, "viz: track %d", id)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		points.Color = plotutil.Color(i)
		points.Radius = vg.Points(1.5)

		p.Add(line, points)
		if len(ids) <= opts.Legend {
			p.Legend.Add(fmt.Sprintf("track %d", id), line)
		}
	}
	p.Legend.Top = true
	p.Legend.Left = false

	width, height := opts.Width, opts.Height
	if width == 0 {
		width = 10 * vg.Inch
	}
	if height == 0 {
		height = 6 * vg.Inch
	}

	return errors.Wrap(p.Save(width, height, path), "viz: save")
}
