// Package extract computes appearance embeddings from image patches.
package extract

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"github.com/rivo/duplo/haar"
	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"

	"github.com/ugparu/GoDeepTrack/utils"
)

var ErrNoImage = errors.New("extract: no image to crop from")

// HaarExtractor describes a box by the low frequency Haar wavelet
// coefficients of its patch in YIQ colour space. The vector is L2 normalised
// so that cosine distances between patches are meaningful.
type HaarExtractor struct {
	patchSize    int
	coefficients int
	order        [][2]int
}

// NewHaarExtractor returns an extractor resampling every box to a
// patchSize x patchSize patch and keeping coefficients values per box.
func NewHaarExtractor(patchSize, coefficients int) (*HaarExtractor, error) {
	if patchSize < 2 || patchSize&(patchSize-1) != 0 {
		return nil, errors.Errorf("extract: patch size must be a power of two of at least 2, got %d", patchSize)
	}
	if coefficients < 1 || coefficients > patchSize*patchSize*haar.ColourChannels {
		return nil, errors.Errorf("extract: cannot keep %d coefficients of a %dx%d patch", coefficients, patchSize, patchSize)
	}

	return &HaarExtractor{
		patchSize:    patchSize,
		coefficients: coefficients,
		order:        shellOrder(patchSize, coefficients),
	}, nil
}

// Dim is the length of every embedding.
func (h *HaarExtractor) Dim() int {
	return h.coefficients
}

// Extract returns one embedding per box. Boxes outside the image yield a
// zero vector.
func (h *HaarExtractor) Extract(img image.Image, boxes []utils.Rect) ([][]float64, error) {
	if len(boxes) == 0 {
		return nil, nil
	}
	if img == nil {
		return nil, ErrNoImage
	}

	b := img.Bounds()
	frame := utils.Rect{
		Left:   float64(b.Min.X),
		Top:    float64(b.Min.Y),
		Width:  float64(b.Dx()),
		Height: float64(b.Dy()),
	}

	patch := image.NewRGBA(image.Rect(0, 0, h.patchSize, h.patchSize))
	out := make([][]float64, len(boxes))
	for i, box := range boxes {
		out[i] = make([]float64, h.coefficients)

		clipped := box.Clip(frame)
		if clipped.Width <= 0 || clipped.Height <= 0 {
			continue
		}
		src := image.Rect(
			int(math.Floor(clipped.Left)),
			int(math.Floor(clipped.Top)),
			int(math.Floor(clipped.Right()))+1,
			int(math.Floor(clipped.Bottom()))+1,
		).Intersect(b)
		if src.Empty() {
			continue
		}

		draw.BiLinear.Scale(patch, patch.Bounds(), img, src, draw.Src, nil)
		h.describe(haar.Transform(patch), out[i])
	}

	return out, nil
}

func (h *HaarExtractor) describe(m haar.Matrix, dst []float64) {
	n := 0
	for _, pos := range h.order {
		coef := m.Coefs[pos[1]*int(m.Width)+pos[0]]
		for c := 0; c < haar.ColourChannels && n < len(dst); c++ {
			dst[n] = coef[c]
			n++
		}
	}

	if norm := floats.Norm(dst, 2); norm > 0 {
		floats.Scale(1/norm, dst)
	}
}

// shellOrder lists coefficient positions by growing square shells around the
// scaling coefficient at (0, 0), enough to fill coefficients values.
func shellOrder(size, coefficients int) [][2]int {
	positions := (coefficients + haar.ColourChannels - 1) / haar.ColourChannels
	order := make([][2]int, 0, positions)
	for shell := 0; shell < size && len(order) < positions; shell++ {
		for y := 0; y <= shell && len(order) < positions; y++ {
			order = append(order, [2]int{shell, y})
		}
		for x := shell - 1; x >= 0 && len(order) < positions; x-- {
			order = append(order, [2]int{x, shell})
		}
	}
	return order
}
