package utils

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// IoU is the intersection over union of two boxes using the inclusive
// right/bottom convention.
func IoU(a, b Rect) float64 {
	interW := min(a.Right(), b.Right()) - max(a.Left, b.Left) + 1
	interH := min(a.Bottom(), b.Bottom()) - max(a.Top, b.Top) + 1
	if interW <= 0 || interH <= 0 {
		return 0
	}

	interArea := interW * interH
	unionArea := a.Area() + b.Area() - interArea
	if unionArea <= 0 {
		return 0
	}

	return interArea / unionArea
}

// IoUDistBatch returns 1 - IoU for every pair, rows follow bboxes1.
func IoUDistBatch(bboxes1, bboxes2 []Rect) [][]float64 {
	rows1 := len(bboxes1)
	rows2 := len(bboxes2)

	if rows1 == 0 || rows2 == 0 {
		return nil
	}

	dist := make([][]float64, rows1)
	for i := 0; i < rows1; i++ {
		dist[i] = make([]float64, rows2)
		for j := 0; j < rows2; j++ {
			dist[i][j] = 1 - IoU(bboxes1[i], bboxes2[j])
		}
	}

	return dist
}

// NNCosineDistance returns, for every query, the smallest cosine distance to
// any sample. Zero vectors are at distance 1 from everything.
func NNCosineDistance(samples, queries [][]float64) []float64 {
	if len(samples) == 0 || len(queries) == 0 {
		return nil
	}

	sampleNorms := make([]float64, len(samples))
	for i, s := range samples {
		sampleNorms[i] = floats.Norm(s, 2)
	}

	out := make([]float64, len(queries))
	for j, q := range queries {
		qNorm := floats.Norm(q, 2)
		best := math.Inf(1)
		for i, s := range samples {
			dist := 1.
			if qNorm > 0 && sampleNorms[i] > 0 && len(s) == len(q) {
				dist = 1 - floats.Dot(s, q)/(sampleNorms[i]*qNorm)
			}
			best = min(best, dist)
		}
		out[j] = best
	}

	return out
}

func AdjustSliceSize[T any](slice []T, size int) []T {
	return slices.Grow(slice[:0], size)[:size]
}
