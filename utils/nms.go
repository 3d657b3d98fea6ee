package utils

import (
	"slices"
)

// NonMaxSuppression greedily keeps the highest scoring boxes and drops every
// remaining box whose overlap with a kept one is above maxOverlap. Overlap is
// the intersection divided by the area of the candidate being dropped. With
// nil scores boxes are ranked by their bottom edge. Returned indices are in
// pick order.
func NonMaxSuppression(boxes []Rect, maxOverlap float64, scores []float64) []int {
	if len(boxes) == 0 {
		return nil
	}

	n := len(boxes)
	x1 := make([]float64, n)
	y1 := make([]float64, n)
	x2 := make([]float64, n)
	y2 := make([]float64, n)
	area := make([]float64, n)
	for i, b := range boxes {
		c := b.XYXY()
		x1[i], y1[i], x2[i], y2[i] = c[0], c[1], c[2], c[3]
		area[i] = (x2[i] - x1[i] + 1) * (y2[i] - y1[i] + 1)
	}

	rank := y2
	if scores != nil {
		rank = scores
	}

	idxs := make([]int, n)
	for i := range idxs {
		idxs[i] = i
	}
	slices.SortStableFunc(idxs, func(a, b int) int {
		switch {
		case rank[a] < rank[b]:
			return -1
		case rank[a] > rank[b]:
			return 1
		}
		return 0
	})

	var pick []int
	for len(idxs) > 0 {
		last := len(idxs) - 1
		i := idxs[last]
		pick = append(pick, i)

		rest := idxs[:0]
		for _, j := range idxs[:last] {
			w := max(0, min(x2[i], x2[j])-max(x1[i], x1[j])+1)
			h := max(0, min(y2[i], y2[j])-max(y1[i], y1[j])+1)
			if (w*h)/area[j] <= maxOverlap {
				rest = append(rest, j)
			}
		}
		idxs = rest
	}

	return pick
}
