// Package appearance keeps a bounded gallery of embeddings per track identity
// and measures nearest-neighbour cosine distances against it.
package appearance

import (
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/ugparu/GoDeepTrack/utils"
)

var ErrInvalidBudget = errors.New("appearance: budget must be at least 1")
var ErrInvalidThreshold = errors.New("appearance: matching threshold must be a non-negative number")

// NearestNeighborDistance scores a query embedding against a target by the
// closest sample in that target's gallery. It is not safe for concurrent use.
type NearestNeighborDistance struct {
	matchingThreshold float64
	budget            int
	dim               int
	samples           map[uint64][][]float64
}

func NewNearestNeighborDistance(matchingThreshold float64, budget int) (*NearestNeighborDistance, error) {
	if budget < 1 {
		return nil, ErrInvalidBudget
	}
	if math.IsNaN(matchingThreshold) || matchingThreshold < 0 {
		return nil, ErrInvalidThreshold
	}

	return &NearestNeighborDistance{
		matchingThreshold: matchingThreshold,
		budget:            budget,
		samples:           make(map[uint64][][]float64),
	}, nil
}

// MatchingThreshold is the largest distance accepted as an appearance match.
func (m *NearestNeighborDistance) MatchingThreshold() float64 {
	return m.matchingThreshold
}

// GallerySize returns the number of samples kept for target.
func (m *NearestNeighborDistance) GallerySize(target uint64) int {
	return len(m.samples[target])
}

// PartialFit appends features[i] to the gallery of targets[i], keeping at most
// budget samples per target with the oldest evicted first, and then forgets
// every target missing from activeTargets. The first fitted sample fixes the
// embedding length; samples of another length are skipped.
func (m *NearestNeighborDistance) PartialFit(features [][]float64, targets []uint64, activeTargets []uint64) {
	for i, feature := range features {
		if m.dim == 0 {
			m.dim = len(feature)
		}
		if len(feature) != m.dim || m.dim == 0 {
			continue
		}

		gallery := append(m.samples[targets[i]], slices.Clone(feature))
		if over := len(gallery) - m.budget; over > 0 {
			copy(gallery, gallery[over:])
			clear(gallery[m.budget:])
			gallery = gallery[:m.budget]
		}
		m.samples[targets[i]] = gallery
	}

	active := make(map[uint64][][]float64, len(activeTargets))
	for _, target := range activeTargets {
		if gallery, ok := m.samples[target]; ok {
			active[target] = gallery
		}
	}
	m.samples = active
}

// Distance returns a len(targets) x len(features) cost matrix. Targets without
// a gallery get +Inf on their whole row.
func (m *NearestNeighborDistance) Distance(features [][]float64, targets []uint64) [][]float64 {
	costMatrix := make([][]float64, len(targets))
	for i, target := range targets {
		row := utils.NNCosineDistance(m.samples[target], features)
		if row == nil {
			row = make([]float64, len(features))
			for j := range row {
				row[j] = math.Inf(1)
			}
		}
		costMatrix[i] = row
	}

	return costMatrix
}
