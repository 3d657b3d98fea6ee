// Package eval scores tracker output against MOT ground truth with per-frame
// maximum overlap assignment.
package eval

import (
	"maps"
	"slices"

	"github.com/arthurkushman/go-hungarian"

	"github.com/ugparu/GoDeepTrack/mot"
	"github.com/ugparu/GoDeepTrack/utils"
)

const DefaultIoUThreshold = 0.5

type Scores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
}

// Observation is one reported box of a track.
type Observation struct {
	Frame int
	Box   utils.Rect
}

type Metrics struct {
	groundTruth  mot.GroundTruth
	iouThreshold float64
	reported     map[int]map[uint64]utils.Rect
	trajectories map[uint64][]Observation
}

func New(groundTruth mot.GroundTruth, iouThreshold float64) *Metrics {
	if groundTruth == nil {
		groundTruth = mot.GroundTruth{}
	}
	return &Metrics{
		groundTruth:  groundTruth,
		iouThreshold: iouThreshold,
		reported:     make(map[int]map[uint64]utils.Rect),
		trajectories: make(map[uint64][]Observation),
	}
}

// Update records the boxes reported for frame, keyed by track id. Calling it
// again for the same frame replaces the frame's boxes.
func (m *Metrics) Update(frame int, tracks map[uint64]utils.Rect) {
	m.reported[frame] = maps.Clone(tracks)
	for id, box := range tracks {
		m.trajectories[id] = append(m.trajectories[id], Observation{Frame: frame, Box: box})
	}
}

// EvaluateFrame counts true positives, false positives and false negatives of
// one recorded frame.
func (m *Metrics) EvaluateFrame(frame int) (tp, fp, fn int) {
	reported := m.reported[frame]
	truth := m.groundTruth[frame]

	switch {
	case len(reported) == 0:
		return 0, 0, len(truth)
	case len(truth) == 0:
		return 0, len(reported), 0
	}

	reportedBoxes := sortedBoxes(reported)
	truthBoxes := sortedBoxes(truth)

	size := max(len(reportedBoxes), len(truthBoxes))
	scores := make([][]float64, size)
	anyOverlap := false
	for i := range scores {
		scores[i] = make([]float64, size)
		if i >= len(reportedBoxes) {
			continue
		}
		for j, gt := range truthBoxes {
			scores[i][j] = utils.IoU(reportedBoxes[i], gt)
			anyOverlap = anyOverlap || scores[i][j] > 0
		}
	}

	if anyOverlap {
		for row, cols := range hungarian.SolveMax(scores) {
			for col := range cols {
				if row < len(reportedBoxes) && col < len(truthBoxes) && scores[row][col] >= m.iouThreshold {
					tp++
				}
			}
		}
	}

	return tp, len(reportedBoxes) - tp, len(truthBoxes) - tp
}

// Evaluate aggregates every recorded frame. Empty denominators count as
// perfect, and F1 is 0 when both precision and recall are 0.
func (m *Metrics) Evaluate() Scores {
	var s Scores
	for _, frame := range slices.Sorted(maps.Keys(m.reported)) {
		tp, fp, fn := m.EvaluateFrame(frame)
		s.TP += tp
		s.FP += fp
		s.FN += fn
	}

	s.Precision = ratio(s.TP, s.TP+s.FP)
	s.Recall = ratio(s.TP, s.TP+s.FN)
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

// Trajectories returns the reported boxes of every track in frame order.
func (m *Metrics) Trajectories() map[uint64][]Observation {
	out := make(map[uint64][]Observation, len(m.trajectories))
	for id, obs := range m.trajectories {
		sorted := slices.Clone(obs)
		slices.SortStableFunc(sorted, func(a, b Observation) int { return a.Frame - b.Frame })
		out[id] = sorted
	}
	return out
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 1
	}
	return float64(num) / float64(den)
}

func sortedBoxes(boxes map[uint64]utils.Rect) []utils.Rect {
	out := make([]utils.Rect, 0, len(boxes))
	for _, id := range slices.Sorted(maps.Keys(boxes)) {
		out = append(out, boxes[id])
	}
	return out
}
