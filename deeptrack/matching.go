package deeptrack

import (
	"github.com/ugparu/GoDeepTrack/kalman"
	"github.com/ugparu/GoDeepTrack/utils"
	"github.com/ugparu/GoDeepTrack/utils/lap"
)

// infCost marks pairs that must never be matched.
const infCost = 1e5

// costFunc builds a len(trackIdx) x len(detIdx) cost matrix.
type costFunc func(trackIdx, detIdx []int) [][]float64

// minCostMatching solves one assignment problem between the given tracks and
// detections. Indices in the results refer to the caller's slices.
func minCostMatching(cost costFunc, maxDistance float64, trackIdx, detIdx []int) ([][2]int, []int, []int) {
	if len(trackIdx) == 0 || len(detIdx) == 0 {
		return nil, trackIdx, detIdx
	}

	costMatrix := cost(trackIdx, detIdx)
	assignments, unmatchedRows, unmatchedCols := lap.SolveLinearAssignmentProblem(len(trackIdx), len(detIdx), costMatrix, maxDistance)

	matches := make([][2]int, len(assignments))
	for i, a := range assignments {
		matches[i] = [2]int{trackIdx[a[0]], detIdx[a[1]]}
	}

	unmatchedTracks := make([]int, len(unmatchedRows))
	for i, row := range unmatchedRows {
		unmatchedTracks[i] = trackIdx[row]
	}

	unmatchedDets := make([]int, len(unmatchedCols))
	for i, col := range unmatchedCols {
		unmatchedDets[i] = detIdx[col]
	}

	return matches, unmatchedTracks, unmatchedDets
}

// matchingCascade matches tracks level by level in order of time since their
// last update, so that recently seen tracks get the first pick of detections.
func matchingCascade(cost costFunc, maxDistance float64, cascadeDepth int, tracks []*track, trackIdx, detIdx []int) ([][2]int, []int, []int) {
	unmatchedDets := detIdx
	var matches [][2]int

	for level := 0; level < cascadeDepth; level++ {
		if len(unmatchedDets) == 0 {
			break
		}

		var levelIdx []int
		for _, k := range trackIdx {
			if tracks[k].timeSinceUpdate == 1+level {
				levelIdx = append(levelIdx, k)
			}
		}
		if len(levelIdx) == 0 {
			continue
		}

		var levelMatches [][2]int
		levelMatches, _, unmatchedDets = minCostMatching(cost, maxDistance, levelIdx, unmatchedDets)
		matches = append(matches, levelMatches...)
	}

	matched := make(map[int]struct{}, len(matches))
	for _, m := range matches {
		matched[m[0]] = struct{}{}
	}

	var unmatchedTracks []int
	for _, k := range trackIdx {
		if _, ok := matched[k]; !ok {
			unmatchedTracks = append(unmatchedTracks, k)
		}
	}

	return matches, unmatchedTracks, unmatchedDets
}

// gateCostMatrix sets to infCost every entry whose detection is outside the
// chi-square gate of the track's predicted position. A track whose innovation
// covariance cannot be factorized gates out its whole row.
func gateCostMatrix(kf kalman.Filter, costMatrix [][]float64, tracks []*track, boxes []utils.Rect, trackIdx, detIdx []int) [][]float64 {
	measurements := make([][4]float64, len(detIdx))
	for i, d := range detIdx {
		measurements[i] = boxes[d].XYAH()
	}

	for row, k := range trackIdx {
		dists, err := kf.GatingDistance(tracks[k].mean, tracks[k].cov, measurements)
		for col := range costMatrix[row] {
			if err != nil || dists[col] > kalman.Chi2Inv95 {
				costMatrix[row][col] = infCost
			}
		}
	}

	return costMatrix
}
