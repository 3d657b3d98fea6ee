package deeptrack

import (
	"github.com/ugparu/GoDeepTrack/utils"
)

// iouCost is 1 - IoU between track and detection boxes. Tracks that missed
// more than the last frame are not trusted geometrically and cost infCost.
func iouCost(tracks []*track, boxes []utils.Rect, trackIdx, detIdx []int) [][]float64 {
	candidates := make([]utils.Rect, len(detIdx))
	for i, d := range detIdx {
		candidates[i] = boxes[d]
	}

	costMatrix := make([][]float64, len(trackIdx))
	for row, k := range trackIdx {
		if tracks[k].timeSinceUpdate > 1 {
			costMatrix[row] = make([]float64, len(detIdx))
			for col := range costMatrix[row] {
				costMatrix[row][col] = infCost
			}
			continue
		}
		costMatrix[row] = utils.IoUDistBatch([]utils.Rect{tracks[k].box()}, candidates)[0]
	}

	return costMatrix
}
