package deeptrack

import (
	"image"

	"github.com/ugparu/GoDeepTrack/utils"
)

// Detection is one box reported by a detector for a single frame.
type Detection struct {
	Box        utils.Rect
	Confidence float64
}

// DetectionSource yields the raw detections of a frame.
type DetectionSource interface {
	Load(frame int) ([]Detection, error)
}

// EmbeddingSource computes one appearance vector per box of img.
type EmbeddingSource interface {
	Extract(img image.Image, boxes []utils.Rect) ([][]float64, error)
}

func Boxes(dets []Detection) []utils.Rect {
	boxes := make([]utils.Rect, len(dets))
	for i, det := range dets {
		boxes[i] = det.Box
	}
	return boxes
}

func Scores(dets []Detection) []float64 {
	scores := make([]float64, len(dets))
	for i, det := range dets {
		scores[i] = det.Confidence
	}
	return scores
}
