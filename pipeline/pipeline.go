// Package pipeline drives a Tracker frame by frame from a detection source and
// an embedding source.
package pipeline

import (
	"image"
	"log/slog"
	"math"

	"github.com/pkg/errors"

	"github.com/ugparu/GoDeepTrack/deeptrack"
	"github.com/ugparu/GoDeepTrack/utils"
)

type Config struct {
	// MinConfidence drops detections scored below it.
	MinConfidence float64
	// NMSMaxOverlap is the overlap above which the lower scored of two boxes
	// is suppressed. 1 keeps everything.
	NMSMaxOverlap float64
	// MinHeight drops detections shorter than it, in pixels.
	MinHeight float64
}

var BaseConfig = Config{
	MinConfidence: 0.8,
	NMSMaxOverlap: 1.0,
	MinHeight:     0,
}

var ErrInvalidConfig = errors.New("pipeline: invalid config")

func (c Config) Validate() error {
	if math.IsNaN(c.MinConfidence) {
		return errors.Wrap(ErrInvalidConfig, "min confidence is NaN")
	}
	if math.IsNaN(c.NMSMaxOverlap) || c.NMSMaxOverlap < 0 {
		return errors.Wrapf(ErrInvalidConfig, "nms max overlap must be non-negative, got %v", c.NMSMaxOverlap)
	}
	if math.IsNaN(c.MinHeight) || c.MinHeight < 0 {
		return errors.Wrapf(ErrInvalidConfig, "min height must be non-negative, got %v", c.MinHeight)
	}
	return nil
}

// Result is the tracker output of one frame.
type Result struct {
	Frame int
	// Detections that survived filtering, in the order given to the tracker.
	Detections []deeptrack.Detection
	// Tracks holds every live track.
	Tracks []deeptrack.Track
}

// Reportable returns the confirmed tracks that were updated in this frame or
// missed only this frame.
func (r Result) Reportable() []deeptrack.Track {
	return Reportable(r.Tracks)
}

func Reportable(tracks []deeptrack.Track) []deeptrack.Track {
	var out []deeptrack.Track
	for _, tr := range tracks {
		if tr.IsConfirmed() && tr.TimeSinceUpdate <= 1 {
			out = append(out, tr)
		}
	}
	return out
}

type Pipeline struct {
	Config
	source   deeptrack.DetectionSource
	embedder deeptrack.EmbeddingSource
	tracker  *deeptrack.Tracker
	logger   *slog.Logger
}

func New(config Config, source deeptrack.DetectionSource, embedder deeptrack.EmbeddingSource, tracker *deeptrack.Tracker) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if source == nil || embedder == nil || tracker == nil {
		return nil, errors.New("pipeline: source, embedder and tracker are required")
	}
	return &Pipeline{
		Config:   config,
		source:   source,
		embedder: embedder,
		tracker:  tracker,
		logger:   slog.Default(),
	}, nil
}

// SetLogger replaces the pipeline logger and the logger of its tracker.
func (p *Pipeline) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p.logger = logger
	p.tracker.SetLogger(logger)
}

func (p *Pipeline) Tracker() *deeptrack.Tracker {
	return p.tracker
}

// Filter drops invalid boxes and applies the confidence, height and
// non-maximum suppression rules.
func (c Config) Filter(dets []deeptrack.Detection) []deeptrack.Detection {
	keep := c.FilterIndices(dets)
	out := make([]deeptrack.Detection, len(keep))
	for i, k := range keep {
		out[i] = dets[k]
	}
	return out
}

// FilterIndices is Filter returning the indices of the surviving detections,
// highest score first.
func (c Config) FilterIndices(dets []deeptrack.Detection) []int {
	var candidates []int
	for i, det := range dets {
		if !det.Box.Valid() || det.Confidence < c.MinConfidence || det.Box.Height < c.MinHeight {
			continue
		}
		candidates = append(candidates, i)
	}

	kept := make([]deeptrack.Detection, len(candidates))
	for i, k := range candidates {
		kept[i] = dets[k]
	}

	pick := utils.NonMaxSuppression(deeptrack.Boxes(kept), c.NMSMaxOverlap, deeptrack.Scores(kept))
	out := make([]int, len(pick))
	for i, k := range pick {
		out[i] = candidates[k]
	}
	return out
}

// Step loads the detections of frame, embeds them from img and runs one
// predict and update cycle.
func (p *Pipeline) Step(frame int, img image.Image) (Result, error) {
	raw, err := p.source.Load(frame)
	if err != nil {
		return Result{}, errors.Wrapf(err, "pipeline: load detections of frame %d", frame)
	}

	dets := p.Filter(raw)
	boxes := deeptrack.Boxes(dets)

	var embeddings [][]float64
	if len(boxes) > 0 {
		embeddings, err = p.embedder.Extract(img, boxes)
		if err != nil {
			return Result{}, errors.Wrapf(err, "pipeline: extract embeddings of frame %d", frame)
		}
	}

	p.tracker.Predict()
	if err := p.tracker.Update(boxes, embeddings); err != nil {
		return Result{}, errors.Wrapf(err, "pipeline: update frame %d", frame)
	}

	p.logger.Debug("frame processed", "frame", frame, "raw", len(raw), "kept", len(dets))

	return Result{
		Frame:      frame,
		Detections: dets,
		Tracks:     p.tracker.Tracks(),
	}, nil
}
