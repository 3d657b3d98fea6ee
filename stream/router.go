// Package stream tracks detections arriving as JSON lines, one tracker per
// camera, and echoes every line annotated with track ids.
//
// Input lines look like
//
//	{"camera": "gate-1", "frame": 7, "items": [{"bbox": [l, t, w, h], "confidence": 0.9, "embedding": [...]}]}
//
// Every item matched to a track gains a "track_id" field and the line gains a
// "tracks" array with the reportable tracks of that camera.
package stream

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strconv"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ugparu/GoDeepTrack/deeptrack"
	"github.com/ugparu/GoDeepTrack/pipeline"
	"github.com/ugparu/GoDeepTrack/utils"
)

const (
	defaultCamera = "default"
	maxLineSize   = 10 << 20
)

var ErrMalformedLine = errors.New("stream: malformed line")

// TrackJSON is the wire form of a reported track.
type TrackJSON struct {
	ID              uint64     `json:"id"`
	BBox            [4]float64 `json:"bbox"`
	State           string     `json:"state"`
	Hits            int        `json:"hits"`
	TimeSinceUpdate int        `json:"time_since_update"`
}

type Router struct {
	trackerConfig deeptrack.Config
	filter        pipeline.Config
	trackers      map[string]*deeptrack.Tracker
	logger        *slog.Logger
}

func NewRouter(trackerConfig deeptrack.Config, filter pipeline.Config) (*Router, error) {
	if err := trackerConfig.Validate(); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return &Router{
		trackerConfig: trackerConfig,
		filter:        filter,
		trackers:      make(map[string]*deeptrack.Tracker),
		logger:        slog.Default(),
	}, nil
}

func (r *Router) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r.logger = logger
	for camera, tr := range r.trackers {
		tr.SetLogger(logger.With("camera", camera))
	}
}

// Cameras lists the cameras seen so far.
func (r *Router) Cameras() []string {
	return slices.Sorted(maps.Keys(r.trackers))
}

func (r *Router) tracker(camera string) (*deeptrack.Tracker, error) {
	if tr, ok := r.trackers[camera]; ok {
		return tr, nil
	}
	tr, err := deeptrack.New(r.trackerConfig)
	if err != nil {
		return nil, err
	}
	tr.SetLogger(r.logger.With("camera", camera))
	r.trackers[camera] = tr
	r.logger.Info("new camera", "camera", camera)
	return tr, nil
}

// Process runs one frame through the tracker of its camera and returns the
// annotated line.
func (r *Router) Process(line []byte) ([]byte, error) {
	if !gjson.ValidBytes(line) {
		return nil, ErrMalformedLine
	}
	doc := gjson.ParseBytes(line)
	if !doc.IsObject() {
		return nil, errors.Wrap(ErrMalformedLine, "not an object")
	}

	camera := doc.Get("camera").String()
	if camera == "" {
		camera = defaultCamera
	}

	items := doc.Get("items").Array()
	dets := make([]deeptrack.Detection, len(items))
	embeddings := make([][]float64, len(items))
	for i, item := range items {
		dets[i] = deeptrack.Detection{Box: parseBox(item.Get("bbox")), Confidence: 1}
		if c := item.Get("confidence"); c.Exists() {
			dets[i].Confidence = c.Float()
		}
		for _, v := range item.Get("embedding").Array() {
			embeddings[i] = append(embeddings[i], v.Float())
		}
	}

	keep := r.filter.FilterIndices(dets)
	boxes := make([]utils.Rect, len(keep))
	kept := make([][]float64, len(keep))
	for i, k := range keep {
		boxes[i] = dets[k].Box
		kept[i] = embeddings[k]
	}

	tr, err := r.tracker(camera)
	if err != nil {
		return nil, err
	}
	tr.Predict()
	if err := tr.Update(boxes, kept); err != nil {
		return nil, errors.Wrapf(err, "stream: camera %s", camera)
	}

	out := slices.Clone(line)
	for det, id := range tr.LastAssignments() {
		out, err = sjson.SetBytes(out, "items."+strconv.Itoa(keep[det])+".track_id", id)
		if err != nil {
			return nil, errors.Wrap(err, "stream: annotate item")
		}
	}

	reported := pipeline.Reportable(tr.Tracks())
	tracks := make([]TrackJSON, len(reported))
	for i, t := range reported {
		tracks[i] = TrackJSON{
			ID:              t.ID,
			BBox:            [4]float64{t.Box.Left, t.Box.Top, t.Box.Width, t.Box.Height},
			State:           t.State.String(),
			Hits:            t.Hits,
			TimeSinceUpdate: t.TimeSinceUpdate,
		}
	}
	out, err = sjson.SetBytes(out, "tracks", tracks)
	if err != nil {
		return nil, errors.Wrap(err, "stream: annotate tracks")
	}

	return out, nil
}

// Run processes in line by line until EOF or ctx is done. Malformed lines
// are logged and skipped.
func (r *Router) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 64*1024), maxLineSize)
	w := bufio.NewWriter(out)
	defer w.Flush()

	lineNo := 0
	for s.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++

		line := s.Bytes()
		if len(line) == 0 {
			continue
		}

		annotated, err := r.Process(line)
		if err != nil {
			r.logger.Warn("skipping line", "line", lineNo, "error", err)
			continue
		}
		if _, err := w.Write(annotated); err != nil {
			return errors.Wrap(err, "stream: write")
		}
		if err := w.WriteByte('\n'); err != nil {
			return errors.Wrap(err, "stream: write")
		}
		if err := w.Flush(); err != nil {
			return errors.Wrap(err, "stream: flush")
		}
	}
	return errors.Wrap(s.Err(), "stream: read")
}

func parseBox(v gjson.Result) utils.Rect {
	vals := v.Array()
	if len(vals) != 4 {
		return utils.Rect{Left: math.NaN()}
	}
	return utils.Rect{Left: vals[0].Float(), Top: vals[1].Float(), Width: vals[2].Float(), Height: vals[3].Float()}
}
