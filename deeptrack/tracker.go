package deeptrack

import (
	"log/slog"
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/ugparu/GoDeepTrack/appearance"
	"github.com/ugparu/GoDeepTrack/kalman"
	"github.com/ugparu/GoDeepTrack/utils"
)

type Config struct {
	// MaxAge is the number of consecutive misses a confirmed track survives.
	MaxAge int
	// NInit is the number of hits, creation included, needed to confirm.
	NInit             int
	MaxIoUDistance    float64
	MatchingThreshold float64
	// Budget caps the appearance gallery of every identity.
	Budget int
}

const initPoolSize = 2 << 5

var BaseConfig = Config{
	MaxAge:            30,
	NInit:             3,
	MaxIoUDistance:    0.7,
	MatchingThreshold: 0.2,
	Budget:            100,
}

var ErrInvalidConfig = errors.New("deeptrack: invalid config")
var ErrMisalignedEmbeddings = errors.New("deeptrack: boxes and embeddings differ in length")

func (c Config) Validate() error {
	if c.MaxAge < 1 {
		return errors.Wrapf(ErrInvalidConfig, "max age must be at least 1, got %d", c.MaxAge)
	}
	if c.NInit < 1 {
		return errors.Wrapf(ErrInvalidConfig, "n init must be at least 1, got %d", c.NInit)
	}
	if math.IsNaN(c.MaxIoUDistance) || c.MaxIoUDistance < 0 || c.MaxIoUDistance > 1 {
		return errors.Wrapf(ErrInvalidConfig, "max iou distance must be in [0, 1], got %v", c.MaxIoUDistance)
	}
	if math.IsNaN(c.MatchingThreshold) || math.IsInf(c.MatchingThreshold, 0) || c.MatchingThreshold < 0 {
		return errors.Wrapf(ErrInvalidConfig, "matching threshold must be a non-negative number, got %v", c.MatchingThreshold)
	}
	if c.Budget < 1 {
		return errors.Wrapf(ErrInvalidConfig, "budget must be at least 1, got %d", c.Budget)
	}
	return nil
}

// Tracker is an online multi-target tracker. Call Predict and then Update
// exactly once per frame. A Tracker is not safe for concurrent use; run one
// per video stream.
type Tracker struct {
	Config
	kf     kalman.Filter
	metric *appearance.NearestNeighborDistance
	logger *slog.Logger

	// live tracks in creation order, indexed by id
	tracks  []*track
	index   map[uint64]int
	trackID uint64
	frameID uint

	lastAssignments map[int]uint64
	valid           []int
	// embedding length, fixed by the first accepted detection
	dim int

	// scratch reused across frames
	featureBuf [][]float64
	targetBuf  []uint64
	meanBuf    [][8]float64
	covBuf     [][64]float64
}

func New(config Config) (*Tracker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	metric, err := appearance.NewNearestNeighborDistance(config.MatchingThreshold, config.Budget)
	if err != nil {
		return nil, errors.Wrap(err, "deeptrack: create appearance metric")
	}

	return &Tracker{
		Config:          config,
		kf:              kalman.GetFilter(),
		metric:          metric,
		logger:          slog.Default(),
		tracks:          make([]*track, 0, initPoolSize),
		index:           make(map[uint64]int, initPoolSize),
		trackID:         1,
		lastAssignments: make(map[int]uint64),
	}, nil
}

// SetLogger replaces the tracker logger. Passing nil discards all records.
func (t *Tracker) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t.logger = logger
}

// Predict propagates every live track one frame forward.
func (t *Tracker) Predict() {
	means := utils.AdjustSliceSize(t.meanBuf, len(t.tracks))
	covs := utils.AdjustSliceSize(t.covBuf, len(t.tracks))
	for i, tr := range t.tracks {
		means[i], covs[i] = tr.mean, tr.cov
	}
	t.meanBuf, t.covBuf = means, covs

	t.kf.MultiPredict(means, covs)

	for i, tr := range t.tracks {
		tr.predicted(means[i], covs[i])
	}
}

// Update associates the frame's boxes with the live tracks, corrects or
// misses each track, starts tentative tracks for unmatched boxes, removes
// deleted tracks and refits the appearance gallery. embeddings[i] belongs to
// boxes[i]. Invalid boxes and embeddings of the wrong length are dropped.
func (t *Tracker) Update(boxes []utils.Rect, embeddings [][]float64) error {
	if len(boxes) != len(embeddings) {
		return errors.Wrapf(ErrMisalignedEmbeddings, "%d boxes, %d embeddings", len(boxes), len(embeddings))
	}

	t.frameID++
	clear(t.lastAssignments)

	valid := t.validDetections(boxes, embeddings)

	matches, unmatchedTracks, unmatchedDets := t.match(boxes, embeddings, valid)

	for _, m := range matches {
		tr := t.tracks[m[0]]
		if err := tr.update(t.kf, boxes[m[1]], embeddings[m[1]]); err != nil {
			t.logger.Warn("track correction failed, counting as miss",
				"frame", t.frameID, "track_id", tr.id, "error", err)
			tr.markMissed()
			continue
		}
		t.lastAssignments[m[1]] = tr.id
	}

	for _, k := range unmatchedTracks {
		t.tracks[k].markMissed()
	}

	for _, d := range unmatchedDets {
		t.initiateTrack(boxes[d], embeddings[d])
		t.lastAssignments[d] = t.trackID - 1
	}

	t.removeDeleted()
	t.refitMetric()

	t.logger.Debug("frame updated",
		"frame", t.frameID,
		"detections", len(boxes),
		"valid", len(valid),
		"matched", len(matches),
		"created", len(unmatchedDets),
		"live", len(t.tracks))

	return nil
}

// Tracks returns snapshots of the live tracks in creation order.
func (t *Tracker) Tracks() []Track {
	out := make([]Track, len(t.tracks))
	for i, tr := range t.tracks {
		out[i] = tr.snapshot()
	}
	return out
}

// Track returns the snapshot of the live track with the given id.
func (t *Tracker) Track(id uint64) (Track, bool) {
	slot, ok := t.index[id]
	if !ok {
		return Track{}, false
	}
	return t.tracks[slot].snapshot(), true
}

// LastAssignments maps detection indices of the last Update to the id of the
// track they updated or created.
func (t *Tracker) LastAssignments() map[int]uint64 {
	out := make(map[int]uint64, len(t.lastAssignments))
	for k, v := range t.lastAssignments {
		out[k] = v
	}
	return out
}

// GallerySize is the number of appearance samples kept for a confirmed track.
func (t *Tracker) GallerySize(id uint64) int {
	return t.metric.GallerySize(id)
}

func (t *Tracker) validDetections(boxes []utils.Rect, embeddings [][]float64) []int {
	t.valid = t.valid[:0]

	for i, box := range boxes {
		if !box.Valid() {
			t.logger.Debug("dropping detection with invalid box", "frame", t.frameID, "index", i, "box", box)
			continue
		}
		if t.dim == 0 && len(embeddings[i]) > 0 {
			t.dim = len(embeddings[i])
		}
		if len(embeddings[i]) == 0 || len(embeddings[i]) != t.dim {
			t.logger.Debug("dropping detection with mismatched embedding",
				"frame", t.frameID, "index", i, "len", len(embeddings[i]), "want", t.dim)
			continue
		}
		t.valid = append(t.valid, i)
	}

	return t.valid
}

func (t *Tracker) match(boxes []utils.Rect, embeddings [][]float64, detIdx []int) ([][2]int, []int, []int) {
	gatedMetric := func(trackIdx, detIdx []int) [][]float64 {
		features := utils.AdjustSliceSize(t.featureBuf, len(detIdx))
		for i, d := range detIdx {
			features[i] = embeddings[d]
		}
		targets := utils.AdjustSliceSize(t.targetBuf, len(trackIdx))
		for i, k := range trackIdx {
			targets[i] = t.tracks[k].id
		}
		t.featureBuf, t.targetBuf = features, targets

		costMatrix := t.metric.Distance(features, targets)
		return gateCostMatrix(t.kf, costMatrix, t.tracks, boxes, trackIdx, detIdx)
	}

	var confirmedTracks, unconfirmedTracks []int
	for i, tr := range t.tracks {
		if tr.TrackState == Confirmed {
			confirmedTracks = append(confirmedTracks, i)
		} else {
			unconfirmedTracks = append(unconfirmedTracks, i)
		}
	}

	// appearance first, most recently updated tracks first
	matchesA, unmatchedTracksA, unmatchedDets := matchingCascade(
		gatedMetric, t.metric.MatchingThreshold(), t.MaxAge, t.tracks, confirmedTracks, detIdx)

	// remaining tracks that only just lost their target join the unconfirmed
	// ones for geometric matching
	iouTrackCandidates := unconfirmedTracks
	var unmatchedTracksA2 []int
	for _, k := range unmatchedTracksA {
		if t.tracks[k].timeSinceUpdate == 1 {
			iouTrackCandidates = append(iouTrackCandidates, k)
		} else {
			unmatchedTracksA2 = append(unmatchedTracksA2, k)
		}
	}

	iouDistance := func(trackIdx, detIdx []int) [][]float64 {
		return iouCost(t.tracks, boxes, trackIdx, detIdx)
	}
	matchesB, unmatchedTracksB, unmatchedDets := minCostMatching(
		iouDistance, t.MaxIoUDistance, iouTrackCandidates, unmatchedDets)

	matches := append(matchesA, matchesB...)
	unmatchedTracks := append(unmatchedTracksA2, unmatchedTracksB...)
	slices.Sort(unmatchedTracks)
	unmatchedTracks = slices.Compact(unmatchedTracks)

	return matches, unmatchedTracks, unmatchedDets
}

func (t *Tracker) initiateTrack(box utils.Rect, feature []float64) {
	mean, cov := t.kf.Initiate(box.XYAH())
	tr := newTrack(t.trackID, mean, cov, t.NInit, t.MaxAge, feature)

	t.index[tr.id] = len(t.tracks)
	t.tracks = append(t.tracks, tr)
	t.trackID++
}

func (t *Tracker) removeDeleted() {
	alive := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.TrackState == Deleted {
			delete(t.index, tr.id)
			continue
		}
		alive = append(alive, tr)
	}
	clear(t.tracks[len(alive):])
	t.tracks = alive

	for slot, tr := range t.tracks {
		t.index[tr.id] = slot
	}
}

// refitMetric moves the pending embeddings of confirmed tracks into the
// appearance gallery and forgets identities that are no longer confirmed.
func (t *Tracker) refitMetric() {
	var activeTargets []uint64
	var features [][]float64
	var targets []uint64

	for _, tr := range t.tracks {
		if tr.TrackState != Confirmed {
			continue
		}
		activeTargets = append(activeTargets, tr.id)
		for _, f := range tr.features {
			features = append(features, f)
			targets = append(targets, tr.id)
		}
		tr.features = nil
	}

	t.metric.PartialFit(features, targets, activeTargets)
}
