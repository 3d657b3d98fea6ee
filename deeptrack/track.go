package deeptrack

import (
	"slices"

	"github.com/ugparu/GoDeepTrack/kalman"
	"github.com/ugparu/GoDeepTrack/utils"
)

type TrackState uint8

const (
	Tentative TrackState = iota
	Confirmed
	Deleted
)

func (s TrackState) String() string {
	switch s {
	case Tentative:
		return "tentative"
	case Confirmed:
		return "confirmed"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Track is a read-only snapshot of a live track taken after an Update.
type Track struct {
	ID              uint64
	Box             utils.Rect
	State           TrackState
	Hits            int
	Age             int
	TimeSinceUpdate int
}

func (t Track) IsConfirmed() bool {
	return t.State == Confirmed
}

type track struct {
	TrackState
	id              uint64
	hits            int
	age             int
	timeSinceUpdate int
	mean            [8]float64
	cov             [64]float64
	// embeddings collected since the last gallery refit
	features [][]float64
	nInit    int
	maxAge   int
}

func newTrack(id uint64, mean [8]float64, cov [64]float64, nInit, maxAge int, feature []float64) *track {
	return &track{
		TrackState: Tentative,
		id:         id,
		hits:       1,
		age:        1,
		mean:       mean,
		cov:        cov,
		features:   [][]float64{slices.Clone(feature)},
		nInit:      nInit,
		maxAge:     maxAge,
	}
}

func (t *track) box() utils.Rect {
	return utils.RectFromXYAH([4]float64(t.mean[:4]))
}

// predicted installs the state propagated one frame forward.
func (t *track) predicted(mean [8]float64, cov [64]float64) {
	t.mean, t.cov = mean, cov
	t.age++
	t.timeSinceUpdate++
}

// update corrects the motion state with box. On error the track is left as
// it was and the caller treats the frame as a miss.
func (t *track) update(kf kalman.Filter, box utils.Rect, feature []float64) error {
	if err := kf.Update(&t.mean, &t.cov, box.XYAH()); err != nil {
		return err
	}

	t.features = append(t.features, slices.Clone(feature))
	t.hits++
	t.timeSinceUpdate = 0
	if t.TrackState == Tentative && t.hits >= t.nInit {
		t.TrackState = Confirmed
	}

	return nil
}

func (t *track) markMissed() {
	if t.TrackState == Tentative {
		t.TrackState = Deleted
	} else if t.timeSinceUpdate > t.maxAge {
		t.TrackState = Deleted
	}
}

func (t *track) snapshot() Track {
	return Track{
		ID:              t.id,
		Box:             t.box(),
		State:           t.TrackState,
		Hits:            t.hits,
		Age:             t.age,
		TimeSinceUpdate: t.timeSinceUpdate,
	}
}

