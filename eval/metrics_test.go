package eval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ugparu/GoDeepTrack/mot"
	"github.com/ugparu/GoDeepTrack/utils"
)

func square(left float64) utils.Rect {
	return utils.Rect{Left: left, Top: 0, Width: 10, Height: 10}
}

func TestEvaluateFrameMaximisesOverlap(t *testing.T) {
	gt := mot.GroundTruth{
		1: {1: square(0), 2: square(4)},
	}
	m := New(gt, DefaultIoUThreshold)

	// a greedy pick of the best pair (10 with 2) would leave 11 with 1 below
	// the threshold
	m.Update(1, map[uint64]utils.Rect{10: square(3), 11: square(6)})

	tp, fp, fn := m.EvaluateFrame(1)
	require.Equal(t, 2, tp)
	require.Zero(t, fp)
	require.Zero(t, fn)
}

func TestEvaluateFrameEmptySides(t *testing.T) {
	gt := mot.GroundTruth{
		1: {1: square(0), 2: square(50)},
	}
	m := New(gt, DefaultIoUThreshold)

	m.Update(1, nil)
	tp, fp, fn := m.EvaluateFrame(1)
	require.Equal(t, [3]int{0, 0, 2}, [3]int{tp, fp, fn})

	m.Update(2, map[uint64]utils.Rect{3: square(0)})
	tp, fp, fn = m.EvaluateFrame(2)
	require.Equal(t, [3]int{0, 1, 0}, [3]int{tp, fp, fn})

	m.Update(3, nil)
	tp, fp, fn = m.EvaluateFrame(3)
	require.Equal(t, [3]int{0, 0, 0}, [3]int{tp, fp, fn})
}

func TestEvaluateFrameRectangular(t *testing.T) {
	gt := mot.GroundTruth{
		1: {1: square(0), 2: square(100), 3: square(200)},
	}
	m := New(gt, DefaultIoUThreshold)
	m.Update(1, map[uint64]utils.Rect{7: square(101)})

	tp, fp, fn := m.EvaluateFrame(1)
	require.Equal(t, [3]int{1, 0, 2}, [3]int{tp, fp, fn})
}

func TestEvaluateFrameBelowThreshold(t *testing.T) {
	gt := mot.GroundTruth{1: {1: square(0)}}
	m := New(gt, DefaultIoUThreshold)
	m.Update(1, map[uint64]utils.Rect{1: square(4)})

	tp, fp, fn := m.EvaluateFrame(1)
	require.Equal(t, [3]int{0, 1, 1}, [3]int{tp, fp, fn})
}

func TestEvaluate(t *testing.T) {
	t.Run("nothing recorded", func(t *testing.T) {
		s := New(nil, DefaultIoUThreshold).Evaluate()
		require.Equal(t, Scores{Precision: 1, Recall: 1, F1: 1}, s)
	})

	t.Run("all wrong", func(t *testing.T) {
		m := New(mot.GroundTruth{1: {1: square(0)}}, DefaultIoUThreshold)
		m.Update(1, map[uint64]utils.Rect{1: square(500)})
		require.Equal(t, Scores{FP: 1, FN: 1}, m.Evaluate())
	})

	t.Run("mixed", func(t *testing.T) {
		gt := mot.GroundTruth{
			1: {1: square(0)},
			2: {1: square(1), 2: square(300)},
			// never reported, so not scored
			3: {1: square(2)},
		}
		m := New(gt, DefaultIoUThreshold)
		m.Update(1, map[uint64]utils.Rect{5: square(0)})
		m.Update(2, map[uint64]utils.Rect{5: square(1), 6: square(700)})

		s := m.Evaluate()
		require.Equal(t, 2, s.TP)
		require.Equal(t, 1, s.FP)
		require.Equal(t, 1, s.FN)
		require.InDelta(t, 2.0/3.0, s.Precision, 1e-12)
		require.InDelta(t, 2.0/3.0, s.Recall, 1e-12)
		require.InDelta(t, 2.0/3.0, s.F1, 1e-12)
	})
}

func TestTrajectories(t *testing.T) {
	m := New(nil, DefaultIoUThreshold)
	m.Update(2, map[uint64]utils.Rect{1: square(2)})
	m.Update(1, map[uint64]utils.Rect{1: square(1), 2: square(9)})

	traj := m.Trajectories()
	require.Equal(t, []Observation{{Frame: 1, Box: square(1)}, {Frame: 2, Box: square(2)}}, traj[1])
	require.Equal(t, []Observation{{Frame: 1, Box: square(9)}}, traj[2])
}
