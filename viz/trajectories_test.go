package viz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ugparu/GoDeepTrack/eval"
	"github.com/ugparu/GoDeepTrack/utils"
)

func TestTrajectories(t *testing.T) {
	tracks := map[uint64][]eval.Observation{
		1: {
			{Frame: 1, Box: utils.Rect{Left: 0, Top: 0, Width: 10, Height: 20}},
			{Frame: 2, Box: utils.Rect{Left: 5, Top: 2, Width: 10, Height: 20}},
		},
		2: {
			{Frame: 1, Box: utils.Rect{Left: 100, Top: 50, Width: 10, Height: 20}},
		},
		3: nil,
	}

	path := filepath.Join(t.TempDir(), "trajectories.png")
	require.NoError(t, Trajectories(tracks, path, Options{Title: "test", Legend: 5}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestTrajectoriesEmpty(t *testing.T) {
	err := Trajectories(nil, filepath.Join(t.TempDir(), "empty.png"), Options{})
	require.ErrorIs(t, err, ErrNothingToPlot)
}

func TestTrajectoriesUnknownFormat(t *testing.T) {
	tracks := map[uint64][]eval.Observation{
		1: {{Frame: 1, Box: utils.Rect{Width: 1, Height: 1}}},
	}
	require.Error(t, Trajectories(tracks, filepath.Join(t.TempDir(), "plot.unknown"), Options{}))
}
