package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ugparu/GoDeepTrack/mot"
	"github.com/ugparu/GoDeepTrack/store"
	"github.com/ugparu/GoDeepTrack/utils"
)

const testFrames = 6

func targetBox(frame int) image.Rectangle {
	left := 10 + 2*frame
	return image.Rect(left, 10, left+12, 34)
}

// writeSequence lays out a MOT sequence with one red target moving right on a
// grey background.
func writeSequence(t *testing.T, root, name string) {
	t.Helper()

	dir := filepath.Join(root, name)
	for _, sub := range []string{"det", "gt", "img1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}

	var det, gt strings.Builder
	for frame := 1; frame <= testFrames; frame++ {
		box := targetBox(frame)
		fmt.Fprintf(&det, "%d,-1,%d,%d,%d,%d,0.9,-1,-1,-1\n", frame, box.Min.X, box.Min.Y, box.Dx(), box.Dy())
		fmt.Fprintf(&gt, "%d,1,%d,%d,%d,%d,1,1,1\n", frame, box.Min.X, box.Min.Y, box.Dx(), box.Dy())

		img := image.NewRGBA(image.Rect(0, 0, 64, 48))
		draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 90, G: 90, B: 90, A: 255}), image.Point{}, draw.Src)
		draw.Draw(img, box, image.NewUniform(color.RGBA{R: 220, G: 30, B: 30, A: 255}), image.Point{}, draw.Src)

		f, err := os.Create(filepath.Join(dir, "img1", fmt.Sprintf("%06d.png", frame)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "det", "det.txt"), []byte(det.String()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gt", "gt.txt"), []byte(gt.String()), 0o644))
}

func TestRunCommand(t *testing.T) {
	root := t.TempDir()
	writeSequence(t, root, "SYN-01")

	dbPath := filepath.Join(t.TempDir(), "runs.db")
	plotDir := filepath.Join(t.TempDir(), "plots")

	var out bytes.Buffer
	require.NoError(t, runCommand(context.Background(), []string{
		"-data", root, "-db", dbPath, "-plot", plotDir, "-log-level", "error",
	}, &out))

	report := out.String()
	require.True(t, gjson.Valid(report), report)
	// frames before confirmation are misses
	require.InDelta(t, 1.0, gjson.Get(report, "SYN-01.precision").Float(), 1e-9, report)
	require.InDelta(t, 4.0/6.0, gjson.Get(report, "SYN-01.recall").Float(), 1e-9, report)
	require.EqualValues(t, 4, gjson.Get(report, "SYN-01.tp").Int())

	_, err := os.Stat(filepath.Join(plotDir, "SYN-01_tracks.png"))
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	var runID string
	require.NoError(t, st.QueryRow(`SELECT run_id FROM runs WHERE sequence = ?`, "SYN-01").Scan(&runID))
	var observations int
	require.NoError(t, st.QueryRow(`SELECT COUNT(*) FROM track_obs WHERE run_id = ?`, runID).Scan(&observations))
	require.Equal(t, testFrames, observations)
}

func TestRunCommandWithoutSequences(t *testing.T) {
	var out bytes.Buffer
	err := runCommand(context.Background(), []string{"-data", t.TempDir()}, &out)
	require.ErrorContains(t, err, "no MOT sequences")
}

func TestGroundTruthCommand(t *testing.T) {
	root := t.TempDir()
	writeSequence(t, root, "SYN-02")
	plotDir := t.TempDir()

	require.NoError(t, groundTruthCommand([]string{"-data", root, "-plot", plotDir}))
	_, err := os.Stat(filepath.Join(plotDir, "SYN-02_ground_truth.png"))
	require.NoError(t, err)
}

func TestGroundTruthTrajectories(t *testing.T) {
	gt := mot.GroundTruth{
		2: {1: utils.Rect{Left: 2, Width: 1, Height: 1}},
		1: {1: utils.Rect{Left: 1, Width: 1, Height: 1}, 2: utils.Rect{Left: 9, Width: 1, Height: 1}},
	}
	traj := groundTruthTrajectories(gt)
	require.Len(t, traj[1], 2)
	require.Equal(t, 1, traj[1][0].Frame)
	require.Equal(t, 2, traj[1][1].Frame)
	require.Len(t, traj[2], 1)
}

func TestStreamCommand(t *testing.T) {
	in := strings.NewReader(`{"camera":"c","items":[{"bbox":[0,0,10,20],"confidence":0.9,"embedding":[1,0]}]}` + "\n")
	var out bytes.Buffer
	require.NoError(t, streamCommand(context.Background(), nil, in, &out))
	require.EqualValues(t, 1, gjson.Get(out.String(), "items.0.track_id").Int())
}
