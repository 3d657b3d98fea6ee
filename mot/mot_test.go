package mot

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ugparu/GoDeepTrack/deeptrack"
	"github.com/ugparu/GoDeepTrack/utils"
)

const seqinfo = `[Sequence]
name=TUD-Test
imDir=img1
frameRate=25
seqLength=3
imWidth=8
imHeight=6
imExt=.png
`

const detections = `1,-1,10,20,30,60,0.95,-1,-1,-1
1,-1,100,20,30,60,0.4,-1,-1,-1
3,-1,12.5,20,30,60,0.9,-1,-1,-1
`

const groundTruth = `1,1,10,20,30,60,1,1,1
1,2,100,20,30,60,0,1,1
2,1,11,20,30,60,1,1,0.5
`

func writeSequence(t *testing.T, withImages bool) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "TUD-Test")
	for _, sub := range []string{"det", "gt", "img1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seqinfo.ini"), []byte(seqinfo), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "det", "det.txt"), []byte(detections), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gt", "gt.txt"), []byte(groundTruth), 0o644))

	if withImages {
		for i, name := range []string{"000001.png", "000002.png", "000003.png"} {
			img := image.NewGray(image.Rect(0, 0, 8, 6))
			img.SetGray(0, 0, color.Gray{Y: uint8(10 * (i + 1))})

			f, err := os.Create(filepath.Join(dir, "img1", name))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, img))
			require.NoError(t, f.Close())
		}
	}
	return dir
}

func TestOpen(t *testing.T) {
	seq, err := Open(writeSequence(t, true))
	require.NoError(t, err)

	require.Equal(t, "TUD-Test", seq.Name)
	require.Equal(t, 25, seq.Info.FrameRate)
	require.Equal(t, 8, seq.Info.ImageWidth)
	require.Equal(t, 3, seq.Frames())

	dets, err := seq.Load(1)
	require.NoError(t, err)
	require.Equal(t, []deeptrack.Detection{
		{Box: utils.Rect{Left: 10, Top: 20, Width: 30, Height: 60}, Confidence: 0.95},
		{Box: utils.Rect{Left: 100, Top: 20, Width: 30, Height: 60}, Confidence: 0.4},
	}, dets)

	dets, err = seq.Load(2)
	require.NoError(t, err)
	require.Empty(t, dets)

	require.Equal(t, []int{1, 2}, seq.GroundTruth.Frames())
	require.Equal(t, map[uint64]utils.Rect{1: {Left: 10, Top: 20, Width: 30, Height: 60}}, seq.GroundTruth[1])

	img, err := seq.Image(2)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
	r, _, _, _ := img.At(0, 0).RGBA()
	require.EqualValues(t, 20, r>>8)

	_, err = seq.Image(4)
	require.Error(t, err)
}

func TestOpenWithoutImages(t *testing.T) {
	seq, err := Open(writeSequence(t, false))
	require.NoError(t, err)
	require.Equal(t, 3, seq.Frames())

	img, err := seq.Image(1)
	require.NoError(t, err)
	require.Nil(t, img)
}

func TestOpenMissingDetections(t *testing.T) {
	_, err := Open(t.TempDir())
	require.ErrorContains(t, err, "open detections")
}

func TestParseDetectionsErrors(t *testing.T) {
	_, err := ParseDetections(strings.NewReader("1,-1,10,20\n"))
	require.ErrorContains(t, err, "line 1")

	_, err = ParseDetections(strings.NewReader("1,-1,10,20,30,x,0.9\n"))
	require.ErrorContains(t, err, "field 6")

	dets, err := ParseDetections(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, dets)
}

func TestParseSeqInfo(t *testing.T) {
	info, err := ParseSeqInfo(strings.NewReader(seqinfo))
	require.NoError(t, err)
	require.Equal(t, "TUD-Test", info.Name)
	require.Equal(t, 3, info.SeqLength)
	require.Equal(t, ".png", info.ImageExt)

	v, ok := info.Get("imHeight")
	require.True(t, ok)
	require.Equal(t, "6", v)

	_, err = ParseSeqInfo(strings.NewReader("[Sequence]\nframeRate=fast\n"))
	require.ErrorContains(t, err, "frameRate")
}

func TestDiscover(t *testing.T) {
	dir := writeSequence(t, false)
	root := filepath.Dir(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	dirs, err := Discover(root)
	require.NoError(t, err)
	require.Equal(t, []string{dir}, dirs)
}
