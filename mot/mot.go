// Package mot reads MOTChallenge style sequences: frames under img1/,
// detections in det/det.txt, annotations in gt/gt.txt and metadata in
// seqinfo.ini. Frame numbers are 1-based as in the files.
package mot

import (
	"bufio"
	"encoding/csv"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ugparu/GoDeepTrack/deeptrack"
	"github.com/ugparu/GoDeepTrack/utils"
)

// GroundTruth maps a frame to the annotated boxes of that frame by identity.
type GroundTruth map[int]map[uint64]utils.Rect

// Frames returns the annotated frame numbers in increasing order.
func (g GroundTruth) Frames() []int {
	frames := make([]int, 0, len(g))
	for f := range g {
		frames = append(frames, f)
	}
	slices.Sort(frames)
	return frames
}

type SeqInfo struct {
	Name        string
	FrameRate   int
	SeqLength   int
	ImageWidth  int
	ImageHeight int
	ImageDir    string
	ImageExt    string
	entries     map[string]string
}

// Get returns a raw seqinfo.ini entry.
func (s SeqInfo) Get(key string) (string, bool) {
	v, ok := s.entries[key]
	return v, ok
}

type Sequence struct {
	Name        string
	Dir         string
	Info        SeqInfo
	GroundTruth GroundTruth

	images     []string
	detections map[int][]deeptrack.Detection
}

// Open reads every file of the sequence rooted at dir. Missing ground truth
// and seqinfo.ini are allowed, missing detections are not.
func Open(dir string) (*Sequence, error) {
	seq := &Sequence{
		Name: filepath.Base(filepath.Clean(dir)),
		Dir:  dir,
		Info: SeqInfo{ImageDir: "img1", ImageExt: ".jpg"},
	}

	if f, err := os.Open(filepath.Join(dir, "seqinfo.ini")); err == nil {
		info, err := ParseSeqInfo(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "mot: %s", seq.Name)
		}
		seq.Info = info
		if info.Name != "" {
			seq.Name = info.Name
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "mot: open seqinfo")
	}

	f, err := os.Open(filepath.Join(dir, "det", "det.txt"))
	if err != nil {
		return nil, errors.Wrap(err, "mot: open detections")
	}
	seq.detections, err = ParseDetections(f)
	f.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "mot: %s", seq.Name)
	}

	if f, err := os.Open(filepath.Join(dir, "gt", "gt.txt")); err == nil {
		seq.GroundTruth, err = ParseGroundTruth(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "mot: %s", seq.Name)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "mot: open ground truth")
	}

	entries, err := os.ReadDir(filepath.Join(dir, seq.Info.ImageDir))
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "mot: list images")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			seq.images = append(seq.images, filepath.Join(dir, seq.Info.ImageDir, e.Name()))
		}
	}
	slices.Sort(seq.images)

	return seq, nil
}

// Load returns the detections of frame. Frames without detections yield an
// empty slice.
func (s *Sequence) Load(frame int) ([]deeptrack.Detection, error) {
	return slices.Clone(s.detections[frame]), nil
}

// Frames is the number of frames of the sequence: the image count, the
// seqinfo length or the last detected frame, whichever is known first.
func (s *Sequence) Frames() int {
	if len(s.images) > 0 {
		return len(s.images)
	}
	if s.Info.SeqLength > 0 {
		return s.Info.SeqLength
	}
	last := 0
	for f := range s.detections {
		last = max(last, f)
	}
	return last
}

// Image decodes the image of frame. Sequences without images return nil.
func (s *Sequence) Image(frame int) (image.Image, error) {
	if len(s.images) == 0 {
		return nil, nil
	}
	if frame < 1 || frame > len(s.images) {
		return nil, errors.Errorf("mot: frame %d out of range [1, %d]", frame, len(s.images))
	}

	f, err := os.Open(s.images[frame-1])
	if err != nil {
		return nil, errors.Wrap(err, "mot: open image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "mot: decode %s", s.images[frame-1])
	}
	return img, nil
}

func readRecords(r io.Reader, minFields int) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var rows [][]float64
	for line := 1; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) < minFields {
			return nil, errors.Errorf("line %d: want at least %d fields, got %d", line, minFields, len(record))
		}

		row := make([]float64, len(record))
		for i, field := range record {
			row[i], err = strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d field %d", line, i+1)
			}
		}
		rows = append(rows, row)
	}
}

// ParseDetections reads det.txt rows: frame, id, left, top, width, height,
// confidence, and optional world coordinates which are ignored.
func ParseDetections(r io.Reader) (map[int][]deeptrack.Detection, error) {
	rows, err := readRecords(r, 7)
	if err != nil {
		return nil, errors.Wrap(err, "detections")
	}

	out := make(map[int][]deeptrack.Detection)
	for _, row := range rows {
		frame := int(row[0])
		out[frame] = append(out[frame], deeptrack.Detection{
			Box:        utils.Rect{Left: row[2], Top: row[3], Width: row[4], Height: row[5]},
			Confidence: row[6],
		})
	}
	return out, nil
}

// ParseGroundTruth reads gt.txt rows: frame, id, left, top, width, height and
// an optional consider flag. Rows flagged 0 are skipped.
func ParseGroundTruth(r io.Reader) (GroundTruth, error) {
	rows, err := readRecords(r, 6)
	if err != nil {
		return nil, errors.Wrap(err, "ground truth")
	}

	out := make(GroundTruth)
	for _, row := range rows {
		if len(row) > 6 && row[6] == 0 {
			continue
		}
		frame := int(row[0])
		if out[frame] == nil {
			out[frame] = make(map[uint64]utils.Rect)
		}
		out[frame][uint64(row[1])] = utils.Rect{Left: row[2], Top: row[3], Width: row[4], Height: row[5]}
	}
	return out, nil
}

// ParseSeqInfo reads the key=value lines of seqinfo.ini. Section headers and
// blank lines are skipped.
func ParseSeqInfo(r io.Reader) (SeqInfo, error) {
	info := SeqInfo{ImageDir: "img1", ImageExt: ".jpg", entries: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "[") || strings.HasPrefix(line, ";") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		info.entries[key] = value

		var err error
		switch key {
		case "name":
			info.Name = value
		case "imDir":
			info.ImageDir = value
		case "imExt":
			info.ImageExt = value
		case "frameRate":
			info.FrameRate, err = strconv.Atoi(value)
		case "seqLength":
			info.SeqLength, err = strconv.Atoi(value)
		case "imWidth":
			info.ImageWidth, err = strconv.Atoi(value)
		case "imHeight":
			info.ImageHeight, err = strconv.Atoi(value)
		}
		if err != nil {
			return SeqInfo{}, errors.Wrapf(err, "seqinfo %s", key)
		}
	}
	if err := scanner.Err(); err != nil {
		return SeqInfo{}, errors.Wrap(err, "seqinfo")
	}
	return info, nil
}

// Discover lists the sequence directories under root, those holding a
// det/det.txt file, in lexical order.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "mot: list sequences")
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "det", "det.txt")); err == nil {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}
