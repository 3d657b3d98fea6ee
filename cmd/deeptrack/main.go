// Command deeptrack runs the tracker over MOT sequences, over a JSON lines
// stream, or plots the ground truth of MOT sequences.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ugparu/GoDeepTrack/config"
	"github.com/ugparu/GoDeepTrack/deeptrack"
	"github.com/ugparu/GoDeepTrack/eval"
	"github.com/ugparu/GoDeepTrack/extract"
	"github.com/ugparu/GoDeepTrack/logging"
	"github.com/ugparu/GoDeepTrack/mot"
	"github.com/ugparu/GoDeepTrack/pipeline"
	"github.com/ugparu/GoDeepTrack/store"
	"github.com/ugparu/GoDeepTrack/stream"
	"github.com/ugparu/GoDeepTrack/utils"
	"github.com/ugparu/GoDeepTrack/viz"
)

const usage = `usage: deeptrack <command> [flags]

commands:
  run           track every MOT sequence under -data and print precision, recall and F1
  stream        track JSON lines from stdin, one tracker per camera, annotated lines to stdout
  ground-truth  plot the ground truth trajectories of every MOT sequence under -data
`

type commonFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "tracking config JSON file, defaults apply when empty")
	fs.StringVar(&c.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&c.logFormat, "log-format", "text", "text or json")
}

func (c *commonFlags) load() (*config.TrackingConfig, error) {
	logging.Init(c.logLevel, c.logFormat)
	if c.configPath == "" {
		return config.EmptyTrackingConfig(), nil
	}
	return config.LoadTrackingConfig(c.configPath)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(ctx, os.Args[2:], os.Stdout)
	case "stream":
		err = streamCommand(ctx, os.Args[2:], os.Stdin, os.Stdout)
	case "ground-truth":
		err = groundTruthCommand(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		logging.L().Error("deeptrack failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	dataDir := fs.String("data", filepath.Join("share", "datasets"), "directory holding MOT sequences")
	dbPath := fs.String("db", "", "sqlite database to record runs in, disabled when empty")
	plotDir := fs.String("plot", "", "directory to write trajectory plots to, disabled when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}

	var st *store.Store
	if *dbPath != "" {
		st, err = store.Open(*dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	dirs, err := mot.Discover(*dataDir)
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return errors.Errorf("no MOT sequences under %s", *dataDir)
	}

	report := make(map[string]eval.Scores, len(dirs))
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}

		name, scores, err := runSequence(ctx, dir, cfg, st, *plotDir)
		if err != nil {
			return errors.Wrapf(err, "sequence %s", dir)
		}
		report[name] = scores
	}

	return errors.Wrap(json.NewEncoder(out).Encode(report), "write report")
}

// runSequence tracks one sequence and scores the reportable tracks against
// its ground truth.
func runSequence(ctx context.Context, dir string, cfg *config.TrackingConfig, st *store.Store, plotDir string) (string, eval.Scores, error) {
	logger := logging.With("sequence", filepath.Base(dir))

	seq, err := mot.Open(dir)
	if err != nil {
		return "", eval.Scores{}, err
	}

	tracker, err := deeptrack.New(cfg.TrackerConfig())
	if err != nil {
		return "", eval.Scores{}, err
	}
	embedder, err := extract.NewHaarExtractor(cfg.GetPatchSize(), cfg.GetCoefficients())
	if err != nil {
		return "", eval.Scores{}, err
	}
	p, err := pipeline.New(cfg.PipelineConfig(), seq, embedder, tracker)
	if err != nil {
		return "", eval.Scores{}, err
	}
	p.SetLogger(logger)

	var runID uuid.UUID
	if st != nil {
		id, err := st.BeginRun(seq.Name, cfg.JSON())
		if err != nil {
			return "", eval.Scores{}, err
		}
		runID = id
	}

	metrics := eval.New(seq.GroundTruth, cfg.GetEvalIoUThreshold())
	frames := seq.Frames()
	logger.Info("tracking sequence", "frames", frames, "embedding_dim", embedder.Dim())

	for frame := 1; frame <= frames; frame++ {
		if err := ctx.Err(); err != nil {
			return "", eval.Scores{}, err
		}

		img, err := seq.Image(frame)
		if err != nil {
			return "", eval.Scores{}, err
		}
		if img == nil {
			return "", eval.Scores{}, errors.Errorf("sequence %s has no images to extract appearance from", seq.Name)
		}

		res, err := p.Step(frame, img)
		if err != nil {
			return "", eval.Scores{}, err
		}

		reported := make(map[uint64]utils.Rect)
		for _, tr := range res.Reportable() {
			reported[tr.ID] = tr.Box
		}
		metrics.Update(frame, reported)

		if st != nil {
			if err := st.InsertFrame(runID, frame, res.Tracks); err != nil {
				return "", eval.Scores{}, err
			}
		}
	}

	scores := metrics.Evaluate()
	logger.Info("sequence scored", "precision", scores.Precision, "recall", scores.Recall, "f1", scores.F1)

	if st != nil {
		if err := st.FinishRun(runID, scores); err != nil {
			return "", eval.Scores{}, err
		}
	}

	if plotDir != "" {
		path := filepath.Join(plotDir, seq.Name+"_tracks.png")
		if err := plotTrajectories(metrics.Trajectories(), seq.Name+" tracks", path); err != nil {
			return "", eval.Scores{}, err
		}
	}

	return seq.Name, scores, nil
}

func streamCommand(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}

	router, err := stream.NewRouter(cfg.TrackerConfig(), cfg.PipelineConfig())
	if err != nil {
		return err
	}
	router.SetLogger(logging.L())

	err = router.Run(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func groundTruthCommand(args []string) error {
	fs := flag.NewFlagSet("ground-truth", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	dataDir := fs.String("data", filepath.Join("share", "datasets"), "directory holding MOT sequences")
	plotDir := fs.String("plot", ".", "directory to write the plots to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := common.load(); err != nil {
		return err
	}

	dirs, err := mot.Discover(*dataDir)
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		seq, err := mot.Open(dir)
		if err != nil {
			return err
		}
		if len(seq.GroundTruth) == 0 {
			logging.L().Warn("sequence has no ground truth", "sequence", seq.Name)
			continue
		}

		path := filepath.Join(*plotDir, seq.Name+"_ground_truth.png")
		if err := plotTrajectories(groundTruthTrajectories(seq.GroundTruth), seq.Name+" ground truth", path); err != nil {
			return err
		}
		logging.L().Info("ground truth plotted", "sequence", seq.Name, "path", path)
	}
	return nil
}

func groundTruthTrajectories(gt mot.GroundTruth) map[uint64][]eval.Observation {
	out := make(map[uint64][]eval.Observation)
	for _, frame := range gt.Frames() {
		for id, box := range gt[frame] {
			out[id] = append(out[id], eval.Observation{Frame: frame, Box: box})
		}
	}
	return out
}

func plotTrajectories(tracks map[uint64][]eval.Observation, title, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create plot directory")
	}
	err := viz.Trajectories(tracks, path, viz.Options{Title: title, Legend: 20})
	if errors.Is(err, viz.ErrNothingToPlot) {
		logging.L().Warn("nothing to plot", "path", path)
		return nil
	}
	return err
}
