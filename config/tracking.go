package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ugparu/GoDeepTrack/deeptrack"
	"github.com/ugparu/GoDeepTrack/pipeline"
)

// DefaultConfigPath is the path to the canonical tracking defaults file.
const DefaultConfigPath = "config/tracking.defaults.json"

const maxFileSize = 1 * 1024 * 1024

// TrackingConfig is the JSON form of every tunable of a tracking run. Fields
// omitted from the file fall back to the Get* defaults.
type TrackingConfig struct {
	// Tracker params
	MaxAge            *int     `json:"max_age,omitempty"`
	NInit             *int     `json:"n_init,omitempty"`
	MaxIoUDistance    *float64 `json:"max_iou_distance,omitempty"`
	MatchingThreshold *float64 `json:"max_cosine_distance,omitempty"`
	Budget            *int     `json:"nn_budget,omitempty"`

	// Detection filtering
	MinConfidence      *float64 `json:"min_confidence,omitempty"`
	NMSMaxOverlap      *float64 `json:"nms_max_overlap,omitempty"`
	MinDetectionHeight *float64 `json:"min_detection_height,omitempty"`

	// Evaluation and appearance
	EvalIoUThreshold *float64 `json:"eval_iou_threshold,omitempty"`
	PatchSize        *int     `json:"patch_size,omitempty"`
	Coefficients     *int     `json:"coefficients,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

func EmptyTrackingConfig() *TrackingConfig {
	return &TrackingConfig{}
}

// DefaultTrackingConfig returns a config with every field set to its default.
func DefaultTrackingConfig() *TrackingConfig {
	c := EmptyTrackingConfig()
	return &TrackingConfig{
		MaxAge:             ptrInt(c.GetMaxAge()),
		NInit:              ptrInt(c.GetNInit()),
		MaxIoUDistance:     ptrFloat64(c.GetMaxIoUDistance()),
		MatchingThreshold:  ptrFloat64(c.GetMatchingThreshold()),
		Budget:             ptrInt(c.GetBudget()),
		MinConfidence:      ptrFloat64(c.GetMinConfidence()),
		NMSMaxOverlap:      ptrFloat64(c.GetNMSMaxOverlap()),
		MinDetectionHeight: ptrFloat64(c.GetMinDetectionHeight()),
		EvalIoUThreshold:   ptrFloat64(c.GetEvalIoUThreshold()),
		PatchSize:          ptrInt(c.GetPatchSize()),
		Coefficients:       ptrInt(c.GetCoefficients()),
	}
}

// LoadTrackingConfig loads and validates a TrackingConfig from a JSON file.
// Partial files are fine.
func LoadTrackingConfig(path string) (*TrackingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, errors.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat config file")
	}
	if fileInfo.Size() > maxFileSize {
		return nil, errors.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := EmptyTrackingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config JSON")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. Panics when the file cannot be found, intended for tests.
func MustLoadDefaultConfig() *TrackingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTrackingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the set fields and the tracker and pipeline configs built
// from them.
func (c *TrackingConfig) Validate() error {
	if err := c.TrackerConfig().Validate(); err != nil {
		return err
	}
	if err := c.PipelineConfig().Validate(); err != nil {
		return err
	}
	if v := c.GetEvalIoUThreshold(); v <= 0 || v > 1 {
		return errors.Errorf("eval_iou_threshold must be in (0, 1], got %v", v)
	}
	if v := c.GetPatchSize(); v < 2 || v&(v-1) != 0 {
		return errors.Errorf("patch_size must be a power of two of at least 2, got %d", v)
	}
	if v := c.GetCoefficients(); v < 1 || v > 3*c.GetPatchSize()*c.GetPatchSize() {
		return errors.Errorf("coefficients must be in [1, 3*patch_size^2], got %d", v)
	}
	return nil
}

func (c *TrackingConfig) GetMaxAge() int {
	if c.MaxAge == nil {
		return deeptrack.BaseConfig.MaxAge
	}
	return *c.MaxAge
}

func (c *TrackingConfig) GetNInit() int {
	if c.NInit == nil {
		return deeptrack.BaseConfig.NInit
	}
	return *c.NInit
}

func (c *TrackingConfig) GetMaxIoUDistance() float64 {
	if c.MaxIoUDistance == nil {
		return deeptrack.BaseConfig.MaxIoUDistance
	}
	return *c.MaxIoUDistance
}

func (c *TrackingConfig) GetMatchingThreshold() float64 {
	if c.MatchingThreshold == nil {
		return deeptrack.BaseConfig.MatchingThreshold
	}
	return *c.MatchingThreshold
}

func (c *TrackingConfig) GetBudget() int {
	if c.Budget == nil {
		return deeptrack.BaseConfig.Budget
	}
	return *c.Budget
}

func (c *TrackingConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return pipeline.BaseConfig.MinConfidence
	}
	return *c.MinConfidence
}

func (c *TrackingConfig) GetNMSMaxOverlap() float64 {
	if c.NMSMaxOverlap == nil {
		return pipeline.BaseConfig.NMSMaxOverlap
	}
	return *c.NMSMaxOverlap
}

func (c *TrackingConfig) GetMinDetectionHeight() float64 {
	if c.MinDetectionHeight == nil {
		return pipeline.BaseConfig.MinHeight
	}
	return *c.MinDetectionHeight
}

// GetEvalIoUThreshold is the overlap a reported track needs with a ground
// truth box to count as a true positive.
func (c *TrackingConfig) GetEvalIoUThreshold() float64 {
	if c.EvalIoUThreshold == nil {
		return 0.5
	}
	return *c.EvalIoUThreshold
}

// GetPatchSize is the side of the square patch each box is resampled to
// before the Haar transform.
func (c *TrackingConfig) GetPatchSize() int {
	if c.PatchSize == nil {
		return 32
	}
	return *c.PatchSize
}

// GetCoefficients is the embedding length produced by the Haar extractor.
func (c *TrackingConfig) GetCoefficients() int {
	if c.Coefficients == nil {
		return 64
	}
	return *c.Coefficients
}

func (c *TrackingConfig) TrackerConfig() deeptrack.Config {
	return deeptrack.Config{
		MaxAge:            c.GetMaxAge(),
		NInit:             c.GetNInit(),
		MaxIoUDistance:    c.GetMaxIoUDistance(),
		MatchingThreshold: c.GetMatchingThreshold(),
		Budget:            c.GetBudget(),
	}
}

func (c *TrackingConfig) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		MinConfidence: c.GetMinConfidence(),
		NMSMaxOverlap: c.GetNMSMaxOverlap(),
		MinHeight:     c.GetMinDetectionHeight(),
	}
}

// JSON returns the effective configuration with defaults filled in.
func (c *TrackingConfig) JSON() string {
	full := DefaultTrackingConfig()
	overlay, _ := json.Marshal(c)
	_ = json.Unmarshal(overlay, full)
	data, _ := json.Marshal(full)
	return string(data)
}
