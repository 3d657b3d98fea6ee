package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ugparu/GoDeepTrack/deeptrack"
	"github.com/ugparu/GoDeepTrack/pipeline"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsFileMatchesGetters(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	if diff := cmp.Diff(DefaultTrackingConfig(), cfg); diff != "" {
		t.Fatalf("defaults file differs from getters (-getters +file):\n%s", diff)
	}
	require.Equal(t, deeptrack.BaseConfig, cfg.TrackerConfig())
	require.Equal(t, pipeline.BaseConfig, cfg.PipelineConfig())
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := EmptyTrackingConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, deeptrack.BaseConfig, cfg.TrackerConfig())
	require.Equal(t, 0.5, cfg.GetEvalIoUThreshold())
	require.Equal(t, 32, cfg.GetPatchSize())
	require.Equal(t, 64, cfg.GetCoefficients())
}

func TestLoadTrackingConfigPartial(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"max_age": 5, "max_cosine_distance": 0.3, "min_confidence": 0.5}`)

	cfg, err := LoadTrackingConfig(path)
	require.NoError(t, err)

	tracker := cfg.TrackerConfig()
	require.Equal(t, 5, tracker.MaxAge)
	require.Equal(t, 0.3, tracker.MatchingThreshold)
	require.Equal(t, deeptrack.BaseConfig.NInit, tracker.NInit)
	require.Equal(t, 0.5, cfg.PipelineConfig().MinConfidence)

	effective := cfg.JSON()
	require.EqualValues(t, 5, gjson.Get(effective, "max_age").Int())
	require.EqualValues(t, 100, gjson.Get(effective, "nn_budget").Int())
}

func TestLoadTrackingConfigErrors(t *testing.T) {
	_, err := LoadTrackingConfig(writeConfig(t, "config.yaml", "max_age: 3"))
	require.ErrorContains(t, err, ".json extension")

	_, err = LoadTrackingConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorContains(t, err, "stat")

	_, err = LoadTrackingConfig(writeConfig(t, "broken.json", `{"max_age": `))
	require.ErrorContains(t, err, "parse")

	_, err = LoadTrackingConfig(writeConfig(t, "bad_age.json", `{"max_age": 0}`))
	require.ErrorIs(t, err, deeptrack.ErrInvalidConfig)

	_, err = LoadTrackingConfig(writeConfig(t, "bad_nms.json", `{"nms_max_overlap": -1}`))
	require.ErrorIs(t, err, pipeline.ErrInvalidConfig)

	_, err = LoadTrackingConfig(writeConfig(t, "bad_patch.json", `{"patch_size": 12}`))
	require.ErrorContains(t, err, "patch_size")

	_, err = LoadTrackingConfig(writeConfig(t, "bad_coeffs.json", `{"patch_size": 4, "coefficients": 49}`))
	require.ErrorContains(t, err, "coefficients")

	_, err = LoadTrackingConfig(writeConfig(t, "bad_eval.json", `{"eval_iou_threshold": 0}`))
	require.ErrorContains(t, err, "eval_iou_threshold")
}
