package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigs_Valid(t *testing.T) {
	assert.NoError(t, DefaultPreprocessConfig().Validate())
	assert.NoError(t, DefaultDetectorConfig().Validate())
	assert.NoError(t, DefaultBuildConfig().Validate())
	assert.NoError(t, DefaultEngineConfig().Validate())
}

func TestPreprocessConfig_Validate_RejectsEvenBlurKernel(t *testing.T) {
	cfg := DefaultPreprocessConfig()
	cfg.BlurKernel = 4
	assert.Error(t, cfg.Validate())
}

func TestPreprocessConfig_Validate_RejectsNonPositiveCLAHEClip(t *testing.T) {
	cfg := DefaultPreprocessConfig()
	cfg.CLAHE = true
	cfg.CLAHEClip = 0
	assert.Error(t, cfg.Validate())
}

func TestBuildConfig_Validate_RejectsUnknownWeighting(t *testing.T) {
	cfg := DefaultBuildConfig()
	cfg.Weighting = "unknown"
	assert.Error(t, cfg.Validate())
}

func TestBuildConfig_Validate_RejectsTinyVocabulary(t *testing.T) {
	cfg := DefaultBuildConfig()
	cfg.MaxVocabWords = 10
	assert.Error(t, cfg.Validate())
}

func TestEngineConfig_Validate_RejectsNonPositiveDetectionInterval(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.DetectionInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestEngineConfig_Validate_RejectsRatioThresholdOutOfRange(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MatchRatioThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestBuildConfig_Signature_StableAndSensitiveToDetectorParams(t *testing.T) {
	a := DefaultBuildConfig()
	b := DefaultBuildConfig()
	assert.Equal(t, a.Signature(), b.Signature(), "identical configs must hash identically")

	b.Detector.MaxFeatures = a.Detector.MaxFeatures + 1
	assert.NotEqual(t, a.Signature(), b.Signature(), "changing a build-critical field must change the signature")

	c := DefaultBuildConfig()
	c.Detector.Params = map[string]string{"threshold": "30"}
	assert.NotEqual(t, a.Signature(), c.Signature(), "detector params participate in the signature")
}

func TestLoadBuildConfig_RejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_vocab_words: 5000\nnot_a_real_field: 1\n"), 0o644))

	_, err := LoadBuildConfig(path)
	assert.Error(t, err, "strict decoding must reject unknown keys")
}

func TestLoadBuildConfig_OverridesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_vocab_words: 5000\nseed: 7\n"), 0o644))

	cfg, err := LoadBuildConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.MaxVocabWords)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, DefaultBuildConfig().Weighting, cfg.Weighting, "fields absent from the file keep their default")
}
