// Package config groups the fixed, validated configuration records
// for the build pipeline and runtime engine: one record per concern,
// loaded from YAML via gopkg.in/yaml.v3, validated once at
// construction time.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DescriptorType names the element type of a build's feature
// descriptors. Exactly one type is used per build; mixing binary and float descriptors in one build is
// rejected by the vocabulary builder (bow.Builder.Build).
type DescriptorType string

const (
	DescriptorBinary DescriptorType = "binary"
	DescriptorFloat  DescriptorType = "float"
)

// WeightScheme selects the BoW weighting formula; targets and queries
// must agree on this value within one database.
type WeightScheme string

const (
	WeightTFIDF WeightScheme = "tfidf"
	WeightBM25  WeightScheme = "bm25"
)

// PreprocessConfig configures FeatureExtractor's grayscale -> blur ->
// CLAHE chain.
type PreprocessConfig struct {
	Blur       bool    `yaml:"blur"`
	BlurKernel int     `yaml:"blur_kernel"`
	BlurSigma  float64 `yaml:"blur_sigma"`
	CLAHE      bool    `yaml:"clahe"`
	CLAHEClip  float64 `yaml:"clahe_clip"`
	CLAHETile  int     `yaml:"clahe_tile"`
}

// DefaultPreprocessConfig returns the no-op-safe default: blur on with
// a small 3x3 kernel, CLAHE off.
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		Blur:       true,
		BlurKernel: 3,
		BlurSigma:  0,
		CLAHE:      false,
		CLAHEClip:  2.0,
		CLAHETile:  8,
	}
}

// Validate checks the field constraints a preprocessing config must
// satisfy (odd kernel >= 3 when blur is enabled).
func (c PreprocessConfig) Validate() error {
	if c.Blur {
		if c.BlurKernel < 3 || c.BlurKernel%2 == 0 {
			return fmt.Errorf("preprocess: blur_kernel must be odd and >= 3, got %d", c.BlurKernel)
		}
		if c.BlurSigma < 0 {
			return fmt.Errorf("preprocess: blur_sigma must be >= 0, got %f", c.BlurSigma)
		}
	}
	if c.CLAHE {
		if c.CLAHEClip <= 0 {
			return fmt.Errorf("preprocess: clahe_clip must be > 0, got %f", c.CLAHEClip)
		}
		if c.CLAHETile < 1 {
			return fmt.Errorf("preprocess: clahe_tile must be >= 1, got %d", c.CLAHETile)
		}
	}
	return nil
}

// DetectorConfig configures the injected feature detector. MaxFeatures caps keypoints to the top-response N; DetectorName
// and Params pass through to the injected cvprim.Detector, which this
// package does not interpret.
type DetectorConfig struct {
	DetectorName   string            `yaml:"detector"`
	DescriptorType DescriptorType    `yaml:"descriptor_type"`
	MaxFeatures    int               `yaml:"max_features"`
	Params         map[string]string `yaml:"params"`
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		DetectorName:   "brisk",
		DescriptorType: DescriptorBinary,
		MaxFeatures:    500,
	}
}

func (c DetectorConfig) Validate() error {
	if c.DetectorName == "" {
		return fmt.Errorf("detector: name must not be empty")
	}
	if c.DescriptorType != DescriptorBinary && c.DescriptorType != DescriptorFloat {
		return fmt.Errorf("detector: unknown descriptor_type %q", c.DescriptorType)
	}
	if c.MaxFeatures <= 0 {
		return fmt.Errorf("detector: max_features must be > 0, got %d", c.MaxFeatures)
	}
	return nil
}

// BuildConfig groups vocabulary-builder parameters. It carries no
// branching factor or depth: VocabularyBuilder derives K and L from the
// target corpus size, and MaxVocabWords bounds the resulting depth.
type BuildConfig struct {
	Detector      DetectorConfig   `yaml:"detector"`
	Preprocess    PreprocessConfig `yaml:"preprocess"`
	Weighting     WeightScheme     `yaml:"weighting"`
	BM25K1        float64          `yaml:"bm25_k1"`
	BM25B         float64          `yaml:"bm25_b"`
	SampleCap     int              `yaml:"sample_cap"`
	MaxVocabWords int              `yaml:"max_vocab_words"`
	Seed          int64            `yaml:"seed"`
}

func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		Detector:      DefaultDetectorConfig(),
		Preprocess:    DefaultPreprocessConfig(),
		Weighting:     WeightBM25,
		BM25K1:        1.2,
		BM25B:         0.75,
		SampleCap:     10000,
		MaxVocabWords: 10000,
		Seed:          1,
	}
}

func (c BuildConfig) Validate() error {
	if err := c.Detector.Validate(); err != nil {
		return err
	}
	if err := c.Preprocess.Validate(); err != nil {
		return err
	}
	if c.Weighting != WeightTFIDF && c.Weighting != WeightBM25 {
		return fmt.Errorf("build: unknown weighting scheme %q", c.Weighting)
	}
	if c.Weighting == WeightBM25 {
		if c.BM25K1 <= 0 {
			return fmt.Errorf("build: bm25_k1 must be > 0, got %f", c.BM25K1)
		}
		if c.BM25B < 0 || c.BM25B > 1 {
			return fmt.Errorf("build: bm25_b must be within [0,1], got %f", c.BM25B)
		}
	}
	if c.SampleCap <= 0 {
		return fmt.Errorf("build: sample_cap must be > 0, got %d", c.SampleCap)
	}
	if c.MaxVocabWords < 64 {
		return fmt.Errorf("build: max_vocab_words must be >= 64, got %d", c.MaxVocabWords)
	}
	return nil
}

// EngineConfig configures the online Engine.
type EngineConfig struct {
	UseOpticalFlow      bool    `yaml:"use_optical_flow"`
	DetectionInterval   int     `yaml:"detection_interval"`
	MaxFeatures         int     `yaml:"max_features"`
	MaxTrackingPoints   int     `yaml:"max_tracking_points"`
	MatchRatioThreshold float64 `yaml:"match_ratio_threshold"`
	RansacIterations    int     `yaml:"ransac_iterations"`
	RansacThreshold     float64 `yaml:"ransac_threshold"`
	EnableProfiling     bool    `yaml:"enable_profiling"`
	MaxCandidates       int     `yaml:"max_candidates"`
	MaxResults          int     `yaml:"max_results"`
	MinInliers          int     `yaml:"min_inliers"`
	MaxNoDetect         int     `yaml:"max_no_detect"`
	FBThreshold         float64 `yaml:"fb_threshold"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		UseOpticalFlow:      true,
		DetectionInterval:   5,
		MaxFeatures:         500,
		MaxTrackingPoints:   100,
		MatchRatioThreshold: 0.7,
		RansacIterations:    2000,
		RansacThreshold:     3.0,
		EnableProfiling:     false,
		MaxCandidates:       5,
		MaxResults:          5,
		MinInliers:          10,
		MaxNoDetect:         10,
		FBThreshold:         1.0,
	}
}

func (c EngineConfig) Validate() error {
	if c.DetectionInterval <= 0 {
		return fmt.Errorf("engine: detection_interval must be > 0, got %d", c.DetectionInterval)
	}
	if c.MaxFeatures <= 0 {
		return fmt.Errorf("engine: max_features must be > 0, got %d", c.MaxFeatures)
	}
	if c.MaxTrackingPoints <= 0 {
		return fmt.Errorf("engine: max_tracking_points must be > 0, got %d", c.MaxTrackingPoints)
	}
	if c.MatchRatioThreshold <= 0 || c.MatchRatioThreshold >= 1 {
		return fmt.Errorf("engine: match_ratio_threshold must be within (0,1), got %f", c.MatchRatioThreshold)
	}
	if c.RansacIterations <= 0 {
		return fmt.Errorf("engine: ransac_iterations must be > 0, got %d", c.RansacIterations)
	}
	if c.RansacThreshold <= 0 {
		return fmt.Errorf("engine: ransac_threshold must be > 0, got %f", c.RansacThreshold)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("engine: max_candidates must be > 0, got %d", c.MaxCandidates)
	}
	if c.MaxResults <= 0 {
		return fmt.Errorf("engine: max_results must be > 0, got %d", c.MaxResults)
	}
	if c.MinInliers <= 0 {
		return fmt.Errorf("engine: min_inliers must be > 0, got %d", c.MinInliers)
	}
	if c.MaxNoDetect <= 0 {
		return fmt.Errorf("engine: max_no_detect must be > 0, got %d", c.MaxNoDetect)
	}
	if c.FBThreshold <= 0 {
		return fmt.Errorf("engine: fb_threshold must be > 0, got %f", c.FBThreshold)
	}
	return nil
}

// LoadBuildConfig reads and validates a BuildConfig from a YAML file:
// load a yaml-defined config and validate it before use. Unknown keys
// are rejected via strict decoding.
func LoadBuildConfig(path string) (BuildConfig, error) {
	cfg := DefaultBuildConfig()
	if err := decodeStrict(path, &cfg); err != nil {
		return BuildConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return BuildConfig{}, err
	}
	return cfg, nil
}

// LoadEngineConfig reads and validates an EngineConfig from a YAML file.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if err := decodeStrict(path, &cfg); err != nil {
		return EngineConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// Signature returns a stable hash over every field that affects
// descriptors or the vocabulary (detector name/params, descriptor
// type, branching factor inputs, weighting scheme): any mismatch
// between stored and current signatures forces a rebuild. Joins a
// canonical field representation and SHA256-hashes it.
func (c BuildConfig) Signature() string {
	var b strings.Builder
	fmt.Fprintf(&b, "detector=%s|descriptor_type=%s|max_features=%d|", c.Detector.DetectorName, c.Detector.DescriptorType, c.Detector.MaxFeatures)

	keys := make([]string, 0, len(c.Detector.Params))
	for k := range c.Detector.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "param.%s=%s|", k, c.Detector.Params[k])
	}

	fmt.Fprintf(&b, "weighting=%s|bm25_k1=%f|bm25_b=%f|sample_cap=%d|max_vocab_words=%d|", c.Weighting, c.BM25K1, c.BM25B, c.SampleCap, c.MaxVocabWords)
	fmt.Fprintf(&b, "blur=%t|blur_kernel=%d|blur_sigma=%f|clahe=%t|clahe_clip=%f|clahe_tile=%d",
		c.Preprocess.Blur, c.Preprocess.BlurKernel, c.Preprocess.BlurSigma, c.Preprocess.CLAHE, c.Preprocess.CLAHEClip, c.Preprocess.CLAHETile)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func decodeStrict(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}
