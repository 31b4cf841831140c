// Package extract implements C2, FeatureExtractor: preprocess a frame
// (grayscale -> blur? -> CLAHE?) and detect keypoints + descriptors,
// capped to the top-response N.
//
// Grounded on other_examples' feature_extraction.go/feature_pipeline.go
// and vision-pipeline.go for the preprocess-then-detect pipeline
// shape, and deepteams-webp's internal/dsp for the ordered-named-steps
// transform chain idiom, generalized here from codec filters to CV
// preprocessing. The detector/blur/CLAHE primitives themselves are
// out of scope and are consumed through the injected cvprim
// interfaces as externally-supplied data rather than reimplemented
// in-repo.
package extract

import (
	"sort"

	"github.com/arengine/arengine/config"
	"github.com/arengine/arengine/errors"
	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/memorypool"
)

// Extractor wires an injected detector and image-primitive set to a
// preprocessing/detection config.
type Extractor struct {
	Images   cvprim.ImagePrimitives
	Detector cvprim.Detector
}

// New builds an Extractor over the given injected primitives.
func New(images cvprim.ImagePrimitives, detector cvprim.Detector) *Extractor {
	return &Extractor{Images: images, Detector: detector}
}

// step is one named stage of the preprocessing chain, mirroring
// internal/dsp's ordered transform-chain shape.
type step struct {
	name string
	fn   func(memorypool.Frame) (memorypool.Frame, error)
}

// Preprocess runs grayscale -> (blur?) -> (clahe?) over src, returning
// the final grayscale frame.
func (e *Extractor) Preprocess(src memorypool.Frame, cfg config.PreprocessConfig) (memorypool.Frame, error) {
	gray, err := e.Images.ToGray(src)
	if err != nil {
		return memorypool.Frame{}, errors.Wrap(errors.InvalidInput, "extract.Preprocess", err)
	}

	var steps []step
	if cfg.Blur {
		steps = append(steps, step{"blur", func(g memorypool.Frame) (memorypool.Frame, error) {
			return e.Images.GaussianBlur(g, cfg.BlurKernel, cfg.BlurSigma)
		}})
	}
	if cfg.CLAHE {
		steps = append(steps, step{"clahe", func(g memorypool.Frame) (memorypool.Frame, error) {
			return e.Images.CLAHE(g, cfg.CLAHEClip, cfg.CLAHETile)
		}})
	}
	for _, s := range steps {
		gray, err = s.fn(gray)
		if err != nil {
			return memorypool.Frame{}, errors.Wrap(errors.InvalidInput, "extract.Preprocess."+s.name, err)
		}
	}
	return gray, nil
}

// Extract runs the full pipeline: preprocess, detect+compute, and cap
// to the top-maxFeatures keypoints by descending response with a
// stable tiebreak on detection order. Fails with
// errors.NoFeatures if the detector returns zero keypoints.
func (e *Extractor) Extract(src memorypool.Frame, pre config.PreprocessConfig, maxFeatures int) ([]cvprim.KeyPoint, cvprim.DescriptorMatrix, error) {
	gray, err := e.Preprocess(src, pre)
	if err != nil {
		return nil, cvprim.DescriptorMatrix{}, err
	}

	kps, desc, err := e.Detector.DetectAndCompute(gray)
	if err != nil {
		return nil, cvprim.DescriptorMatrix{}, errors.Wrap(errors.NoFeatures, "extract.Extract", err)
	}
	if len(kps) == 0 {
		return nil, cvprim.DescriptorMatrix{}, errors.New(errors.NoFeatures, "extract.Extract", "detector produced zero keypoints")
	}

	outKps, outDesc := capToTopResponse(kps, desc, maxFeatures)
	return outKps, outDesc, nil
}

// capToTopResponse keeps the top min(maxFeatures, len(kps)) keypoints
// by descending response, truncating the descriptor matrix in
// lockstep).
func capToTopResponse(kps []cvprim.KeyPoint, desc cvprim.DescriptorMatrix, maxFeatures int) ([]cvprim.KeyPoint, cvprim.DescriptorMatrix) {
	n := len(kps)
	if maxFeatures <= 0 || maxFeatures >= n {
		return kps, desc
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	// Stable sort on descending response preserves detection order for
	// ties.
	sort.SliceStable(order, func(a, b int) bool { return kps[order[a]].Response > kps[order[b]].Response })
	keep := order[:maxFeatures]

	out := make([]cvprim.KeyPoint, maxFeatures)
	reordered := cvprim.NewDescriptorMatrix(desc.Type, maxFeatures, desc.Cols)
	for i, idx := range keep {
		out[i] = kps[idx]
		if desc.Type == cvprim.Float {
			reordered.SetRowFloat(i, desc.RowFloat(idx))
		} else {
			copy(reordered.Row(i), desc.Row(idx))
		}
	}
	return out, reordered
}
