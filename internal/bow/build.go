package bow

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/arengine/arengine/config"
	"github.com/arengine/arengine/errors"
	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/geom"
	"github.com/arengine/arengine/store"
)

// SchemaVersion is the on-disk database schema's database_version
//; bumped whenever the serialized shape changes.
const SchemaVersion = "1.0.0"

// BuildTarget is one reference image's extracted features, the input
// to Builder.Build before BoW weighting and storage.
type BuildTarget struct {
	ID          store.TargetID
	Keypoints   []cvprim.KeyPoint
	Descriptors cvprim.DescriptorMatrix
	Width       int
	Height      int
}

// Metadata is the exportable build summary.
type Metadata struct {
	V               int
	K               int
	L               int
	DescriptorType  cvprim.DescriptorType
	DescriptorBytes int
	SchemaVersion   string
	ConfigSignature string
	CreatedAt       string
}

// Database is C3's build output: the vocabulary tree, IDF table, and
// the weighting scheme targets/queries must share.
// Per-target BoW/weighted vectors live on the Store; Database only carries what queries
// need beyond a single target (the tree and the corpus-wide IDF/AvgDL).
type Database struct {
	Metadata Metadata
	Tree     *Tree
	IDF      []float64
	AvgDL    float64
	Weighting config.WeightScheme
	BM25K1    float64
	BM25B     float64
}

// Builder runs the offline vocabulary build.
type Builder struct {
	Seed int64
}

func NewBuilder(seed int64) *Builder { return &Builder{Seed: seed} }

func descriptorType(d config.DescriptorType) cvprim.DescriptorType {
	if d == config.DescriptorFloat {
		return cvprim.Float
	}
	return cvprim.Binary
}

// Build clusters the union of targets' descriptors into a hierarchical
// vocabulary tree, computes IDF and per-target BoW/weighted vectors,
// stores the resulting targets in tgtStore, and returns the built
// Database. progress may be nil (defaults to NoopProgress).
func (b *Builder) Build(targets []BuildTarget, cfg config.BuildConfig, tgtStore *store.Store, progress ProgressSink) (*Database, error) {
	if progress == nil {
		progress = NoopProgress{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.InvalidInput, "bow.Build", err)
	}
	if len(targets) == 0 {
		return nil, errors.New(errors.NoDescriptors, "bow.Build", "no targets supplied")
	}

	wantType := descriptorType(cfg.Detector.DescriptorType)
	total := 0
	for _, t := range targets {
		if len(t.Keypoints) != t.Descriptors.Rows {
			return nil, errors.New(errors.InvalidInput, "bow.Build", "target keypoint/descriptor parity violated")
		}
		if t.Descriptors.Rows > 0 && t.Descriptors.Type != wantType {
			// Open Question (a): one descriptor type per build.
			return nil, errors.New(errors.InvalidInput, "bow.Build", "mixed descriptor types within one build")
		}
		total += t.Descriptors.Rows
	}
	if total == 0 {
		return nil, errors.New(errors.NoDescriptors, "bow.Build", "target descriptor pool is empty")
	}

	pool := samplePool(targets, cfg.SampleCap, b.Seed, wantType)

	k, l := AdaptiveSizing(total)
	if v := intPow(k, l); v > cfg.MaxVocabWords {
		for l > 2 && intPow(k, l) > cfg.MaxVocabWords {
			l--
		}
	}

	root := buildTree(pool, 0, k, l, nil, progress)
	v := AssignWordOffsets(root)
	tree := &Tree{Root: root, V: v, K: k, L: l, DescriptorType: wantType}

	bows := make(map[store.TargetID]map[int]int, len(targets))
	for _, t := range targets {
		bows[t.ID] = tree.QuantizeAll(t.Descriptors)
	}

	df := make([]int, v)
	for _, hist := range bows {
		for w := range hist {
			df[w]++
		}
	}
	n := len(targets)
	idf := make([]float64, v)
	for w := 0; w < v; w++ {
		idf[w] = math.Log(float64(n+1) / float64(df[w]+1))
	}

	avgDL := averageDocLen(targets)

	for _, t := range targets {
		corners := [4]geom.Point{
			{X: 0, Y: 0},
			{X: float64(t.Width), Y: 0},
			{X: float64(t.Width), Y: float64(t.Height)},
			{X: 0, Y: float64(t.Height)},
		}
		if err := tgtStore.Add(t.ID, t.Keypoints, t.Descriptors, corners, t.Width, t.Height); err != nil {
			return nil, errors.Wrap(errors.InvalidInput, "bow.Build", err)
		}
		hist := bows[t.ID]
		weighted := ComputeWeights(hist, idf, len(t.Keypoints), avgDL, cfg.Weighting, cfg.BM25K1, cfg.BM25B)
		if err := tgtStore.SetWeights(t.ID, hist, weighted); err != nil {
			return nil, errors.Wrap(errors.InvalidInput, "bow.Build", err)
		}
	}

	meta := Metadata{
		V:               v,
		K:               k,
		L:               l,
		DescriptorType:  wantType,
		DescriptorBytes: pool.Cols,
		SchemaVersion:   SchemaVersion,
		ConfigSignature: cfg.Signature(),
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
	}

	return &Database{
		Metadata:  meta,
		Tree:      tree,
		IDF:       idf,
		AvgDL:     avgDL,
		Weighting: cfg.Weighting,
		BM25K1:    cfg.BM25K1,
		BM25B:     cfg.BM25B,
	}, nil
}

// ComputeWeights applies TF-IDF or BM25 formula to a raw
// BoW histogram. Both targets and frame queries call this with the
// same scheme and idf/avgDL so their vectors are comparable.
func ComputeWeights(hist map[int]int, idf []float64, nFeatures int, avgDL float64, scheme config.WeightScheme, k1, b float64) map[int]float64 {
	out := make(map[int]float64, len(hist))
	if nFeatures == 0 {
		return out
	}
	for w, c := range hist {
		if w >= len(idf) {
			continue
		}
		if scheme == config.WeightBM25 {
			denom := float64(c) + k1*(1-b+b*float64(nFeatures)/avgDL)
			out[w] = idf[w] * (float64(c) * (k1 + 1)) / denom
		} else {
			tf := float64(c) / float64(nFeatures)
			out[w] = tf * idf[w]
		}
	}
	return out
}

// averageDocLen is BM25's avgDL term: the mean reference-
// target keypoint count, via gonum/stat.Mean rather than a hand-rolled
// running sum.
func averageDocLen(targets []BuildTarget) float64 {
	if len(targets) == 0 {
		return 1
	}
	lens := make([]float64, len(targets))
	for i, t := range targets {
		lens[i] = float64(len(t.Keypoints))
	}
	avg := stat.Mean(lens, nil)
	if avg == 0 {
		return 1
	}
	return avg
}

// samplePool draws up to cap descriptors uniformly without
// replacement from the union of all targets' descriptor rows, using
// an injected seed so the sample -- and therefore the resulting tree
// -- is reproducible given identical input.
func samplePool(targets []BuildTarget, sampleCap int, seed int64, typ cvprim.DescriptorType) cvprim.DescriptorMatrix {
	type ref struct {
		t, i int
	}
	var all []ref
	cols := 0
	for ti, t := range targets {
		if t.Descriptors.Rows > 0 {
			cols = t.Descriptors.Cols
		}
		for i := 0; i < t.Descriptors.Rows; i++ {
			all = append(all, ref{ti, i})
		}
	}

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9E3779B97F4A7C15))
	// Fisher-Yates partial shuffle selects a uniform sample without
	// replacement in O(n) without building a second array.
	n := len(all)
	limit := sampleCap
	if limit > n {
		limit = n
	}
	for i := 0; i < limit; i++ {
		j := i + rng.IntN(n-i)
		all[i], all[j] = all[j], all[i]
	}
	sample := all[:limit]

	out := cvprim.NewDescriptorMatrix(typ, limit, cols)
	for i, r := range sample {
		src := targets[r.t].Descriptors
		if typ == cvprim.Float {
			out.SetRowFloat(i, src.RowFloat(r.i))
		} else {
			copy(out.Row(i), src.Row(r.i))
		}
	}
	return out
}
