package bow

import (
	"math"
	"sort"

	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/store"
)

// Candidate is one ranked target from a vocabulary query.
type Candidate struct {
	ID    store.TargetID
	Score float64
}

// FrameBoW quantises every descriptor of a frame independently
// through the tree.
func (db *Database) FrameBoW(frame cvprim.DescriptorMatrix) map[int]int {
	return db.Tree.QuantizeAll(frame)
}

// FrameWeighted re-weights a frame's BoW with the same scheme and
// corpus statistics (idf, avgDL) used for targets, so the result is
// directly comparable to a target's Weighted vector.
func (db *Database) FrameWeighted(frame cvprim.DescriptorMatrix) map[int]float64 {
	hist := db.FrameBoW(frame)
	return ComputeWeights(hist, db.IDF, frame.Rows, db.AvgDL, db.Weighting, db.BM25K1, db.BM25B)
}

// QueryCandidates ranks targets by cosine similarity between their
// stored weighted vector and the frame's weighted vector, returning
// the top maxCandidates. Ties are broken by the order
// targets appear in, matching insertion order stability required by
// determinism guarantee.
func (db *Database) QueryCandidates(frame cvprim.DescriptorMatrix, targets []*store.Target, maxCandidates int) []Candidate {
	query := db.FrameWeighted(frame)
	out := make([]Candidate, len(targets))
	for i, t := range targets {
		out[i] = Candidate{ID: t.ID, Score: cosineSimilarity(query, t.Weighted)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if maxCandidates < len(out) {
		out = out[:maxCandidates]
	}
	return out
}

// cosineSimilarity computes the cosine of the angle between two
// sparse weighted vectors, iterating only over the smaller map's
// keys.
func cosineSimilarity(a, b map[int]float64) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	var dot, normA, normB float64
	for w, va := range a {
		normA += va * va
		if vb, ok := b[w]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
