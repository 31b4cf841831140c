package bow

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/arengine/arengine/internal/cvprim"
)

// ProgressSink is the cooperative yield point for long-running builds
// (yielding is logical, not preemptive): it surfaces intermediate
// clustering state without blocking the caller.
type ProgressSink interface {
	OnIteration(path []int, iter, changed int)
}

// NoopProgress discards progress notifications.
type NoopProgress struct{}

func (NoopProgress) OnIteration([]int, int, int) {}

const (
	maxIterInternal = 20
	maxIterLeaf     = 15
)

// kmeansResult holds one clustering pass's centers and per-row
// assignment.
type kmeansResult struct {
	centers cvprim.DescriptorMatrix
	assign  []int
}

// runKMeans clusters the rows of data into min(k, data.Rows) centers,
// implementing binary-Hamming/majority-vote and
// float-Euclidean/mean update rules and its termination law: stop
// when fewer than max(1, floor(0.001*n)) assignments change, or when
// the current iteration's change count is >= 95% of the previous
// iteration's after at least 5 iterations (diminishing returns), or
// at maxIter.
func runKMeans(data cvprim.DescriptorMatrix, k, maxIter int, path []int, progress ProgressSink) kmeansResult {
	n := data.Rows
	if k > n {
		k = n
	}
	centers := initCenters(data, k)
	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}

	minChange := maxInt(1, n/1000)
	prevChanged := -1

	for iter := 0; iter < maxIter; iter++ {
		changed := 0
		for i := 0; i < n; i++ {
			best := nearestCenter(data, i, centers)
			if best != assign[i] {
				changed++
				assign[i] = best
			}
		}
		progress.OnIteration(path, iter, changed)

		centers = updateCenters(data, assign, k)

		if changed < minChange {
			break
		}
		if iter >= 5 && prevChanged > 0 && float64(changed) >= 0.95*float64(prevChanged) {
			break
		}
		prevChanged = changed
	}

	return kmeansResult{centers: centers, assign: assign}
}

// initCenters deterministically seeds k centers by taking evenly
// spaced rows from data, so clustering (and therefore quantisation)
// is reproducible bit-for-bit given identical input.
func initCenters(data cvprim.DescriptorMatrix, k int) cvprim.DescriptorMatrix {
	centers := cvprim.NewDescriptorMatrix(data.Type, k, data.Cols)
	n := data.Rows
	for c := 0; c < k; c++ {
		idx := (c * n) / k
		if data.Type == cvprim.Float {
			centers.SetRowFloat(c, data.RowFloat(idx))
		} else {
			copy(centers.Row(c), data.Row(idx))
		}
	}
	return centers
}

func nearestCenter(data cvprim.DescriptorMatrix, i int, centers cvprim.DescriptorMatrix) int {
	best := 0
	bestDist := cvprim.RowDistance(data, i, centers, 0)
	for c := 1; c < centers.Rows; c++ {
		d := cvprim.RowDistance(data, i, centers, c)
		if d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

// updateCenters recomputes each cluster's center: bitwise majority
// vote (tie -> 0) for binary descriptors, arithmetic mean for float.
func updateCenters(data cvprim.DescriptorMatrix, assign []int, k int) cvprim.DescriptorMatrix {
	centers := cvprim.NewDescriptorMatrix(data.Type, k, data.Cols)
	if data.Type == cvprim.Float {
		// Arithmetic-mean centroid update ; column values
		// are gathered per cluster and reduced with gonum/stat.Mean
		// rather than a hand-rolled running sum.
		members := make([][]int, k)
		for i, c := range assign {
			if c >= 0 {
				members[c] = append(members[c], i)
			}
		}
		col := make([]float64, 0, len(members))
		for c := 0; c < k; c++ {
			idxs := members[c]
			if len(idxs) == 0 {
				continue
			}
			mean := make([]float64, data.Cols)
			for j := 0; j < data.Cols; j++ {
				col = col[:0]
				for _, i := range idxs {
					col = append(col, data.RowFloat(i)[j])
				}
				mean[j] = stat.Mean(col, nil)
			}
			centers.SetRowFloat(c, mean)
		}
		return centers
	}

	bitCounts := make([][]int, k)
	counts := make([]int, k)
	nBits := data.Cols * 8
	for c := range bitCounts {
		bitCounts[c] = make([]int, nBits)
	}
	for i, c := range assign {
		if c < 0 {
			continue
		}
		row := data.Row(i)
		counts[c]++
		for b := 0; b < nBits; b++ {
			if row[b/8]&(1<<uint(b%8)) != 0 {
				bitCounts[c][b]++
			}
		}
	}
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			continue
		}
		row := centers.Row(c)
		for b := 0; b < nBits; b++ {
			// Majority vote; ties (exactly half) resolve to 0.
			if bitCounts[c][b]*2 > counts[c] {
				row[b/8] |= 1 << uint(b%8)
			}
		}
	}
	return centers
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// buildTree recursively builds the hierarchical k-means tree from the
// sampled descriptor pool: a leaf once depth reaches L-1
// or fewer than k points remain, otherwise a k-way split recursed on
// each non-empty partition.
func buildTree(data cvprim.DescriptorMatrix, depth, k, l int, path []int, progress ProgressSink) *Node {
	n := data.Rows
	if depth >= l-1 || n < k {
		res := runKMeans(data, k, maxIterLeaf, path, progress)
		return &Node{Level: depth, IsLeaf: true, Centers: res.centers}
	}

	res := runKMeans(data, k, maxIterInternal, path, progress)
	nClusters := res.centers.Rows

	partitions := make([][]int, nClusters)
	for i, c := range res.assign {
		if c < 0 {
			continue
		}
		partitions[c] = append(partitions[c], i)
	}

	node := &Node{Level: depth, IsLeaf: false, Centers: res.centers}
	var kept []int
	for c := 0; c < nClusters; c++ {
		idxs := partitions[c]
		if len(idxs) == 0 {
			continue
		}
		kept = append(kept, c)
		sub := gatherRows(data, idxs)
		childPath := append(append([]int{}, path...), c)
		node.Children = append(node.Children, buildTree(sub, depth+1, k, l, childPath, progress))
	}
	// Keep only the centers of non-empty partitions, so Centers row i
	// always belongs to Children[i].
	if len(kept) > 0 && len(kept) < nClusters {
		node.Centers = gatherRows(res.centers, kept)
	}
	// An internal node with every partition empty degenerates into a
	// leaf over its own centers rather than a childless dead end.
	if len(node.Children) == 0 {
		node.IsLeaf = true
	}
	return node
}

func gatherRows(data cvprim.DescriptorMatrix, idxs []int) cvprim.DescriptorMatrix {
	out := cvprim.NewDescriptorMatrix(data.Type, len(idxs), data.Cols)
	for i, idx := range idxs {
		if data.Type == cvprim.Float {
			out.SetRowFloat(i, data.RowFloat(idx))
		} else {
			copy(out.Row(i), data.Row(idx))
		}
	}
	return out
}

// AdaptiveSizing derives (k, L) from the total descriptor count per
// table, then enforces V <= 0.15*total and V >= 64 and
// recomputes L from the bounded V. The per-bucket branching factor
// and starting depth come directly from the table; where the table
// allows a range ("L=2 or 3"), the higher depth is chosen, since a
// deeper tree is refined back down by the bound enforcement below if
// the corpus is too small to support it.
func AdaptiveSizing(total int) (k, l int) {
	var capV int
	switch {
	case total < 1000:
		k, l, capV = 10, 2, 100
	case total < 3000:
		k, l, capV = 8, 3, 0
	case total < 10000:
		k, l, capV = 8, 3, 0
	case total < 50000:
		k, l, capV = 10, 3, 0
	case total < 200000:
		k, l, capV = 10, 4, 8000
	default:
		k, l, capV = 10, 4, 10000
	}

	v := intPow(k, l)
	if capV > 0 && v > capV {
		v = capV
	}
	if maxV := int(0.15 * float64(total)); v > maxV {
		v = maxV
	}
	if v < 64 {
		v = 64
	}
	l = int(math.Log(float64(v)) / math.Log(float64(k)))
	if l < 2 {
		l = 2
	}
	return k, l
}

func intPow(base, exp int) int {
	out := 1
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
