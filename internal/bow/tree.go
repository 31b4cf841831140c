// Package bow implements C3 (VocabularyBuilder) and C4
// (VocabularyQuery): an offline hierarchical k-means vocabulary tree
// over binary or float descriptors, BM25/TF-IDF weighting, and online
// quantisation/ranking.
//
// Grounded on other_examples' golucene postings/term-weighting file
// for the BM25/TF-IDF formulas and sparse term-weight map shape, with
// a named, table-driven scoring scheme chosen by a config flag
// (the TF-IDF vs. BM25 selector). No example repo or pack
// dependency implements hierarchical k-means/vocabulary trees, so the
// clustering and tree machinery is hand-written on the standard
// library (math, sort); gonum/stat is used only for the mean
// reductions (float-descriptor centroids and BM25's avgDL).
package bow

import (
	"github.com/arengine/arengine/internal/cvprim"
)

// WordID is a global, contiguous vocabulary word index in [0, V).
type WordID int

// Node is one vocabulary-tree node: k cluster centers, and either a
// set of child nodes (internal) or a contiguous leaf word-id range
// (leaf). Represented as a pointer tree (each parent holds its *Node
// children directly), not as an index-based arena: the tree owns its
// centers; there is no separate mutable flat list aliasing them. On an
// internal node, Centers row i belongs to Children[i].
type Node struct {
	Level      int
	IsLeaf     bool
	Centers    cvprim.DescriptorMatrix // k (or fewer) cluster centers
	Children   []*Node                 // nil when IsLeaf
	WordOffset int                     // leaves only: first global word-id
}

// Tree is the full vocabulary tree plus its derived size.
type Tree struct {
	Root           *Node
	V              int // total vocabulary words (sum of leaf center counts)
	K              int
	L              int
	DescriptorType cvprim.DescriptorType
}

// AssignWordOffsets walks the tree in pre-order and assigns each
// leaf a contiguous word-id range: pre-order traversal yields exactly
// V leaf centers with strictly increasing offsets and no gaps.
func AssignWordOffsets(root *Node) int {
	offset := 0
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.IsLeaf {
			n.WordOffset = offset
			offset += n.Centers.Rows
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return offset
}

// Quantize traverses from the root, at each internal node picking the
// child whose center minimizes distance to the query descriptor
// (query row qi of m), recursing into that child, and at a leaf
// picking the local center with minimum distance; it returns
// wordOffset + localIndex.
func (t *Tree) Quantize(m cvprim.DescriptorMatrix, qi int) WordID {
	n := t.Root
	for !n.IsLeaf {
		best := -1
		bestDist := 0.0
		for i := 0; i < n.Centers.Rows; i++ {
			d := cvprim.RowDistance(m, qi, n.Centers, i)
			if best == -1 || d < bestDist {
				best = i
				bestDist = d
			}
		}
		n = n.Children[best]
	}
	best := -1
	bestDist := 0.0
	for i := 0; i < n.Centers.Rows; i++ {
		d := cvprim.RowDistance(m, qi, n.Centers, i)
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return WordID(n.WordOffset + best)
}

// QuantizeAll quantises every row of m, returning a word-id ->
// occurrence count histogram (a BoW, ).
func (t *Tree) QuantizeAll(m cvprim.DescriptorMatrix) map[int]int {
	hist := make(map[int]int)
	for i := 0; i < m.Rows; i++ {
		w := int(t.Quantize(m, i))
		hist[w]++
	}
	return hist
}
