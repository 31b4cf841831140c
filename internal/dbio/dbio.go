// Package dbio implements stable on-disk database serialization: a
// top-level {metadata, vocabulary, targets} document, JSON via
// encoding/json (stdlib -- no pack dependency offers a schema-stable
// JSON tree codec beyond it). The config signature (a hash over every
// build-critical field, computed by config.BuildConfig.Signature) is
// stored on export and compared on import.
package dbio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/arengine/arengine/config"
	"github.com/arengine/arengine/errors"
	"github.com/arengine/arengine/internal/bow"
	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/geom"
	"github.com/arengine/arengine/store"
)

// nodeDoc is vocabulary.tree's recursive node shape:
// {level, isLeaf, centers, children}. Centers are base64-encoded raw
// bytes for binary descriptors or packed little-endian float64s for
// float descriptors (internal/cvprim.DescriptorMatrix's own layout).
type nodeDoc struct {
	Level      int       `json:"level"`
	IsLeaf     bool      `json:"isLeaf"`
	WordOffset int       `json:"wordOffset,omitempty"`
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	Centers    string    `json:"centers"`
	Children   []nodeDoc `json:"children,omitempty"`
}

// metadataDoc mirrors bow.Metadata plus the stable database_version
// field and the weighting parameters queries need.
type metadataDoc struct {
	DatabaseVersion string `json:"database_version"`
	V               int    `json:"v"`
	K               int    `json:"k"`
	L               int    `json:"l"`
	DescriptorType  string `json:"descriptor_type"`
	DescriptorBytes int    `json:"descriptor_bytes"`
	SchemaVersion   string `json:"schema_version"`
	ConfigSignature string `json:"config_signature"`
	CreatedAt       string `json:"created_at"`
	Weighting       string `json:"weighting"`
	AvgDL           float64 `json:"avg_dl"`
	BM25K1          float64 `json:"bm25_k1"`
	BM25B           float64 `json:"bm25_b"`
}

type vocabularyDoc struct {
	Tree nodeDoc   `json:"tree"`
	IDF  []float64 `json:"idf"`
}

type targetDoc struct {
	ID          string             `json:"id"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	Keypoints   []keypointDoc      `json:"keypoints"`
	Descriptors string             `json:"descriptors"`
	DescRows    int                `json:"desc_rows"`
	DescCols    int                `json:"desc_cols"`
	Corners     [4][2]float64      `json:"corners"`
	BoW         map[string]int     `json:"bow"`
	BoWTFIDF    map[string]float64 `json:"bow_tfidf,omitempty"`
	BoWBM25     map[string]float64 `json:"bow_bm25,omitempty"`
}

type keypointDoc struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Response float64 `json:"response"`
	Size     float64 `json:"size"`
	Angle    float64 `json:"angle"`
	Octave   int     `json:"octave"`
}

// document is the top-level {metadata, vocabulary, targets} object.
type document struct {
	Metadata   metadataDoc   `json:"metadata"`
	Vocabulary vocabularyDoc `json:"vocabulary"`
	Targets    []targetDoc   `json:"targets"`
}

func encodeNode(n *bow.Node) nodeDoc {
	doc := nodeDoc{
		Level:      n.Level,
		IsLeaf:     n.IsLeaf,
		WordOffset: n.WordOffset,
		Rows:       n.Centers.Rows,
		Cols:       n.Centers.Cols,
		Centers:    base64.StdEncoding.EncodeToString(n.Centers.Data),
	}
	for _, c := range n.Children {
		doc.Children = append(doc.Children, encodeNode(c))
	}
	return doc
}

func decodeNode(doc nodeDoc, typ cvprim.DescriptorType) (*bow.Node, error) {
	raw, err := base64.StdEncoding.DecodeString(doc.Centers)
	if err != nil {
		return nil, fmt.Errorf("dbio: decode centers: %w", err)
	}
	n := &bow.Node{
		Level:      doc.Level,
		IsLeaf:     doc.IsLeaf,
		WordOffset: doc.WordOffset,
		Centers:    cvprim.DescriptorMatrix{Type: typ, Rows: doc.Rows, Cols: doc.Cols, Data: raw},
	}
	for _, c := range doc.Children {
		child, err := decodeNode(c, typ)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

func weightTypeName(w config.WeightScheme) string { return string(w) }

// Export serializes db and every target in tgtStore into the
// document shape and writes it to w.
func Export(w io.Writer, db *bow.Database, tgtStore *store.Store) error {
	doc := document{
		Metadata: metadataDoc{
			DatabaseVersion: db.Metadata.SchemaVersion,
			V:               db.Metadata.V,
			K:               db.Metadata.K,
			L:               db.Metadata.L,
			DescriptorType:  db.Metadata.DescriptorType.String(),
			DescriptorBytes: db.Metadata.DescriptorBytes,
			SchemaVersion:   db.Metadata.SchemaVersion,
			ConfigSignature: db.Metadata.ConfigSignature,
			CreatedAt:       db.Metadata.CreatedAt,
			Weighting:       weightTypeName(db.Weighting),
			AvgDL:           db.AvgDL,
			BM25K1:          db.BM25K1,
			BM25B:           db.BM25B,
		},
		Vocabulary: vocabularyDoc{
			Tree: encodeNode(db.Tree.Root),
			IDF:  db.IDF,
		},
	}

	targets := tgtStore.All()
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	for _, t := range targets {
		td := targetDoc{
			ID:          string(t.ID),
			Width:       t.Width,
			Height:      t.Height,
			Descriptors: base64.StdEncoding.EncodeToString(t.Descriptors.Data),
			DescRows:    t.Descriptors.Rows,
			DescCols:    t.Descriptors.Cols,
			BoW:         map[string]int{},
			BoWTFIDF:    map[string]float64{},
			BoWBM25:     map[string]float64{},
		}
		for i, c := range t.Corners {
			td.Corners[i] = [2]float64{c.X, c.Y}
		}
		for _, kp := range t.Keypoints {
			td.Keypoints = append(td.Keypoints, keypointDoc{X: kp.X, Y: kp.Y, Response: kp.Response, Size: kp.Size, Angle: kp.Angle, Octave: kp.Octave})
		}
		for wID, count := range t.BoW {
			td.BoW[fmt.Sprint(wID)] = count
		}
		weightedMap := td.BoWTFIDF
		if db.Weighting == config.WeightBM25 {
			weightedMap = td.BoWBM25
		}
		for wID, score := range t.Weighted {
			weightedMap[fmt.Sprint(wID)] = score
		}
		doc.Targets = append(doc.Targets, td)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Import reads a database document from r and reconstructs a Database plus
// a populated Store. currentSignature is the config signature of the
// *current* build configuration; if it (or the schema version)
// differs from the stored document, Import returns
// errors.DatabaseVersionMismatch and the caller must rebuild.
func Import(r io.Reader, currentSignature string) (*bow.Database, *store.Store, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("dbio: decode document: %w", err)
	}

	if doc.Metadata.SchemaVersion != bow.SchemaVersion {
		return nil, nil, errors.New(errors.DatabaseVersionMismatch, "dbio.Import",
			fmt.Sprintf("schema version %q != current %q", doc.Metadata.SchemaVersion, bow.SchemaVersion))
	}
	if doc.Metadata.ConfigSignature != currentSignature {
		return nil, nil, errors.New(errors.DatabaseVersionMismatch, "dbio.Import",
			fmt.Sprintf("config signature %q != current %q", doc.Metadata.ConfigSignature, currentSignature))
	}

	typ := cvprim.Binary
	if doc.Metadata.DescriptorType == "float" {
		typ = cvprim.Float
	}

	root, err := decodeNode(doc.Vocabulary.Tree, typ)
	if err != nil {
		return nil, nil, err
	}
	tree := &bow.Tree{Root: root, V: doc.Metadata.V, K: doc.Metadata.K, L: doc.Metadata.L, DescriptorType: typ}

	weighting := config.WeightScheme(doc.Metadata.Weighting)

	db := &bow.Database{
		Metadata: bow.Metadata{
			V:               doc.Metadata.V,
			K:               doc.Metadata.K,
			L:               doc.Metadata.L,
			DescriptorType:  typ,
			DescriptorBytes: doc.Metadata.DescriptorBytes,
			SchemaVersion:   doc.Metadata.SchemaVersion,
			ConfigSignature: doc.Metadata.ConfigSignature,
			CreatedAt:       doc.Metadata.CreatedAt,
		},
		Tree:      tree,
		IDF:       doc.Vocabulary.IDF,
		AvgDL:     doc.Metadata.AvgDL,
		Weighting: weighting,
		BM25K1:    doc.Metadata.BM25K1,
		BM25B:     doc.Metadata.BM25B,
	}

	tgtStore := store.New()
	for _, td := range doc.Targets {
		raw, err := base64.StdEncoding.DecodeString(td.Descriptors)
		if err != nil {
			return nil, nil, fmt.Errorf("dbio: decode target %s descriptors: %w", td.ID, err)
		}
		desc := cvprim.DescriptorMatrix{Type: typ, Rows: td.DescRows, Cols: td.DescCols, Data: raw}
		kps := make([]cvprim.KeyPoint, len(td.Keypoints))
		for i, kd := range td.Keypoints {
			kps[i] = cvprim.KeyPoint{X: kd.X, Y: kd.Y, Response: kd.Response, Size: kd.Size, Angle: kd.Angle, Octave: kd.Octave}
		}
		corners := [4]geom.Point{}
		for i, c := range td.Corners {
			corners[i] = geom.Point{X: c[0], Y: c[1]}
		}
		id := store.TargetID(td.ID)
		if err := tgtStore.Add(id, kps, desc, corners, td.Width, td.Height); err != nil {
			return nil, nil, fmt.Errorf("dbio: add target %s: %w", td.ID, err)
		}
		bowHist := make(map[int]int, len(td.BoW))
		for k, v := range td.BoW {
			var wID int
			fmt.Sscan(k, &wID)
			bowHist[wID] = v
		}
		weightedSrc := td.BoWTFIDF
		if weighting == config.WeightBM25 {
			weightedSrc = td.BoWBM25
		}
		weighted := make(map[int]float64, len(weightedSrc))
		for k, v := range weightedSrc {
			var wID int
			fmt.Sscan(k, &wID)
			weighted[wID] = v
		}
		if err := tgtStore.SetWeights(id, bowHist, weighted); err != nil {
			return nil, nil, fmt.Errorf("dbio: set weights for %s: %w", td.ID, err)
		}
	}

	return db, tgtStore, nil
}

// TargetSparsity summarizes one target's BoW/weighted-vector size for
// the inspect CLI -- a read-only debug print, not a
// report generator.
type TargetSparsity struct {
	ID           string
	BoWWords     int
	WeightedSize int
}

// Info is the summary cmd/arengine inspect prints: {V, k, L,
// targetCount, schemaVersion, configSignature} plus, per-target,
// BoW/weighted-vector sparsity.
type Info struct {
	V               int
	K               int
	L               int
	TargetCount     int
	SchemaVersion   string
	ConfigSignature string
	Targets         []TargetSparsity
}

// Inspect reads a database document and summarizes it without enforcing the
// schema/signature check Import applies -- inspection is read-only
// debugging, not a path that feeds a live Engine, so a stale or
// foreign database is still worth looking at.
func Inspect(r io.Reader) (Info, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Info{}, fmt.Errorf("dbio: decode document: %w", err)
	}
	info := Info{
		V:               doc.Metadata.V,
		K:               doc.Metadata.K,
		L:               doc.Metadata.L,
		TargetCount:     len(doc.Targets),
		SchemaVersion:   doc.Metadata.SchemaVersion,
		ConfigSignature: doc.Metadata.ConfigSignature,
	}
	for _, td := range doc.Targets {
		weightedSize := len(td.BoWTFIDF)
		if doc.Metadata.Weighting == weightTypeName(config.WeightBM25) {
			weightedSize = len(td.BoWBM25)
		}
		info.Targets = append(info.Targets, TargetSparsity{ID: td.ID, BoWWords: len(td.BoW), WeightedSize: weightedSize})
	}
	return info, nil
}
