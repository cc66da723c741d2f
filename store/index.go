package store

import (
	"sort"

	"medirag/types"
)

// Index kinds. Chosen once at build time and recorded in the manifest,
// never inferred from the environment at query time.
const (
	IndexFlat      = "flat"
	IndexQuantized = "quantized"
)

// Index is a loaded compact index: one snippet entry plus one vector per
// doc_id. Vectors are stored either as raw float32 (flat) or as int8 codes
// with a per-vector scale (quantized).
type Index struct {
	Manifest Manifest
	Entries  []types.IndexedEntry

	dim     int
	vectors []float32 // flat: len(entries)*dim
	codes   []int8    // quantized: len(entries)*dim
	scales  []float32 // quantized: one per entry
}

func (ix *Index) Len() int {
	return len(ix.Entries)
}

func (ix *Index) Dim() int {
	return ix.dim
}

// Search scores every entry against query by dot product (vectors are
// normalized at embed time, so this is cosine similarity) and returns the
// top limit entries in descending score order.
func (ix *Index) Search(query []float32, limit int) []types.ScoredEntry {
	if len(query) != ix.dim || ix.Len() == 0 || limit <= 0 {
		return nil
	}

	scored := make([]types.ScoredEntry, 0, ix.Len())
	for i, e := range ix.Entries {
		scored = append(scored, types.ScoredEntry{Entry: e, Score: ix.score(i, query)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func (ix *Index) score(i int, query []float32) float64 {
	offset := i * ix.dim
	var dot float64

	switch ix.Manifest.IndexType {
	case IndexQuantized:
		scale := float64(ix.scales[i])
		for j, q := range query {
			dot += float64(q) * float64(ix.codes[offset+j]) * scale
		}
	default:
		for j, q := range query {
			dot += float64(q) * float64(ix.vectors[offset+j])
		}
	}
	return dot
}

// quantize encodes v as int8 codes with a single scale chosen so the largest
// component maps to 127. A zero vector keeps scale 0.
func quantize(v []float32) ([]int8, float32) {
	var maxAbs float32
	for _, x := range v {
		if x < 0 {
			x = -x
		}
		if x > maxAbs {
			maxAbs = x
		}
	}

	codes := make([]int8, len(v))
	if maxAbs == 0 {
		return codes, 0
	}

	scale := maxAbs / 127
	for i, x := range v {
		c := x / scale
		if c > 127 {
			c = 127
		}
		if c < -127 {
			c = -127
		}
		codes[i] = int8(c)
	}
	return codes, scale
}
