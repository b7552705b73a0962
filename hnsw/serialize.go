package hnsw

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"
)

// state is the gob image of an Index. The distance function is not part of
// the image; Decode callers restore it through Options.
type state struct {
	Dimension      int
	ML             float64
	EP             uint32
	MaxLevel       int
	Nodes          []*Node
	Tombstones     []byte
	M              int
	EFConstruction int
	EFSearch       int
	Heuristic      bool
}

// Encode writes the full graph to w in gob format.
func (h *Index) Encode(w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tombstones, err := h.deleted.ToBytes()
	if err != nil {
		return fmt.Errorf("serialize tombstones: %w", err)
	}

	s := state{
		Dimension:      h.dimension,
		ML:             h.ml,
		EP:             h.ep,
		MaxLevel:       h.maxLevel,
		Nodes:          h.nodes,
		Tombstones:     tombstones,
		M:              h.opts.M,
		EFConstruction: h.opts.EFConstruction,
		EFSearch:       h.opts.EFSearch,
		Heuristic:      h.opts.Heuristic,
	}

	if err := gob.NewEncoder(w).Encode(&s); err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}

	return nil
}

// Decode reads a graph previously written by Encode. Option overrides are
// applied on top of the stored parameters; use them to restore the distance
// function.
func Decode(r io.Reader, optFns ...func(o *Options)) (*Index, error) {
	var s state
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}

	if len(s.Nodes) == 0 {
		return nil, fmt.Errorf("decode graph: missing sentinel node")
	}

	deleted := roaring.New()
	if err := deleted.UnmarshalBinary(s.Tombstones); err != nil {
		return nil, fmt.Errorf("decode tombstones: %w", err)
	}

	opts := Options{
		M:              s.M,
		EFConstruction: s.EFConstruction,
		EFSearch:       s.EFSearch,
		Heuristic:      s.Heuristic,
		Distance:       DefaultOptions.Distance,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Index{
		dimension: s.Dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        s.ML,
		ep:        s.EP,
		maxLevel:  s.MaxLevel,
		nodes:     s.Nodes,
		deleted:   deleted,
		opts:      opts,
	}, nil
}
