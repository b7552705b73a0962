package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/ragkit/docdex/codec"
	"github.com/ragkit/docdex/docstore"
)

// SidecarSuffix is appended to the index path to name the metadata file.
const SidecarSuffix = ".metadata.json"

// SidecarPath returns the metadata file path for an index path.
func SidecarPath(indexPath string) string {
	return indexPath + SidecarSuffix
}

// Params are the graph parameters recorded alongside the index so a restored
// graph searches the way it was built.
type Params struct {
	M              int    `json:"m"`
	EFConstruction int    `json:"ef_construction"`
	EFSearch       int    `json:"ef_search"`
	Heuristic      bool   `json:"heuristic"`
	Distance       string `json:"distance"`
}

// Stats describe the snapshot content.
type Stats struct {
	TotalDocuments int       `json:"total_documents"`
	TotalVectors   int       `json:"total_vectors"`
	IndexSizeBytes int64     `json:"index_size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Sidecar is the metadata file content. The codec field names the encoder
// used, so readers can report a mismatch instead of a parse error.
type Sidecar struct {
	FormatVersion uint16               `json:"format_version"`
	Codec         string               `json:"codec"`
	Dimension     int                  `json:"dimension"`
	Params        Params               `json:"params"`
	Stats         Stats                `json:"stats"`
	Documents     []*docstore.Document `json:"documents"`
}

// EncodeSidecar serializes the sidecar with documents in id order, so equal
// states produce equal bytes.
func EncodeSidecar(s *Sidecar, c codec.Codec) ([]byte, error) {
	sort.Slice(s.Documents, func(i, j int) bool {
		return s.Documents[i].ID < s.Documents[j].ID
	})

	s.Codec = c.Name()

	data, err := c.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode sidecar: %w", err)
	}
	return data, nil
}

// DecodeSidecar parses and validates a sidecar.
func DecodeSidecar(data []byte, c codec.Codec) (*Sidecar, error) {
	var s Sidecar
	if err := c.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: sidecar: %v", ErrCorrupt, err)
	}

	if s.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: sidecar format version %d", ErrCorrupt, s.FormatVersion)
	}
	if s.Dimension <= 0 {
		return nil, fmt.Errorf("%w: sidecar dimension %d", ErrCorrupt, s.Dimension)
	}

	seen := make(map[string]struct{}, len(s.Documents))
	for _, doc := range s.Documents {
		if doc.ID == "" {
			return nil, fmt.Errorf("%w: sidecar document with empty id", ErrCorrupt)
		}
		if _, dup := seen[doc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate document id %q", ErrCorrupt, doc.ID)
		}
		seen[doc.ID] = struct{}{}
	}

	return &s, nil
}
