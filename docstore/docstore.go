// Package docstore holds the documents behind the vector index, keyed by the
// caller's external id. It is a plain in-memory map; durability comes from
// the snapshot layer.
package docstore

import "fmt"

// Document is a stored item. Metadata is free-form and round-trips through
// snapshots unchanged.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Node is the graph id the document's embedding was inserted under.
	Node uint32 `json:"node"`
}

// NotFoundError reports a lookup for an unknown document id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %q not found", e.ID)
}

// Store maps external document ids to documents, with a reverse index from
// graph node to document for search-result mapping. It is not safe for
// concurrent use; callers serialize access.
type Store struct {
	docs  map[string]*Document
	nodes map[uint32]*Document
}

// New returns an empty store.
func New() *Store {
	return &Store{
		docs:  make(map[string]*Document),
		nodes: make(map[uint32]*Document),
	}
}

// Set inserts or replaces a document. The previous document under the same
// id is returned when one existed.
func (s *Store) Set(doc *Document) (*Document, bool) {
	prev, ok := s.docs[doc.ID]
	if ok {
		delete(s.nodes, prev.Node)
	}

	s.docs[doc.ID] = doc
	s.nodes[doc.Node] = doc

	return prev, ok
}

// Get returns the document for an id.
func (s *Store) Get(id string) (*Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return doc, nil
}

// Has reports whether a document exists.
func (s *Store) Has(id string) bool {
	_, ok := s.docs[id]
	return ok
}

// Delete removes a document and returns it.
func (s *Store) Delete(id string) (*Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	delete(s.docs, id)
	delete(s.nodes, doc.Node)

	return doc, nil
}

// Len returns the number of documents.
func (s *Store) Len() int {
	return len(s.docs)
}

// ByNode returns the document inserted under a graph id.
func (s *Store) ByNode(node uint32) (*Document, bool) {
	doc, ok := s.nodes[node]
	return doc, ok
}

// All returns every document. The slice is a copy; the documents are not.
func (s *Store) All() []*Document {
	docs := make([]*Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	return docs
}

// Clone returns a shallow copy of the store. Used for state rollback, where
// documents themselves are treated as immutable.
func (s *Store) Clone() *Store {
	clone := New()
	for _, doc := range s.docs {
		clone.docs[doc.ID] = doc
		clone.nodes[doc.Node] = doc
	}
	return clone
}

// Replace swaps the entire content with the given documents.
func (s *Store) Replace(docs []*Document) {
	s.docs = make(map[string]*Document, len(docs))
	s.nodes = make(map[uint32]*Document, len(docs))
	for _, doc := range docs {
		s.docs[doc.ID] = doc
		s.nodes[doc.Node] = doc
	}
}

// Clear removes all documents.
func (s *Store) Clear() {
	s.docs = make(map[string]*Document)
	s.nodes = make(map[uint32]*Document)
}
