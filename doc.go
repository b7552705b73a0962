// Package docdex manages a persistent approximate-nearest-neighbour index
// over embedded documents. A Manager pairs an HNSW vector index with a
// document store and keeps both durable through atomic two-file snapshots:
// a binary index file and a JSON metadata sidecar.
//
//	m, err := docdex.New(ctx, docdex.DefaultConfig(384))
//	if err != nil { ... }
//	defer m.Close(ctx)
//
//	err = m.InsertDocument(ctx, &docdex.Document{ID: "doc-1", Text: "hello"}, embedding)
//	hits, err := m.Search(ctx, query, 10)
//
// All operations on a Manager are serialized through a single exclusive
// lock, so a Manager is safe for concurrent use from multiple goroutines.
package docdex
