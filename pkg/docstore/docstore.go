// Package docstore defines the remote document store that world models are
// synchronised with.
//
// A store holds named document sets. Each set is a flat map of filename to
// file content (one JSON document per file). Writes are last-write-wins; no
// concurrency token is exchanged.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document set id does not exist.
var ErrNotFound = errors.New("docstore: document set not found")

// File is the content of one document in a set.
type File struct {
	Content string `json:"content"`
}

// Store is a remote document store.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// FetchAll returns every file of set id, keyed by filename.
	FetchAll(ctx context.Context, id string) (map[string][]byte, error)

	// Patch creates or overwrites the given files of set id. Files not named
	// are left alone.
	Patch(ctx context.Context, id string, files map[string]File) error

	// Create makes a new set holding files and returns its id.
	Create(ctx context.Context, description string, files map[string]File) (string, error)
}

// FromBytes converts encoded documents into Patch/Create input.
func FromBytes(docs map[string][]byte) map[string]File {
	out := make(map[string]File, len(docs))
	for name, b := range docs {
		out[name] = File{Content: string(b)}
	}
	return out
}
