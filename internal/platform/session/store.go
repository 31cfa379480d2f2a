// Package session persists per-session annotation documents. Each document is
// an opaque JSON blob keyed by session, note and field, where the field names
// the annotation slot ("histology", "site", "unified", ...). Two backends are
// provided: an in-memory store for single-node deployments and tests, and a
// PostgreSQL store for durable multi-replica setups.
package session

import (
	"context"
	"errors"
)

// ErrNotFound indicates no document exists for the requested key.
var ErrNotFound = errors.New("session record not found")

// Key identifies one stored document.
type Key struct {
	SessionID string
	NoteID    string
	Field     string
}

// Store is the persistence contract for annotation documents. Update must be
// atomic per key: concurrent updates to the same key are serialized, and fn
// sees the latest committed document.
type Store interface {
	// Get returns the document for k, or ErrNotFound.
	Get(ctx context.Context, k Key) ([]byte, error)

	// Put stores the document for k, replacing any existing one.
	Put(ctx context.Context, k Key, doc []byte) error

	// Update applies fn to the current document (nil and exists=false when
	// absent) and stores the result. If fn returns an error nothing is
	// written and the error is returned unchanged.
	Update(ctx context.Context, k Key, fn func(cur []byte, exists bool) ([]byte, error)) error

	// Fields returns all documents stored for a note, keyed by field name.
	Fields(ctx context.Context, sessionID, noteID string) (map[string][]byte, error)

	// DeleteNote removes every document stored for a note.
	DeleteNote(ctx context.Context, sessionID, noteID string) error
}
