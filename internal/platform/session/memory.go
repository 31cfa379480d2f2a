package session

import (
	"context"
	"sync"
)

// Memory is an in-memory Store. Read-modify-write cycles are serialized per
// key so that concurrent selections against the same document cannot clobber
// each other.
type Memory struct {
	mu   sync.RWMutex
	docs map[Key][]byte

	locksMu sync.Mutex
	locks   map[Key]*sync.Mutex
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:  make(map[Key][]byte),
		locks: make(map[Key]*sync.Mutex),
	}
}

func (s *Memory) keyLock(k Key) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

// Get returns a copy of the document for k, or ErrNotFound.
func (s *Memory) Get(ctx context.Context, k Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[k]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

// Put stores a copy of doc for k.
func (s *Memory) Put(ctx context.Context, k Key, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cp := make([]byte, len(doc))
	copy(cp, doc)

	s.mu.Lock()
	s.docs[k] = cp
	s.mu.Unlock()
	return nil
}

// Update applies fn under the key's lock so concurrent updates serialize.
func (s *Memory) Update(ctx context.Context, k Key, fn func(cur []byte, exists bool) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.keyLock(k)
	l.Lock()
	defer l.Unlock()

	cur, err := s.Get(ctx, k)
	exists := true
	if err != nil {
		if err != ErrNotFound {
			return err
		}
		cur, exists = nil, false
	}

	next, err := fn(cur, exists)
	if err != nil {
		return err
	}
	return s.Put(ctx, k, next)
}

// Fields returns all documents for a note keyed by field name.
func (s *Memory) Fields(ctx context.Context, sessionID, noteID string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte)
	for k, doc := range s.docs {
		if k.SessionID != sessionID || k.NoteID != noteID {
			continue
		}
		cp := make([]byte, len(doc))
		copy(cp, doc)
		out[k.Field] = cp
	}
	return out, nil
}

// DeleteNote removes every document for a note.
func (s *Memory) DeleteNote(ctx context.Context, sessionID, noteID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.docs {
		if k.SessionID == sessionID && k.NoteID == noteID {
			delete(s.docs, k)
		}
	}
	return nil
}
