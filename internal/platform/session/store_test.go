package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMemory_PutGet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	k := Key{SessionID: "sess-1", NoteID: "note-1", Field: "histology"}

	if _, err := s.Get(ctx, k); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, k, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	doc, err := s.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(doc) != `{"a":1}` {
		t.Errorf("unexpected doc %s", doc)
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	k := Key{SessionID: "s", NoteID: "n", Field: "f"}

	if err := s.Put(ctx, k, []byte("abc")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	doc, _ := s.Get(ctx, k)
	doc[0] = 'x'

	doc2, _ := s.Get(ctx, k)
	if string(doc2) != "abc" {
		t.Errorf("stored document was mutated through a returned slice: %s", doc2)
	}
}

func TestMemory_Update(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	k := Key{SessionID: "s", NoteID: "n", Field: "f"}

	err := s.Update(ctx, k, func(cur []byte, exists bool) ([]byte, error) {
		if exists {
			t.Error("expected exists=false on first update")
		}
		return []byte(`{"n":1}`), nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	err = s.Update(ctx, k, func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			t.Error("expected exists=true on second update")
		}
		if string(cur) != `{"n":1}` {
			t.Errorf("unexpected current doc %s", cur)
		}
		return []byte(`{"n":2}`), nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	doc, _ := s.Get(ctx, k)
	if string(doc) != `{"n":2}` {
		t.Errorf("unexpected final doc %s", doc)
	}
}

func TestMemory_UpdateErrorWritesNothing(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	k := Key{SessionID: "s", NoteID: "n", Field: "f"}

	boom := errors.New("boom")
	if err := s.Update(ctx, k, func([]byte, bool) ([]byte, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected fn error back, got %v", err)
	}
	if _, err := s.Get(ctx, k); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed update must not write, got %v", err)
	}
}

func TestMemory_ConcurrentUpdates(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	k := Key{SessionID: "s", NoteID: "n", Field: "counter"}

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, k, func(cur []byte, exists bool) ([]byte, error) {
				n := 0
				if exists {
					if err := json.Unmarshal(cur, &n); err != nil {
						return nil, err
					}
				}
				return json.Marshal(n + 1)
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	doc, err := s.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var n int
	if err := json.Unmarshal(doc, &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if n != workers {
		t.Errorf("lost updates: got %d, want %d", n, workers)
	}
}

func TestMemory_Fields(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i, field := range []string{"histology", "site", "unified"} {
		k := Key{SessionID: "s", NoteID: "n", Field: field}
		if err := s.Put(ctx, k, []byte(fmt.Sprintf(`{"i":%d}`, i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	// A different note must not leak in.
	if err := s.Put(ctx, Key{SessionID: "s", NoteID: "other", Field: "histology"}, []byte(`{}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	fields, err := s.Fields(ctx, "s", "n")
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	for _, field := range []string{"histology", "site", "unified"} {
		if _, ok := fields[field]; !ok {
			t.Errorf("missing field %q", field)
		}
	}
}

func TestMemory_DeleteNote(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	k1 := Key{SessionID: "s", NoteID: "n", Field: "histology"}
	k2 := Key{SessionID: "s", NoteID: "n", Field: "site"}
	keep := Key{SessionID: "s", NoteID: "other", Field: "histology"}
	for _, k := range []Key{k1, k2, keep} {
		if err := s.Put(ctx, k, []byte(`{}`)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if err := s.DeleteNote(ctx, "s", "n"); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if _, err := s.Get(ctx, k1); !errors.Is(err, ErrNotFound) {
		t.Error("expected histology record deleted")
	}
	if _, err := s.Get(ctx, keep); err != nil {
		t.Errorf("other note must survive, got %v", err)
	}
}

func TestMemory_ContextCancelled(t *testing.T) {
	s := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	k := Key{SessionID: "s", NoteID: "n", Field: "f"}
	if err := s.Put(ctx, k, []byte(`{}`)); err == nil {
		t.Error("expected context error from Put")
	}
	if _, err := s.Get(ctx, k); err == nil {
		t.Error("expected context error from Get")
	}
}
