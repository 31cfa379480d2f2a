package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a PostgreSQL-backed Store. Documents live in the annotation_records
// table as JSONB rows keyed by (session_id, note_id, field). Update runs in a
// transaction with a row lock so concurrent read-modify-write cycles on the
// same key serialize across replicas.
type PG struct {
	pool *pgxpool.Pool
}

// NewPG returns a store backed by the given pool.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

// Get returns the document for k, or ErrNotFound.
func (s *PG) Get(ctx context.Context, k Key) ([]byte, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM annotation_records
		 WHERE session_id = $1 AND note_id = $2 AND field = $3`,
		k.SessionID, k.NoteID, k.Field,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get annotation record: %w", err)
	}
	return doc, nil
}

// Put upserts the document for k.
func (s *PG) Put(ctx context.Context, k Key, doc []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO annotation_records (session_id, note_id, field, doc, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (session_id, note_id, field)
		 DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		k.SessionID, k.NoteID, k.Field, doc,
	)
	if err != nil {
		return fmt.Errorf("put annotation record: %w", err)
	}
	return nil
}

// Update applies fn inside a transaction holding a row lock on k.
func (s *PG) Update(ctx context.Context, k Key, fn func(cur []byte, exists bool) ([]byte, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var cur []byte
	exists := true
	err = tx.QueryRow(ctx,
		`SELECT doc FROM annotation_records
		 WHERE session_id = $1 AND note_id = $2 AND field = $3
		 FOR UPDATE`,
		k.SessionID, k.NoteID, k.Field,
	).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		cur, exists = nil, false
	} else if err != nil {
		return fmt.Errorf("lock annotation record: %w", err)
	}

	next, err := fn(cur, exists)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO annotation_records (session_id, note_id, field, doc, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (session_id, note_id, field)
		 DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		k.SessionID, k.NoteID, k.Field, next,
	); err != nil {
		return fmt.Errorf("write annotation record: %w", err)
	}

	return tx.Commit(ctx)
}

// Fields returns all documents for a note keyed by field name.
func (s *PG) Fields(ctx context.Context, sessionID, noteID string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field, doc FROM annotation_records
		 WHERE session_id = $1 AND note_id = $2`,
		sessionID, noteID,
	)
	if err != nil {
		return nil, fmt.Errorf("query annotation records: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var field string
		var doc []byte
		if err := rows.Scan(&field, &doc); err != nil {
			return nil, fmt.Errorf("scan annotation record: %w", err)
		}
		out[field] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotation records: %w", err)
	}
	return out, nil
}

// DeleteNote removes every document for a note.
func (s *PG) DeleteNote(ctx context.Context, sessionID, noteID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM annotation_records WHERE session_id = $1 AND note_id = $2`,
		sessionID, noteID,
	)
	if err != nil {
		return fmt.Errorf("delete annotation records: %w", err)
	}
	return nil
}
