package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Chunk is one knowledge base document with its embedding vector.
type Chunk struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata"`
	Embedding  []float32      `json:"-"`
}

// InsertChunk stores a document chunk with its embedding. A missing ID is
// generated.
func (s *Store) InsertChunk(ctx context.Context, chunk *Chunk) error {
	if chunk.ID == "" {
		chunk.ID = "chunk_" + uuid.New().String()[:16]
	}
	if chunk.Collection == "" {
		chunk.Collection = "rental_kb"
	}
	metadata, err := json.Marshal(chunk.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	embedding, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kb_chunks (id, collection, text, metadata, embedding) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text, metadata = excluded.metadata, embedding = excluded.embedding`,
		chunk.ID, chunk.Collection, chunk.Text, string(metadata), string(embedding))
	if err != nil {
		return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
	}
	return nil
}

// ListChunks returns every chunk in a collection.
func (s *Store) ListChunks(ctx context.Context, collection string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, collection, text, metadata, embedding FROM kb_chunks WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("list chunks %s: %w", collection, err)
	}
	defer rows.Close()

	chunks := make([]*Chunk, 0)
	for rows.Next() {
		var c Chunk
		var metadata, embedding string
		if err := rows.Scan(&c.ID, &c.Collection, &c.Text, &metadata, &embedding); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		_ = json.Unmarshal([]byte(metadata), &c.Metadata)
		if err := json.Unmarshal([]byte(embedding), &c.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", c.ID, err)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of chunks in a collection.
func (s *Store) CountChunks(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kb_chunks WHERE collection = ?`, collection).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count chunks %s: %w", collection, err)
	}
	return count, nil
}

// ListCollections returns the distinct chunk collections.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM kb_chunks ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	collections := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		collections = append(collections, name)
	}
	return collections, rows.Err()
}
