package rag

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Collection names for the vector store.
const (
	CollectionChapters = "chapters"
	CollectionStyle    = "style_memory"
)

// VectorStore persists embeddings in sqlite, partitioned by project and
// collection. Vectors are stored as little-endian float32 blobs and
// scored with cosine similarity in process; corpora stay small enough
// (hundreds of chapters per project) that a linear scan is fine.
type VectorStore struct {
	db *sql.DB
}

// NewVectorStore wraps an existing sqlite handle.
func NewVectorStore(db *sql.DB) *VectorStore {
	return &VectorStore{db: db}
}

// InitSchema creates the vectors table.
func (vs *VectorStore) InitSchema(ctx context.Context) error {
	_, err := vs.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rag_vectors (
			id            TEXT PRIMARY KEY,
			project_id    TEXT NOT NULL,
			collection    TEXT NOT NULL,
			document_id   TEXT NOT NULL,
			chapter_index INTEGER NOT NULL DEFAULT 0,
			chunk_index   INTEGER NOT NULL DEFAULT 0,
			content       TEXT NOT NULL,
			embedding     BLOB NOT NULL,
			created_at    TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rag_vectors_project
			ON rag_vectors(project_id, collection);
		CREATE INDEX IF NOT EXISTS idx_rag_vectors_document
			ON rag_vectors(project_id, document_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create vector schema: %w", err)
	}
	return nil
}

// StoredChunk is a chunk with its embedding, ready for insertion.
type StoredChunk struct {
	DocumentID   string
	ChapterIndex int
	ChunkIndex   int
	Content      string
	Embedding    []float32
}

// Insert stores chunks for a project and collection.
func (vs *VectorStore) Insert(ctx context.Context, projectID, collection string, chunks []StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := vs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin vector insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rag_vectors (id, project_id, collection, document_id,
			chapter_index, chunk_index, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare vector insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunks {
		_, err := stmt.ExecContext(ctx, uuid.New().String(), projectID, collection,
			c.DocumentID, c.ChapterIndex, c.ChunkIndex, c.Content,
			encodeVector(c.Embedding), now)
		if err != nil {
			return fmt.Errorf("failed to insert vector: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteDocument removes all vectors belonging to a document.
func (vs *VectorStore) DeleteDocument(ctx context.Context, projectID, documentID string) error {
	_, err := vs.db.ExecContext(ctx,
		`DELETE FROM rag_vectors WHERE project_id = ? AND document_id = ?`,
		projectID, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}
	return nil
}

// DeleteProject removes all vectors of a project's collection.
func (vs *VectorStore) DeleteProject(ctx context.Context, projectID, collection string) error {
	_, err := vs.db.ExecContext(ctx,
		`DELETE FROM rag_vectors WHERE project_id = ? AND collection = ?`,
		projectID, collection)
	if err != nil {
		return fmt.Errorf("failed to delete project vectors: %w", err)
	}
	return nil
}

// Count returns the number of vectors stored for a project's collection.
func (vs *VectorStore) Count(ctx context.Context, projectID, collection string) (int, error) {
	var n int
	err := vs.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rag_vectors WHERE project_id = ? AND collection = ?`,
		projectID, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	DocumentID   string
	ChapterIndex int
	ChunkIndex   int
	Content      string
	Score        float64
}

// Search returns the topK chunks of a project's collection ranked by
// cosine similarity to the query vector.
func (vs *VectorStore) Search(ctx context.Context, projectID, collection string, query []float32, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = 5
	}
	rows, err := vs.db.QueryContext(ctx, `
		SELECT document_id, chapter_index, chunk_index, content, embedding
		FROM rag_vectors WHERE project_id = ? AND collection = ?`,
		projectID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var hits []ScoredChunk
	for rows.Next() {
		var hit ScoredChunk
		var blob []byte
		if err := rows.Scan(&hit.DocumentID, &hit.ChapterIndex, &hit.ChunkIndex, &hit.Content, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector row: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		hit.Score = CosineSimilarity(query, vec)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vectors: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("corrupt embedding blob of %d bytes", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	r := bytes.NewReader(blob)
	if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}
	return vec, nil
}
