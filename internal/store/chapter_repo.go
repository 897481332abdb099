package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/henribesnard/novellaforge/internal/types"
)

const documentColumns = `id, project_id, type, title, content, summary, status,
	order_index, chapter_index, metadata, word_count, created_at, updated_at`

// documentMetadata is the per-document JSON blob.
type documentMetadata struct {
	PlanSnapshot      *types.ChapterPlan           `json:"plan_snapshot,omitempty"`
	ValidationHistory []types.ContinuityValidation `json:"validation_history,omitempty"`
	PlotPointReport   *types.PlotPointValidation   `json:"plot_point_report,omitempty"`
}

// Get loads a document by id.
func (s *Store) Get(ctx context.Context, id string) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return doc, nil
}

// Create inserts a new document.
func (s *Store) Create(ctx context.Context, doc *types.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Type == "" {
		doc.Type = types.DocumentTypeChapter
	}
	if doc.Status == "" {
		doc.Status = types.StatusDraft
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.WordCount = types.WordCount(doc.Content)

	meta, err := json.Marshal(documentMetadata{
		PlanSnapshot:      doc.PlanSnapshot,
		ValidationHistory: doc.ValidationHistory,
		PlotPointReport:   doc.PlotPointReport,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal document metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, type, title, content, summary, status,
			order_index, chapter_index, metadata, word_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ProjectID, doc.Type, doc.Title, doc.Content, doc.Summary, doc.Status,
		doc.OrderIndex, doc.ChapterIndex, string(meta), doc.WordCount, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// Update persists the full document state.
func (s *Store) Update(ctx context.Context, doc *types.Document) error {
	doc.UpdatedAt = time.Now().UTC()
	doc.WordCount = types.WordCount(doc.Content)

	meta, err := json.Marshal(documentMetadata{
		PlanSnapshot:      doc.PlanSnapshot,
		ValidationHistory: doc.ValidationHistory,
		PlotPointReport:   doc.PlotPointReport,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal document metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title = ?, content = ?, summary = ?, status = ?,
			order_index = ?, chapter_index = ?, metadata = ?, word_count = ?, updated_at = ?
		WHERE id = ?`,
		doc.Title, doc.Content, doc.Summary, doc.Status,
		doc.OrderIndex, doc.ChapterIndex, string(meta), doc.WordCount, doc.UpdatedAt,
		doc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, ErrNotFound)
	}
	return nil
}

// MaxOrderIndex returns the highest order_index among the project's
// chapters, or -1 when the project has none.
func (s *Store) MaxOrderIndex(ctx context.Context, projectID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(order_index) FROM documents WHERE project_id = ? AND type = ?`,
		projectID, types.DocumentTypeChapter,
	).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("failed to query max order index: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// ChapterByIndex returns the chapter with the given 1-based chapter index.
func (s *Store) ChapterByIndex(ctx context.Context, projectID string, chapterIndex int) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE project_id = ? AND type = ? AND chapter_index = ?
		ORDER BY updated_at DESC LIMIT 1`,
		projectID, types.DocumentTypeChapter, chapterIndex,
	)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chapter %d of project %s: %w", chapterIndex, projectID, ErrNotFound)
		}
		return nil, err
	}
	return doc, nil
}

// ListByProject returns all chapter documents of a project ordered by
// order_index.
func (s *Store) ListByProject(ctx context.Context, projectID string) ([]*types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE project_id = ? AND type = ? ORDER BY order_index`,
		projectID, types.DocumentTypeChapter,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// DeleteDraftsOlderThan removes draft documents older than maxAgeDays.
// Returns the number of drafts deleted.
func (s *Store) DeleteDraftsOlderThan(ctx context.Context, projectID string, maxAgeDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE project_id = ? AND status = ? AND updated_at < ?`,
		projectID, types.StatusDraft, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old drafts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*types.Document, error) {
	var doc types.Document
	var metaRaw string
	err := row.Scan(&doc.ID, &doc.ProjectID, &doc.Type, &doc.Title, &doc.Content,
		&doc.Summary, &doc.Status, &doc.OrderIndex, &doc.ChapterIndex, &metaRaw,
		&doc.WordCount, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}

	var meta documentMetadata
	if err := json.Unmarshal([]byte(metaRaw), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode document metadata: %w", err)
	}
	doc.PlanSnapshot = meta.PlanSnapshot
	doc.ValidationHistory = meta.ValidationHistory
	doc.PlotPointReport = meta.PlotPointReport
	return &doc, nil
}

func scanDocuments(rows *sql.Rows) ([]*types.Document, error) {
	var docs []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}
