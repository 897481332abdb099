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

// projectMetadata is the JSON blob persisted per project. Everything the
// Project aggregate owns beyond its identity columns lives here; there is a
// single serialization layer at this boundary.
type projectMetadata struct {
	Concept                types.Concept                `json:"concept"`
	Plan                   *types.Plan                  `json:"plan,omitempty"`
	Synopsis               string                       `json:"synopsis,omitempty"`
	StoryBible             *types.StoryBible            `json:"story_bible,omitempty"`
	Continuity             *types.ContinuityFacts       `json:"continuity,omitempty"`
	Memory                 *types.RecursiveMemory       `json:"memory,omitempty"`
	TrackedContradictions  []types.TrackedContradiction `json:"tracked_contradictions,omitempty"`
	ChekhovGuns            []types.ChekhovGun           `json:"chekhov_guns,omitempty"`
	RecentChapterSummaries []string                     `json:"recent_chapter_summaries,omitempty"`
	PregeneratedPlans      map[int]*types.ChapterPlan   `json:"pregenerated_plans,omitempty"`
}

// CreateProject inserts a new project.
func (s *Store) CreateProject(ctx context.Context, p *types.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Version = 1

	meta, err := json.Marshal(metadataOf(p))
	if err != nil {
		return fmt.Errorf("failed to marshal project metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, title, metadata, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Title, string(meta), p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// GetProject loads a project by id. When ownerID is non-empty the project
// must belong to that owner; a mismatch reads as not found.
func (s *Store) GetProject(ctx context.Context, id, ownerID string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, metadata, version, created_at, updated_at
		FROM projects WHERE id = ?`, id)

	var p types.Project
	var metaRaw string
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &metaRaw, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if ownerID != "" && p.OwnerID != ownerID {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}

	var meta projectMetadata
	if err := json.Unmarshal([]byte(metaRaw), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode project metadata: %w", err)
	}
	applyMetadata(&p, &meta)
	return &p, nil
}

// UpdateMetadata persists the project metadata under an optimistic version
// check. On conflict it returns ErrMetadataConflict; the caller re-reads,
// re-applies its changes, and retries.
func (s *Store) UpdateMetadata(ctx context.Context, p *types.Project) error {
	meta, err := json.Marshal(metadataOf(p))
	if err != nil {
		return fmt.Errorf("failed to marshal project metadata: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET title = ?, metadata = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.Title, string(meta), now, p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		// Distinguish a stale version from a missing row.
		var exists int
		if scanErr := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM projects WHERE id = ?`, p.ID).Scan(&exists); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return fmt.Errorf("project %s: %w", p.ID, ErrNotFound)
			}
			return fmt.Errorf("failed to check project existence: %w", scanErr)
		}
		return fmt.Errorf("project %s version %d: %w", p.ID, p.Version, ErrMetadataConflict)
	}

	p.Version++
	p.UpdatedAt = now
	return nil
}

// UpdateMetadataRetry applies mutate under read-merge-write, retrying the
// optimistic conflict up to 3 times.
func (s *Store) UpdateMetadataRetry(ctx context.Context, id, ownerID string, mutate func(*types.Project) error) (*types.Project, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		p, err := s.GetProject(ctx, id, ownerID)
		if err != nil {
			return nil, err
		}
		if err := mutate(p); err != nil {
			return nil, err
		}
		if err := s.UpdateMetadata(ctx, p); err != nil {
			if errors.Is(err, ErrMetadataConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return p, nil
	}
	return nil, lastErr
}

// ListApprovedChapters returns approved chapter documents ordered by
// order_index.
func (s *Store) ListApprovedChapters(ctx context.Context, projectID string) ([]*types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE project_id = ? AND type = ? AND status = ?
		ORDER BY order_index`,
		projectID, types.DocumentTypeChapter, types.StatusApproved,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved chapters: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// ProjectRef identifies a project and its owner without loading metadata.
type ProjectRef struct {
	ID      string
	OwnerID string
}

// ListProjectRefs returns the id and owner of every project. Used by the
// maintenance sweeps, which iterate all projects.
func (s *Store) ListProjectRefs(ctx context.Context) ([]ProjectRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner_id FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var refs []ProjectRef
	for rows.Next() {
		var ref ProjectRef
		if err := rows.Scan(&ref.ID, &ref.OwnerID); err != nil {
			return nil, fmt.Errorf("failed to scan project ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func metadataOf(p *types.Project) *projectMetadata {
	return &projectMetadata{
		Concept:                p.Concept,
		Plan:                   p.Plan,
		Synopsis:               p.Synopsis,
		StoryBible:             p.StoryBible,
		Continuity:             p.Continuity,
		Memory:                 p.Memory,
		TrackedContradictions:  p.TrackedContradictions,
		ChekhovGuns:            p.ChekhovGuns,
		RecentChapterSummaries: p.RecentChapterSummaries,
		PregeneratedPlans:      p.PregeneratedPlans,
	}
}

func applyMetadata(p *types.Project, meta *projectMetadata) {
	p.Concept = meta.Concept
	p.Plan = meta.Plan
	p.Synopsis = meta.Synopsis
	p.StoryBible = meta.StoryBible
	p.Continuity = meta.Continuity
	p.Memory = meta.Memory
	p.TrackedContradictions = meta.TrackedContradictions
	p.ChekhovGuns = meta.ChekhovGuns
	p.RecentChapterSummaries = meta.RecentChapterSummaries
	p.PregeneratedPlans = meta.PregeneratedPlans
}
