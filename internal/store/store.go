// Package store provides SQLite-backed repositories for projects and
// chapter documents. A single Store owns the connection; repositories are
// cheap views over it. Project metadata writes use optimistic versioning.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/henribesnard/novellaforge/internal/types"
)

// Sentinel errors surfaced to callers.
var (
	ErrNotFound         = errors.New("not found")
	ErrMetadataConflict = errors.New("concurrent metadata conflict")
)

// ProjectRepository is the narrow interface the pipeline consumes.
type ProjectRepository interface {
	GetProject(ctx context.Context, id, ownerID string) (*types.Project, error)
	UpdateMetadata(ctx context.Context, project *types.Project) error
	ListApprovedChapters(ctx context.Context, projectID string) ([]*types.Document, error)
	CreateProject(ctx context.Context, project *types.Project) error
}

// ChapterRepository is the narrow chapter-document interface.
type ChapterRepository interface {
	Get(ctx context.Context, id string) (*types.Document, error)
	Create(ctx context.Context, doc *types.Document) error
	Update(ctx context.Context, doc *types.Document) error
	MaxOrderIndex(ctx context.Context, projectID string) (int, error)
	ChapterByIndex(ctx context.Context, projectID string, chapterIndex int) (*types.Document, error)
	ListByProject(ctx context.Context, projectID string) ([]*types.Document, error)
	DeleteDraftsOlderThan(ctx context.Context, projectID string, maxAgeDays int) (int, error)
}

// Store owns the sqlite connection and implements both repositories.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Config configures a Store.
type Config struct {
	// Path is the sqlite database file. ":memory:" for tests.
	Path   string
	Logger *slog.Logger
}

// New opens the database. Call InitSchema before first use.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = "novellaforge.db"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		cfg.Path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// InitSchema creates tables and indexes. Idempotent; called once at startup.
func (s *Store) InitSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	version     INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);

CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(id),
	type          TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL DEFAULT '',
	summary       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'draft',
	order_index   INTEGER NOT NULL DEFAULT 0,
	chapter_index INTEGER NOT NULL DEFAULT 0,
	metadata      TEXT NOT NULL DEFAULT '{}',
	word_count    INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id);
CREATE INDEX IF NOT EXISTS idx_documents_project_status ON documents(project_id, status);
CREATE INDEX IF NOT EXISTS idx_documents_project_chapter ON documents(project_id, chapter_index);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.logger.Info("store schema ready")
	return nil
}

// DB exposes the underlying handle for sibling packages that share the file
// (graph, rag vector table).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ ProjectRepository = (*Store)(nil)
	_ ChapterRepository = (*Store)(nil)
)
