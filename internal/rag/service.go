package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/henribesnard/novellaforge/internal/cache"
	"github.com/henribesnard/novellaforge/internal/types"
)

// Options tunes chunking and retrieval.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	CacheTTL     time.Duration
}

// Service ties chunking, embedding and the vector store together. A nil
// embedder or a failing embeddings endpoint puts the service in degraded
// mode: indexing becomes a no-op and retrieval returns empty results, so
// generation continues on memory context alone.
type Service struct {
	embedder Embedder
	store    *VectorStore
	cache    cache.Cache
	opts     Options
	logger   *slog.Logger

	degradedOnce sync.Once
}

// NewService creates the retrieval service. cache may be nil.
func NewService(embedder Embedder, store *VectorStore, kv cache.Cache, opts Options, logger *slog.Logger) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap <= 0 {
		opts.ChunkOverlap = 150
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{embedder: embedder, store: store, cache: kv, opts: opts, logger: logger}
}

// Degraded reports whether retrieval is disabled.
func (s *Service) Degraded() bool {
	return s.embedder == nil || s.store == nil
}

func (s *Service) warnDegraded(reason string) {
	s.degradedOnce.Do(func() {
		s.logger.Warn("retrieval degraded, continuing without RAG context", "reason", reason)
	})
}

// IndexDocuments chunks and embeds documents into the chapters collection.
// When clearExisting is set the project's collection is wiped first, which
// is how full rebuilds work.
func (s *Service) IndexDocuments(ctx context.Context, projectID string, docs []*types.Document, clearExisting bool) (int, error) {
	if s.Degraded() {
		s.warnDegraded("no embedder configured")
		return 0, nil
	}
	if clearExisting {
		if err := s.store.DeleteProject(ctx, projectID, CollectionChapters); err != nil {
			return 0, err
		}
	}

	total := 0
	for _, doc := range docs {
		n, err := s.indexDocument(ctx, projectID, doc)
		if err != nil {
			return total, err
		}
		total += n
	}
	s.invalidateQueryCache(ctx, projectID)
	return total, nil
}

// UpdateDocument replaces a single document's vectors. Used on chapter
// approval so re-approved revisions do not leave stale chunks behind.
func (s *Service) UpdateDocument(ctx context.Context, projectID string, doc *types.Document) error {
	if s.Degraded() {
		s.warnDegraded("no embedder configured")
		return nil
	}
	if err := s.store.DeleteDocument(ctx, projectID, doc.ID); err != nil {
		return err
	}
	if _, err := s.indexDocument(ctx, projectID, doc); err != nil {
		return err
	}
	s.invalidateQueryCache(ctx, projectID)
	return nil
}

func (s *Service) indexDocument(ctx context.Context, projectID string, doc *types.Document) (int, error) {
	chunks := ChunkText(doc.Content, s.opts.ChunkSize, s.opts.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if errors.Is(err, ErrEmbedderUnavailable) {
			s.warnDegraded(err.Error())
			return 0, nil
		}
		return 0, fmt.Errorf("failed to embed document %s: %w", doc.ID, err)
	}

	stored := make([]StoredChunk, len(chunks))
	for i, c := range chunks {
		stored[i] = StoredChunk{
			DocumentID:   doc.ID,
			ChapterIndex: doc.ChapterIndex,
			ChunkIndex:   c.Index,
			Content:      c.Text,
			Embedding:    vecs[i],
		}
	}
	if err := s.store.Insert(ctx, projectID, CollectionChapters, stored); err != nil {
		return 0, err
	}
	return len(stored), nil
}

// Retrieve returns the topK most relevant chunks for a query. Results are
// cached per project under "rag:{project}:" so approval can invalidate
// exactly one project's entries.
func (s *Service) Retrieve(ctx context.Context, projectID, query string, topK int) ([]types.RetrievedChunk, error) {
	if s.Degraded() {
		s.warnDegraded("no embedder configured")
		return nil, nil
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}

	key := s.queryCacheKey(projectID, query, topK)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var cached []types.RetrievedChunk
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, ErrEmbedderUnavailable) {
			s.warnDegraded(err.Error())
			return nil, nil
		}
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.store.Search(ctx, projectID, CollectionChapters, qvec, topK)
	if err != nil {
		return nil, err
	}

	out := make([]types.RetrievedChunk, len(hits))
	for i, h := range hits {
		out[i] = types.RetrievedChunk{
			DocumentID:   h.DocumentID,
			ChapterIndex: h.ChapterIndex,
			Text:         h.Content,
			Score:        h.Score,
		}
	}

	if s.cache != nil {
		if raw, err := json.Marshal(out); err == nil {
			_ = s.cache.Set(ctx, key, raw, s.opts.CacheTTL)
		}
	}
	return out, nil
}

// CountProjectVectors reports how many chapter vectors a project has.
// Reconciliation compares this against the expected chunk count.
func (s *Service) CountProjectVectors(ctx context.Context, projectID string) (int, error) {
	if s.Degraded() {
		return 0, nil
	}
	return s.store.Count(ctx, projectID, CollectionChapters)
}

// IndexStyleSample stores an approved excerpt in the style memory
// collection, keyed by the chapter it came from.
func (s *Service) IndexStyleSample(ctx context.Context, projectID, documentID string, chapterIndex int, excerpt string) error {
	if s.Degraded() || excerpt == "" {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, excerpt)
	if err != nil {
		if errors.Is(err, ErrEmbedderUnavailable) {
			s.warnDegraded(err.Error())
			return nil
		}
		return fmt.Errorf("failed to embed style sample: %w", err)
	}
	return s.store.Insert(ctx, projectID, CollectionStyle, []StoredChunk{{
		DocumentID:   documentID,
		ChapterIndex: chapterIndex,
		Content:      excerpt,
		Embedding:    vec,
	}})
}

// RetrieveStyle returns prose samples stylistically close to the query,
// used to keep the narrator's voice stable across chapters.
func (s *Service) RetrieveStyle(ctx context.Context, projectID, query string, topK int) ([]types.RetrievedChunk, error) {
	if s.Degraded() {
		return nil, nil
	}
	if topK <= 0 {
		topK = 3
	}
	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, ErrEmbedderUnavailable) {
			s.warnDegraded(err.Error())
			return nil, nil
		}
		return nil, fmt.Errorf("failed to embed style query: %w", err)
	}
	hits, err := s.store.Search(ctx, projectID, CollectionStyle, qvec, topK)
	if err != nil {
		return nil, err
	}
	out := make([]types.RetrievedChunk, len(hits))
	for i, h := range hits {
		out[i] = types.RetrievedChunk{
			DocumentID:   h.DocumentID,
			ChapterIndex: h.ChapterIndex,
			Text:         h.Content,
			Score:        h.Score,
		}
	}
	return out, nil
}

func (s *Service) queryCacheKey(projectID, query string, topK int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", query, topK)))
	return fmt.Sprintf("rag:%s:%s", projectID, hex.EncodeToString(sum[:8]))
}

func (s *Service) invalidateQueryCache(ctx context.Context, projectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePrefix(ctx, "rag:"+projectID+":"); err != nil {
		s.logger.Warn("failed to invalidate retrieval cache", "project_id", projectID, "error", err)
	}
}
