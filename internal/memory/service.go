package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/henribesnard/novellaforge/internal/cache"
	"github.com/henribesnard/novellaforge/internal/graph"
	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/types"
)

// Service is the continuity memory front door: extraction, merge, graph
// sync and the cached context block.
type Service struct {
	extractor *Extractor
	graph     *graph.Store
	cache     cache.Cache
	ttl       time.Duration
	logger    *slog.Logger
}

// NewService wires the memory service. graph and kv may be nil; the
// affected operations become no-ops.
func NewService(client llm.Client, model string, gs *graph.Store, kv cache.Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{
		extractor: NewExtractor(client, model, logger),
		graph:     gs,
		cache:     kv,
		ttl:       ttl,
		logger:    logger,
	}
}

// ExtractFacts pulls continuity facts from a chapter's full text.
func (s *Service) ExtractFacts(ctx context.Context, content string, chapterIndex int) (*types.ContinuityFacts, error) {
	return s.extractor.Extract(ctx, content, chapterIndex)
}

// MergeIntoProject merges extracted facts into the project continuity and
// invalidates the cached context block. The caller persists the project.
func (s *Service) MergeIntoProject(ctx context.Context, project *types.Project, facts *types.ContinuityFacts, chapterIndex int) {
	if project.Continuity == nil {
		project.Continuity = &types.ContinuityFacts{}
	}
	Merge(project.Continuity, facts, chapterIndex)
	s.InvalidateContext(ctx, project.ID)
}

// SyncGraph upserts the extracted facts into the structured graph.
// Degraded graph mode logs once and returns nil.
func (s *Service) SyncGraph(ctx context.Context, projectID string, facts *types.ContinuityFacts, chapterIndex int) error {
	if s.graph == nil {
		return nil
	}
	if err := s.graph.SyncFacts(ctx, projectID, facts, chapterIndex); err != nil {
		return err
	}
	s.graph.InvalidateContradictionCache(projectID)
	return nil
}

// ContextBlock returns the rendered continuity block for prompt
// injection, cached per project under "memory_ctx:{project}:block".
func (s *Service) ContextBlock(ctx context.Context, project *types.Project) string {
	key := contextKey(project.ID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			return string(raw)
		}
	}

	block := BuildContextBlock(project.ContinuityOrEmpty())
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, []byte(block), s.ttl); err != nil {
			s.logger.Warn("failed to cache memory context", "project_id", project.ID, "error", err)
		}
	}
	return block
}

// InvalidateContext drops the cached context block for a project.
func (s *Service) InvalidateContext(ctx context.Context, projectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePrefix(ctx, "memory_ctx:"+projectID+":"); err != nil {
		s.logger.Warn("failed to invalidate memory context cache", "project_id", projectID, "error", err)
	}
}

func contextKey(projectID string) string {
	return "memory_ctx:" + projectID + ":block"
}
