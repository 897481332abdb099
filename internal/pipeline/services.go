package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/henribesnard/novellaforge/internal/cache"
	"github.com/henribesnard/novellaforge/internal/config"
	"github.com/henribesnard/novellaforge/internal/contextpack"
	"github.com/henribesnard/novellaforge/internal/critic"
	"github.com/henribesnard/novellaforge/internal/graph"
	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/memory"
	"github.com/henribesnard/novellaforge/internal/queue"
	"github.com/henribesnard/novellaforge/internal/rag"
	"github.com/henribesnard/novellaforge/internal/store"
	"github.com/henribesnard/novellaforge/internal/validate"
	"github.com/henribesnard/novellaforge/internal/writer"
)

// Services is the dependency container every pipeline run draws from.
// Everything is constructed once at startup; there are no package-level
// singletons.
type Services struct {
	Config config.Config
	Logger *slog.Logger

	LLM       llm.Client
	Store     *store.Store
	Graph     *graph.Store
	Cache     cache.Cache
	RAG       *rag.Service
	Memory    *memory.Service
	Summary   *contextpack.MemoryMaintainer
	Planner   *Planner
	Writer    *writer.Writer
	Validator *validate.Validator
	Semantic  *validate.SemanticValidator
	Voice     *validate.VoiceAnalyzer
	Critic    *critic.Critic
	Pool      *queue.Pool
	Validate  *validator.Validate
}

// Build wires the container from configuration. The caller owns the
// lifecycle: Start the pool, then Close the store on shutdown.
func Build(cfg config.Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.New(store.Config{Path: cfg.Storage.Path, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.InitSchema(context.Background()); err != nil {
		return nil, err
	}

	gs := graph.New(graph.Config{DB: st.DB(), Logger: logger})
	if err := gs.InitSchema(context.Background()); err != nil {
		return nil, err
	}

	var kv cache.Cache
	if cfg.Cache.Backend == "redis" {
		rc, err := cache.NewRedisCache(context.Background(), cfg.Cache.RedisAddr, "", 0)
		if err != nil {
			logger.Warn("redis unavailable, using in-process cache", "addr", cfg.Cache.RedisAddr, "error", err)
			kv = cache.NewMemoryCache()
		} else {
			kv = rc
		}
	} else {
		kv = cache.NewMemoryCache()
	}

	client := llm.NewOpenRouterClient(llm.OpenRouterConfig{
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		DefaultModel:    cfg.LLM.Model,
		Timeout:         cfg.LLM.Timeout,
		MaxRetries:      cfg.LLM.MaxRetries,
		RetryBackoff:    cfg.LLM.RetryBackoff,
		BreakerFailures: cfg.LLM.BreakerFailures,
		BreakerCooldown: cfg.LLM.BreakerCooldown,
	})

	var embedder rag.Embedder
	if cfg.RAG.EmbeddingAPIKey != "" {
		embedder = rag.NewOpenAIEmbedder(rag.OpenAIEmbedderConfig{
			APIKey:     cfg.RAG.EmbeddingAPIKey,
			BaseURL:    cfg.RAG.EmbeddingBaseURL,
			Model:      cfg.RAG.EmbeddingModel,
			Dimensions: cfg.RAG.EmbeddingDimension,
		})
	}

	vectors := rag.NewVectorStore(st.DB())
	if err := vectors.InitSchema(context.Background()); err != nil {
		return nil, err
	}
	ragSvc := rag.NewService(embedder, vectors, kv, rag.Options{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		TopK:         cfg.RAG.TopK,
		CacheTTL:     cfg.Cache.RAGTTL,
	}, logger)

	memSvc := memory.NewService(client, cfg.LLM.Model, gs, kv, cfg.Cache.MemoryTTL, logger)
	summary := contextpack.NewMemoryMaintainer(client, cfg.LLM.Model, st,
		cfg.Memory.ArcSummaryWords, cfg.Memory.GlobalSynopsisWords, logger)

	pool := queue.NewPool(queue.PoolConfig{Workers: 8, Logger: logger})

	return &Services{
		Config:    cfg,
		Logger:    logger,
		LLM:       client,
		Store:     st,
		Graph:     gs,
		Cache:     kv,
		RAG:       ragSvc,
		Memory:    memSvc,
		Summary:   summary,
		Planner:   NewPlanner(client, cfg.LLM.Model, cfg.LLM.ReasoningModel, cfg.Plan, logger),
		Writer:    writer.New(client, cfg.LLM.Model, pool, cfg.Writer, logger),
		Validator: validate.NewValidator(client, cfg.LLM.Model, gs, logger),
		Semantic:  validate.NewSemanticValidator(embedder, cfg.Coherence.SemanticThreshold),
		Voice:     validate.NewVoiceAnalyzer(embedder, cfg.Coherence.VoiceThreshold, cfg.Coherence.VoiceMinDialogues),
		Critic:    critic.New(client, cfg.LLM.Model, logger),
		Pool:      pool,
		Validate:  validator.New(),
	}, nil
}

// Warmup touches the external dependencies so the first request does not
// pay connection setup. Failures are logged, not fatal; degraded services
// stay degraded.
func (s *Services) Warmup(ctx context.Context) {
	if _, err := s.Store.DB().ExecContext(ctx, "SELECT 1"); err != nil {
		s.Logger.Warn("store warmup failed", "error", err)
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, "warmup", []byte("1"), 0); err != nil {
			s.Logger.Warn("cache warmup failed", "error", err)
		}
	}
	if s.RAG.Degraded() {
		s.Logger.Warn("retrieval running degraded, no embedder configured")
	}
	s.Logger.Info("services warmed up")
}

// Close releases held resources.
func (s *Services) Close() error {
	s.Pool.Stop()
	return s.Store.Close()
}
