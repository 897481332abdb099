package config

import "time"

// Config is the full engine configuration. Field groups mirror the
// subsystems that consume them.
type Config struct {
	LLM         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	Chapter     ChapterConfig     `mapstructure:"chapter" yaml:"chapter"`
	Context     ContextConfig     `mapstructure:"context" yaml:"context"`
	RAG         RAGConfig         `mapstructure:"rag" yaml:"rag"`
	Writer      WriterConfig      `mapstructure:"writer" yaml:"writer"`
	QualityGate QualityGateConfig `mapstructure:"quality_gate" yaml:"quality_gate"`
	Plan        PlanConfig        `mapstructure:"plan" yaml:"plan"`
	Memory      MemoryConfig      `mapstructure:"memory" yaml:"memory"`
	Coherence   CoherenceConfig   `mapstructure:"coherence" yaml:"coherence"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" yaml:"maintenance"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
}

// LLMConfig configures the chat completion client.
type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	Model          string        `mapstructure:"model" yaml:"model"`
	ReasoningModel string        `mapstructure:"reasoning_model" yaml:"reasoning_model"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	// Circuit breaker: consecutive failures before the breaker opens, and
	// how long it stays open.
	BreakerFailures int           `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
	ChatMaxTokens   int           `mapstructure:"chat_max_tokens" yaml:"chat_max_tokens"`
}

// ChapterConfig bounds chapter length.
type ChapterConfig struct {
	MinWords int `mapstructure:"min_words" yaml:"min_words"`
	MaxWords int `mapstructure:"max_words" yaml:"max_words"`
}

// ContextConfig holds the truncation budgets feeding prompts.
type ContextConfig struct {
	MemoryMaxChars     int `mapstructure:"memory_max_chars" yaml:"memory_max_chars"`
	StoryBibleMaxChars int `mapstructure:"story_bible_max_chars" yaml:"story_bible_max_chars"`
	StyleMaxChars      int `mapstructure:"style_max_chars" yaml:"style_max_chars"`
	RAGMaxChars        int `mapstructure:"rag_max_chars" yaml:"rag_max_chars"`
	CriticMaxChars     int `mapstructure:"critic_max_chars" yaml:"critic_max_chars"`
	ValidationMaxChars int `mapstructure:"validation_max_chars" yaml:"validation_max_chars"`
}

// RAGConfig configures chunking, indexing and retrieval.
type RAGConfig struct {
	TopK               int    `mapstructure:"top_k" yaml:"top_k"`
	ChunkSize          int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap       int    `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	EmbeddingModel     string `mapstructure:"embedding_model" yaml:"embedding_model"`
	EmbeddingDimension int    `mapstructure:"embedding_dimension" yaml:"embedding_dimension"`
	EmbeddingBaseURL   string `mapstructure:"embedding_base_url" yaml:"embedding_base_url"`
	EmbeddingAPIKey    string `mapstructure:"embedding_api_key" yaml:"embedding_api_key"`
}

// WriterConfig configures beat expansion.
type WriterConfig struct {
	ParallelBeats         bool          `mapstructure:"parallel_beats" yaml:"parallel_beats"`
	DistributedBeats      bool          `mapstructure:"distributed_beats" yaml:"distributed_beats"`
	PartialRevision       bool          `mapstructure:"partial_revision" yaml:"partial_revision"`
	EarlyStopRatio        float64       `mapstructure:"early_stop_ratio" yaml:"early_stop_ratio"`
	MinBeatWords          int           `mapstructure:"min_beat_words" yaml:"min_beat_words"`
	TokensPerWord         float64       `mapstructure:"tokens_per_word" yaml:"tokens_per_word"`
	MaxTokens             int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	PreviousBeatsMaxChars int           `mapstructure:"previous_beats_max_chars" yaml:"previous_beats_max_chars"`
	BeatSoftTimeout       time.Duration `mapstructure:"beat_soft_timeout" yaml:"beat_soft_timeout"`
	BeatHardTimeout       time.Duration `mapstructure:"beat_hard_timeout" yaml:"beat_hard_timeout"`
	DistributedTimeout    time.Duration `mapstructure:"distributed_timeout" yaml:"distributed_timeout"`
}

// QualityGateConfig drives the accept/revise decision.
type QualityGateConfig struct {
	MaxRevisions       int     `mapstructure:"max_revisions" yaml:"max_revisions"`
	ScoreThreshold     float64 `mapstructure:"score_threshold" yaml:"score_threshold"`
	CoherenceThreshold float64 `mapstructure:"coherence_threshold" yaml:"coherence_threshold"`
}

// PlanConfig controls the reasoning-model switch for planning.
type PlanConfig struct {
	ReasoningEnabled       bool     `mapstructure:"reasoning_enabled" yaml:"reasoning_enabled"`
	ReasoningFirstChapters int      `mapstructure:"reasoning_first_chapters" yaml:"reasoning_first_chapters"`
	ReasoningInterval      int      `mapstructure:"reasoning_interval" yaml:"reasoning_interval"`
	ReasoningKeywords      []string `mapstructure:"reasoning_keywords" yaml:"reasoning_keywords"`
}

// MemoryConfig sizes the recursive memory pyramid.
type MemoryConfig struct {
	RecentChapters      int `mapstructure:"recent_chapters" yaml:"recent_chapters"`
	ArcSummaryWords     int `mapstructure:"arc_summary_words" yaml:"arc_summary_words"`
	GlobalSynopsisWords int `mapstructure:"global_synopsis_words" yaml:"global_synopsis_words"`
}

// CoherenceConfig toggles the optional coherence specialists.
type CoherenceConfig struct {
	CharacterDriftEnabled    bool    `mapstructure:"character_drift_enabled" yaml:"character_drift_enabled"`
	CharacterDriftThreshold  float64 `mapstructure:"character_drift_threshold" yaml:"character_drift_threshold"`
	VoiceAnalyzerEnabled     bool    `mapstructure:"voice_analyzer_enabled" yaml:"voice_analyzer_enabled"`
	VoiceThreshold           float64 `mapstructure:"voice_threshold" yaml:"voice_threshold"`
	VoiceMinDialogues        int     `mapstructure:"voice_min_dialogues" yaml:"voice_min_dialogues"`
	POVValidatorEnabled      bool    `mapstructure:"pov_validator_enabled" yaml:"pov_validator_enabled"`
	POVDefaultType           string  `mapstructure:"pov_default_type" yaml:"pov_default_type"`
	SemanticValidatorEnabled bool    `mapstructure:"semantic_validator_enabled" yaml:"semantic_validator_enabled"`
	SemanticThreshold        float64 `mapstructure:"semantic_threshold" yaml:"semantic_threshold"`
	ChekhovEnabled           bool    `mapstructure:"chekhov_enabled" yaml:"chekhov_enabled"`
}

// MaintenanceConfig configures background jobs.
type MaintenanceConfig struct {
	FactPromotionThreshold int           `mapstructure:"fact_promotion_threshold" yaml:"fact_promotion_threshold"`
	FactPromotionEvery     time.Duration `mapstructure:"fact_promotion_every" yaml:"fact_promotion_every"`
	ReconcileEvery         time.Duration `mapstructure:"reconcile_every" yaml:"reconcile_every"`
	ReconcileDiffThreshold int           `mapstructure:"reconcile_diff_threshold" yaml:"reconcile_diff_threshold"`
	RAGRebuildEvery        time.Duration `mapstructure:"rag_rebuild_every" yaml:"rag_rebuild_every"`
	DraftMaxAgeDays        int           `mapstructure:"draft_max_age_days" yaml:"draft_max_age_days"`
	DraftCleanupEvery      time.Duration `mapstructure:"draft_cleanup_every" yaml:"draft_cleanup_every"`
}

// StorageConfig locates the sqlite databases.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// CacheConfig configures the KV cache.
type CacheConfig struct {
	// Backend: "redis" or "memory".
	Backend   string        `mapstructure:"backend" yaml:"backend"`
	RedisAddr string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	MemoryTTL time.Duration `mapstructure:"memory_ttl" yaml:"memory_ttl"`
	RAGTTL    time.Duration `mapstructure:"rag_ttl" yaml:"rag_ttl"`
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			BaseURL:         "https://openrouter.ai/api/v1",
			APIKey:          "${OPENROUTER_API_KEY}",
			Model:           "anthropic/claude-sonnet-4",
			ReasoningModel:  "anthropic/claude-sonnet-4-reasoning",
			Timeout:         120 * time.Second,
			MaxRetries:      3,
			RetryBackoff:    500 * time.Millisecond,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
			ChatMaxTokens:   8192,
		},
		Chapter: ChapterConfig{
			MinWords: 900,
			MaxWords: 2500,
		},
		Context: ContextConfig{
			MemoryMaxChars:     6000,
			StoryBibleMaxChars: 4000,
			StyleMaxChars:      3000,
			RAGMaxChars:        4000,
			CriticMaxChars:     12000,
			ValidationMaxChars: 12000,
		},
		RAG: RAGConfig{
			TopK:               5,
			ChunkSize:          1000,
			ChunkOverlap:       150,
			EmbeddingModel:     "paraphrase-multilingual-mpnet-base-v2",
			EmbeddingDimension: 768,
			EmbeddingBaseURL:   "https://api.openai.com/v1",
			EmbeddingAPIKey:    "${OPENAI_API_KEY}",
		},
		Writer: WriterConfig{
			ParallelBeats:         true,
			DistributedBeats:      false,
			PartialRevision:       true,
			EarlyStopRatio:        0.95,
			MinBeatWords:          150,
			TokensPerWord:         1.6,
			MaxTokens:             4096,
			PreviousBeatsMaxChars: 1200,
			BeatSoftTimeout:       60 * time.Second,
			BeatHardTimeout:       120 * time.Second,
			DistributedTimeout:    180 * time.Second,
		},
		QualityGate: QualityGateConfig{
			MaxRevisions:       2,
			ScoreThreshold:     7.0,
			CoherenceThreshold: 6.0,
		},
		Plan: PlanConfig{
			ReasoningEnabled:       true,
			ReasoningFirstChapters: 3,
			ReasoningInterval:      10,
			ReasoningKeywords:      []string{"twist", "reveal", "climax", "finale"},
		},
		Memory: MemoryConfig{
			RecentChapters:      5,
			ArcSummaryWords:     500,
			GlobalSynopsisWords: 1000,
		},
		Coherence: CoherenceConfig{
			CharacterDriftEnabled:    true,
			CharacterDriftThreshold:  0.6,
			VoiceAnalyzerEnabled:     false,
			VoiceThreshold:           0.55,
			VoiceMinDialogues:        5,
			POVValidatorEnabled:      true,
			POVDefaultType:           "limited",
			SemanticValidatorEnabled: true,
			SemanticThreshold:        0.82,
			ChekhovEnabled:           true,
		},
		Maintenance: MaintenanceConfig{
			FactPromotionThreshold: 3,
			FactPromotionEvery:     6 * time.Hour,
			ReconcileEvery:         12 * time.Hour,
			ReconcileDiffThreshold: 5,
			RAGRebuildEvery:        24 * time.Hour,
			DraftMaxAgeDays:        14,
			DraftCleanupEvery:      24 * time.Hour,
		},
		Storage: StorageConfig{
			Path: "novellaforge.db",
		},
		Cache: CacheConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
			MemoryTTL: 30 * time.Minute,
			RAGTTL:    60 * time.Minute,
		},
	}
}
